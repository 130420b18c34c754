package amqp

import (
	"encoding/json"
	"time"

	"tally/internal/core"
)

// ExpenseGeneratedMessage announces an expense created from a recurrence rule.
// Consumers (budget alerting, export workers) fetch the full expense from the
// database when they need more than what is carried here.
type ExpenseGeneratedMessage struct {
	ExpenseID   int64     `json:"expense_id"`
	RuleID      int64     `json:"rule_id"`
	OwnerID     string    `json:"owner_id"`
	AmountCents int64     `json:"amount_cents"`
	Category    string    `json:"category"`
	Date        string    `json:"date"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewExpenseGeneratedMessage builds a message from a generated expense.
func NewExpenseGeneratedMessage(expense core.Expense) *ExpenseGeneratedMessage {
	return &ExpenseGeneratedMessage{
		ExpenseID:   expense.ID,
		RuleID:      expense.SourceRuleID,
		OwnerID:     expense.OwnerID,
		AmountCents: expense.Amount.Cents,
		Category:    expense.Category,
		Date:        expense.Date.String(),
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseGeneratedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseGeneratedMessageFromJSON creates a message from JSON bytes
func ExpenseGeneratedMessageFromJSON(data []byte) (*ExpenseGeneratedMessage, error) {
	var msg ExpenseGeneratedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
