package core

import "time"

// ExpenseDraft is the write contract consumed from the expense ledger: the
// payload for one generated occurrence.
type ExpenseDraft struct {
	OwnerID      string `json:"owner_id"`
	Amount       Money  `json:"amount"`
	Category     string `json:"category"`
	Date         Date   `json:"date"`
	Note         string `json:"note"`
	SourceRuleID int64  `json:"source_rule_id,omitempty"`
}

// Expense is an immutable ledger record. Rules only ever create these;
// deleting a rule leaves its generated expenses untouched.
type Expense struct {
	ID           int64     `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Amount       Money     `json:"amount"`
	Category     string    `json:"category"`
	Date         Date      `json:"date"`
	Note         string    `json:"note"`
	SourceRuleID int64     `json:"source_rule_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
