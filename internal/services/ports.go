// Package services provides business logic and orchestration for the
// recurring-transaction domain: computing occurrence dates, generating due
// expenses and projecting upcoming ones.
package services

import (
	"context"
	"time"

	"tally/internal/core"
)

// RuleStore is the persistence contract for recurrence rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule core.RecurrenceRule) (core.RecurrenceRule, error)
	GetRule(ctx context.Context, ownerID string, id int64) (core.RecurrenceRule, error)
	ListRules(ctx context.Context, ownerID string) ([]core.RecurrenceRule, error)
	ListActiveRules(ctx context.Context, ownerID string) ([]core.RecurrenceRule, error)
	// ListDueRules returns active rules with next_occurrence_date <= asOf.
	ListDueRules(ctx context.Context, ownerID string, asOf core.Date) ([]core.RecurrenceRule, error)
	UpdateRule(ctx context.Context, rule core.RecurrenceRule) (core.RecurrenceRule, error)
	// AdvanceRule applies adv only if the rule's next_occurrence_date still
	// equals adv.ExpectedNext. It reports false when another caller advanced
	// the rule first.
	AdvanceRule(ctx context.Context, adv RuleAdvance) (bool, error)
	DeleteRule(ctx context.Context, ownerID string, id int64) error
}

// RuleAdvance is the conditional schedule-state update committed after a
// successful generation.
type RuleAdvance struct {
	RuleID         int64
	OwnerID        string
	ExpectedNext   core.Date // optimistic concurrency check
	LastGenerated  core.Date
	NextOccurrence core.Date
	Status         core.RuleStatus
	IsActive       bool
}

// ExpenseSink is the expense ledger's create contract, consumed when a due
// occurrence is generated.
type ExpenseSink interface {
	CreateExpense(ctx context.Context, draft core.ExpenseDraft) (core.Expense, error)
}

// CategoryProvider validates category names during rule validation.
type CategoryProvider interface {
	IsValidCategory(ctx context.Context, name string) (bool, error)
}

// EventPublisher announces generated expenses to downstream consumers
// (budget alerting, exports). Publishing is best-effort.
type EventPublisher interface {
	PublishExpenseGenerated(ctx context.Context, expense core.Expense) error
}

// Clock supplies the current date so services stay deterministic under test.
type Clock interface {
	Today() core.Date
}

// SystemClock is the wall-clock Clock used in production.
type SystemClock struct{}

func (SystemClock) Today() core.Date { return core.DateOf(time.Now()) }
