package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"tally/internal/core"
)

// maxOccurrencesPerRun caps how many occurrences a single rule can catch up
// in one sweep, so a misconfigured rule can never stall the batch.
const maxOccurrencesPerRun = 500

// defaultRuleParallelism bounds concurrent per-rule workers in a sweep.
const defaultRuleParallelism = 4

// RunSummary reports the outcome of one generation sweep. A sweep always
// returns a summary; per-rule failures never abort the batch.
type RunSummary struct {
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Generated  []core.Expense `json:"generated"`
	Errors     []RuleError    `json:"errors"`
}

// RuleError records a generation failure for a single rule.
type RuleError struct {
	RuleID int64  `json:"rule_id"`
	Error  string `json:"error"`
}

// SchedulerService finds due rules, writes generated expenses through the
// ledger and advances rule schedule state. Advancement uses an optimistic
// concurrency check so concurrent sweeps never both advance a rule from the
// same due date.
type SchedulerService struct {
	store       RuleStore
	sink        ExpenseSink
	events      EventPublisher // optional
	clock       Clock
	parallelism int
}

// NewSchedulerService creates a scheduler. events may be nil when no
// downstream consumer is configured.
func NewSchedulerService(store RuleStore, sink ExpenseSink, events EventPublisher, clock Clock) *SchedulerService {
	return &SchedulerService{
		store:       store,
		sink:        sink,
		events:      events,
		clock:       clock,
		parallelism: defaultRuleParallelism,
	}
}

// WithParallelism bounds how many rules a sweep works on concurrently.
// Values below 1 are ignored.
func (s *SchedulerService) WithParallelism(n int) *SchedulerService {
	if n >= 1 {
		s.parallelism = n
	}
	return s
}

// GenerateDueOccurrences generates an expense for every occurrence of the
// owner's active rules that is due on or before asOf (catching up overdue
// occurrences one by one) and advances each rule's schedule state. A zero
// asOf means today.
func (s *SchedulerService) GenerateDueOccurrences(ctx context.Context, ownerID string, asOf core.Date) (RunSummary, error) {
	if asOf.IsZero() {
		asOf = s.clock.Today()
	}

	rules, err := s.store.ListDueRules(ctx, ownerID, asOf)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list due rules: %w", err)
	}

	slog.InfoContext(ctx, "Generating due occurrences",
		"owner_id", ownerID,
		"as_of", asOf.String(),
		"due_rules", len(rules))

	var (
		mu      sync.Mutex
		summary RunSummary
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for _, rule := range rules {
		g.Go(func() error {
			generated, err := s.catchUpRule(ctx, rule, asOf)

			mu.Lock()
			defer mu.Unlock()
			summary.Generated = append(summary.Generated, generated...)
			summary.Successful += len(generated)
			if err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, RuleError{RuleID: rule.ID, Error: err.Error()})
				slog.ErrorContext(ctx, "Rule generation failed, will retry next sweep",
					"rule_id", rule.ID,
					"rule_name", rule.Name,
					"error", err)
			}
			// Per-rule errors are recorded in the summary, never returned,
			// so one misbehaving rule cannot abort the others.
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summary.Generated, func(i, j int) bool {
		a, b := summary.Generated[i], summary.Generated[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.SourceRuleID < b.SourceRuleID
	})

	slog.InfoContext(ctx, "Generation sweep complete",
		"owner_id", ownerID,
		"generated", summary.Successful,
		"failed", summary.Failed)

	return summary, nil
}

// catchUpRule generates every occurrence of one rule due on or before asOf.
// On a ledger failure the rule's state is left untouched so the occurrence
// is retried on the next sweep.
func (s *SchedulerService) catchUpRule(ctx context.Context, rule core.RecurrenceRule, asOf core.Date) ([]core.Expense, error) {
	var generated []core.Expense

	for i := 0; i < maxOccurrencesPerRun; i++ {
		if rule.Status != core.StatusActive {
			break
		}
		due := rule.NextOccurrence
		if due.IsZero() || due.After(asOf) {
			break
		}

		expense, err := s.sink.CreateExpense(ctx, core.ExpenseDraft{
			OwnerID:      rule.OwnerID,
			Amount:       rule.Amount,
			Category:     rule.Category,
			Date:         due,
			Note:         rule.Name,
			SourceRuleID: rule.ID,
		})
		if err != nil {
			return generated, fmt.Errorf("create expense for occurrence %s: %w", due, err)
		}

		next, err := NextOccurrence(rule, due)
		if err != nil {
			return generated, fmt.Errorf("resolve next occurrence: %w", err)
		}

		status, isActive := core.StatusActive, true
		newCount := rule.GenerationCount + 1
		if (rule.MaxGenerations > 0 && newCount >= rule.MaxGenerations) ||
			(!rule.EndDate.IsZero() && next.After(rule.EndDate)) {
			status, isActive = core.StatusEnded, false
		}

		advanced, err := s.store.AdvanceRule(ctx, RuleAdvance{
			RuleID:         rule.ID,
			OwnerID:        rule.OwnerID,
			ExpectedNext:   due,
			LastGenerated:  due,
			NextOccurrence: next,
			Status:         status,
			IsActive:       isActive,
		})
		if err != nil {
			return generated, fmt.Errorf("advance rule: %w", err)
		}
		if !advanced {
			// Another sweep advanced this rule from the same due date first.
			// Benign: stop here and let that sweep own the catch-up.
			slog.InfoContext(ctx, "Rule already advanced by a concurrent sweep, skipping",
				"rule_id", rule.ID,
				"occurrence", due.String())
			break
		}

		generated = append(generated, expense)
		s.publishGenerated(ctx, expense)

		rule.LastGenerated = due
		rule.NextOccurrence = next
		rule.GenerationCount = newCount
		rule.Status = status
		rule.IsActive = isActive

		slog.InfoContext(ctx, "Generated expense from rule",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"expense_id", expense.ID,
			"occurrence", due.String(),
			"next_occurrence", next.String(),
			"generation_count", newCount)
	}

	return generated, nil
}

func (s *SchedulerService) publishGenerated(ctx context.Context, expense core.Expense) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishExpenseGenerated(ctx, expense); err != nil {
		// The expense is committed; downstream consumers reconcile from the
		// ledger, so a lost event is not worth failing the sweep over.
		slog.WarnContext(ctx, "Failed to publish generation event",
			"expense_id", expense.ID,
			"error", err)
	}
}

// ToggleRuleActive flips a rule between active and paused without touching
// its next occurrence. Ended rules cannot be toggled.
func (s *SchedulerService) ToggleRuleActive(ctx context.Context, ownerID string, id int64, active bool) (core.RecurrenceRule, error) {
	rule, err := s.store.GetRule(ctx, ownerID, id)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	if rule.Ended() {
		return core.RecurrenceRule{}, &core.ValidationError{Fields: []core.FieldError{
			{Field: "status", Message: "rule has ended and cannot be reactivated"},
		}}
	}

	if active {
		rule.Status = core.StatusActive
	} else {
		rule.Status = core.StatusPaused
	}
	rule.IsActive = active

	updated, err := s.store.UpdateRule(ctx, rule)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("update rule %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Rule toggled",
		"rule_id", id,
		"active", active)

	return updated, nil
}
