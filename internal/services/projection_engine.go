package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"tally/internal/core"
)

// maxProjectedPerRule caps occurrence enumeration per rule. Validation
// rejects pathological configs, but a rule persisted before a validation
// fix must still not iterate unbounded.
const maxProjectedPerRule = 500

// UpcomingOccurrence is one projected (not generated) occurrence.
type UpcomingOccurrence struct {
	RuleID        int64      `json:"rule_id"`
	Name          string     `json:"name"`
	Amount        core.Money `json:"amount"`
	Category      string     `json:"category"`
	ProjectedDate core.Date  `json:"projected_date"`
}

// ProjectionEngine enumerates upcoming occurrences for preview. It performs
// no writes and is safe to call arbitrarily often.
type ProjectionEngine struct {
	store RuleStore
	clock Clock
}

func NewProjectionEngine(store RuleStore, clock Clock) *ProjectionEngine {
	return &ProjectionEngine{store: store, clock: clock}
}

// UpcomingOccurrences projects every occurrence of the owner's active rules
// falling within horizonDays from today, sorted ascending by date.
func (p *ProjectionEngine) UpcomingOccurrences(ctx context.Context, ownerID string, horizonDays int) ([]UpcomingOccurrence, error) {
	horizon := p.clock.Today().AddDays(horizonDays)

	rules, err := p.store.ListActiveRules(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}

	var upcoming []UpcomingOccurrence
	for _, rule := range rules {
		occurrences, err := projectRule(rule, horizon)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unprojectable rule",
				"rule_id", rule.ID,
				"error", err)
			continue
		}
		upcoming = append(upcoming, occurrences...)
	}

	sort.Slice(upcoming, func(i, j int) bool {
		if !upcoming[i].ProjectedDate.Equal(upcoming[j].ProjectedDate) {
			return upcoming[i].ProjectedDate.Before(upcoming[j].ProjectedDate)
		}
		return upcoming[i].RuleID < upcoming[j].RuleID
	})

	return upcoming, nil
}

func projectRule(rule core.RecurrenceRule, horizon core.Date) ([]UpcomingOccurrence, error) {
	remaining := int64(-1)
	if rule.MaxGenerations > 0 {
		remaining = rule.MaxGenerations - rule.GenerationCount
		if remaining <= 0 {
			return nil, nil
		}
	}

	var occurrences []UpcomingOccurrence
	date := rule.NextOccurrence
	for i := 0; i < maxProjectedPerRule; i++ {
		if date.IsZero() || date.After(horizon) {
			break
		}
		if !rule.EndDate.IsZero() && date.After(rule.EndDate) {
			break
		}
		occurrences = append(occurrences, UpcomingOccurrence{
			RuleID:        rule.ID,
			Name:          rule.Name,
			Amount:        rule.Amount,
			Category:      rule.Category,
			ProjectedDate: date,
		})
		if remaining > 0 {
			remaining--
			if remaining == 0 {
				break
			}
		}
		next, err := NextOccurrence(rule, date)
		if err != nil {
			return nil, err
		}
		date = next
	}

	return occurrences, nil
}
