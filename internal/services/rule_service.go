package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tally/internal/core"
)

// RuleService owns the user-facing lifecycle of recurrence rules: create,
// update, delete and read. All writes validate the full definition first;
// nothing is applied when any field fails.
type RuleService struct {
	store      RuleStore
	categories CategoryProvider
}

func NewRuleService(store RuleStore, categories CategoryProvider) *RuleService {
	return &RuleService{store: store, categories: categories}
}

// RuleDefinition carries the user-editable fields of a rule.
type RuleDefinition struct {
	Name           string
	Description    string
	Amount         core.Money
	Category       string
	Frequency      core.Frequency
	Config         core.FrequencyConfig
	StartDate      core.Date
	EndDate        core.Date
	MaxGenerations int64
}

// CreateRule validates the definition and persists a new active rule with
// its initial next_occurrence_date resolved from the start date.
func (s *RuleService) CreateRule(ctx context.Context, ownerID string, def RuleDefinition) (core.RecurrenceRule, error) {
	rule := def.apply(core.RecurrenceRule{
		OwnerID:  ownerID,
		Status:   core.StatusActive,
		IsActive: true,
	})

	if err := s.validate(ctx, rule); err != nil {
		return core.RecurrenceRule{}, err
	}

	first, err := FirstOccurrence(rule)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("resolve first occurrence: %w", err)
	}
	rule.NextOccurrence = first

	created, err := s.store.CreateRule(ctx, rule)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("create rule: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence rule created",
		"rule_id", created.ID,
		"owner_id", ownerID,
		"name", created.Name,
		"frequency", created.Frequency,
		"next_occurrence", created.NextOccurrence.String())

	return created, nil
}

// UpdateRule replaces a rule's definition. The next occurrence is recomputed
// when the frequency, its config or the start date changed: from the start
// date if the rule never generated, otherwise from the last generated date.
func (s *RuleService) UpdateRule(ctx context.Context, ownerID string, id int64, def RuleDefinition) (core.RecurrenceRule, error) {
	existing, err := s.store.GetRule(ctx, ownerID, id)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("get rule %d: %w", id, err)
	}

	rule := def.apply(existing)
	if err := s.validate(ctx, rule); err != nil {
		return core.RecurrenceRule{}, err
	}

	if scheduleChanged(existing, rule) {
		next, err := s.recomputeNext(rule)
		if err != nil {
			return core.RecurrenceRule{}, err
		}
		rule.NextOccurrence = next
		if !rule.Ended() && !rule.EndDate.IsZero() && next.After(rule.EndDate) {
			rule.Status = core.StatusEnded
			rule.IsActive = false
		}
	}

	updated, err := s.store.UpdateRule(ctx, rule)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("update rule %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Recurrence rule updated",
		"rule_id", id,
		"owner_id", ownerID,
		"next_occurrence", updated.NextOccurrence.String())

	return updated, nil
}

// DeleteRule removes a rule. Expenses it already generated are untouched.
func (s *RuleService) DeleteRule(ctx context.Context, ownerID string, id int64) error {
	if err := s.store.DeleteRule(ctx, ownerID, id); err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Recurrence rule deleted", "rule_id", id, "owner_id", ownerID)
	return nil
}

func (s *RuleService) GetRule(ctx context.Context, ownerID string, id int64) (core.RecurrenceRule, error) {
	return s.store.GetRule(ctx, ownerID, id)
}

func (s *RuleService) ListRules(ctx context.Context, ownerID string) ([]core.RecurrenceRule, error) {
	return s.store.ListRules(ctx, ownerID)
}

func (s *RuleService) validate(ctx context.Context, rule core.RecurrenceRule) error {
	err := rule.Validate()

	valid, catErr := s.categories.IsValidCategory(ctx, rule.Category)
	if catErr != nil {
		return fmt.Errorf("check category: %w", catErr)
	}
	if !valid {
		verr, ok := err.(*core.ValidationError)
		if !ok {
			verr = &core.ValidationError{}
		}
		verr.Fields = append(verr.Fields, core.FieldError{
			Field:   "category",
			Message: fmt.Sprintf("unknown category %q", rule.Category),
		})
		return verr
	}
	return err
}

func (s *RuleService) recomputeNext(rule core.RecurrenceRule) (core.Date, error) {
	if rule.LastGenerated.IsZero() {
		next, err := FirstOccurrence(rule)
		if err != nil {
			return core.Date{}, fmt.Errorf("resolve first occurrence: %w", err)
		}
		return next, nil
	}
	next, err := NextOccurrence(rule, rule.LastGenerated)
	if err != nil {
		return core.Date{}, fmt.Errorf("resolve next occurrence: %w", err)
	}
	return next, nil
}

func (d RuleDefinition) apply(rule core.RecurrenceRule) core.RecurrenceRule {
	rule.Name = strings.TrimSpace(d.Name)
	rule.Description = strings.TrimSpace(d.Description)
	rule.Amount = d.Amount
	rule.Category = strings.TrimSpace(d.Category)
	rule.Frequency = d.Frequency
	rule.Config = d.Config
	rule.StartDate = d.StartDate
	rule.EndDate = d.EndDate
	rule.MaxGenerations = d.MaxGenerations
	return rule
}

func scheduleChanged(before, after core.RecurrenceRule) bool {
	if before.Frequency != after.Frequency || !before.StartDate.Equal(after.StartDate) {
		return true
	}
	b, a := before.Config, after.Config
	if b.Interval != a.Interval || b.DayOfMonth != a.DayOfMonth ||
		b.Month != a.Month || b.Day != a.Day || b.IntervalDays != a.IntervalDays {
		return true
	}
	if len(b.Weekdays) != len(a.Weekdays) {
		return true
	}
	for i := range b.Weekdays {
		if b.Weekdays[i] != a.Weekdays[i] {
			return true
		}
	}
	return false
}
