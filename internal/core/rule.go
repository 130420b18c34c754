package core

import (
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
	Custom  Frequency = "custom"
)

const (
	StatusActive RuleStatus = "active"
	StatusPaused RuleStatus = "paused"
	StatusEnded  RuleStatus = "ended"
)

type (
	Frequency  string
	RuleStatus string

	// FrequencyConfig is the variant payload of a rule. Only the fields that
	// belong to the rule's frequency are set; Validate enforces the shape.
	FrequencyConfig struct {
		Interval     int   `json:"interval,omitempty"`      // daily, weekly, monthly: every N periods
		Weekdays     []int `json:"days,omitempty"`          // weekly: 0=Sunday .. 6=Saturday
		DayOfMonth   int   `json:"day_of_month,omitempty"`  // monthly
		Month        int   `json:"month,omitempty"`         // yearly
		Day          int   `json:"day,omitempty"`           // yearly
		IntervalDays int   `json:"interval_days,omitempty"` // custom: every N days
	}

	// RecurrenceRule is a user-defined repeating schedule plus the expense
	// template it stamps out on each occurrence.
	RecurrenceRule struct {
		ID          int64  `json:"id"`
		OwnerID     string `json:"owner_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Amount      Money  `json:"amount"`
		Category    string `json:"category"`

		Frequency Frequency       `json:"frequency"`
		Config    FrequencyConfig `json:"frequency_config"`
		StartDate Date            `json:"start_date"`
		EndDate   Date            `json:"end_date"`

		Status          RuleStatus `json:"status"`
		IsActive        bool       `json:"is_active"`
		NextOccurrence  Date       `json:"next_occurrence_date"`
		LastGenerated   Date       `json:"last_generated_date"`
		GenerationCount int64      `json:"generation_count"`
		MaxGenerations  int64      `json:"max_generations,omitempty"` // 0 = unlimited

		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
)

// Validate checks the rule definition and returns a *ValidationError listing
// every offending field, or nil. Category existence is checked separately
// against the category collaborator.
func (r RecurrenceRule) Validate() error {
	var verr ValidationError

	if strings.TrimSpace(r.Name) == "" {
		verr.add("name", "name is required")
	}
	if r.Amount.Cents <= 0 {
		verr.add("amount", "amount must be greater than zero")
	}
	if r.StartDate.IsZero() {
		verr.add("start_date", "start date is required")
	}
	if !r.EndDate.IsZero() && !r.EndDate.After(r.StartDate) {
		verr.add("end_date", "end date must be after start date")
	}
	if r.MaxGenerations < 0 {
		verr.add("max_generations", "max generations cannot be negative")
	}

	r.validateConfig(&verr)

	return verr.orNil()
}

func (r RecurrenceRule) validateConfig(verr *ValidationError) {
	cfg := r.Config
	switch r.Frequency {
	case Daily:
		if cfg.Interval < 1 {
			verr.add("frequency_config.interval", "interval must be at least 1")
		}
	case Weekly:
		if cfg.Interval < 1 {
			verr.add("frequency_config.interval", "interval must be at least 1")
		}
		if len(cfg.Weekdays) == 0 {
			verr.add("frequency_config.days", "at least one weekday is required")
		}
		seen := make(map[int]bool, len(cfg.Weekdays))
		for _, wd := range cfg.Weekdays {
			if wd < 0 || wd > 6 {
				verr.add("frequency_config.days", "weekday %d out of range 0-6", wd)
			} else if seen[wd] {
				verr.add("frequency_config.days", "weekday %d listed twice", wd)
			}
			seen[wd] = true
		}
	case Monthly:
		if cfg.Interval < 1 {
			verr.add("frequency_config.interval", "interval must be at least 1")
		}
		if cfg.DayOfMonth < 1 || cfg.DayOfMonth > 31 {
			verr.add("frequency_config.day_of_month", "day of month must be between 1 and 31")
		}
	case Yearly:
		if cfg.Month < 1 || cfg.Month > 12 {
			verr.add("frequency_config.month", "month must be between 1 and 12")
		}
		if cfg.Day < 1 || cfg.Day > 31 {
			verr.add("frequency_config.day", "day must be between 1 and 31")
		}
	case Custom:
		if cfg.IntervalDays < 1 {
			verr.add("frequency_config.interval_days", "interval days must be at least 1")
		}
	default:
		verr.add("frequency", "unknown frequency %q", r.Frequency)
	}
}

// Ended reports whether the rule can never generate again.
func (r RecurrenceRule) Ended() bool {
	return r.Status == StatusEnded
}

// MaxGenerationsReached reports whether the generation budget is exhausted.
func (r RecurrenceRule) MaxGenerationsReached() bool {
	return r.MaxGenerations > 0 && r.GenerationCount >= r.MaxGenerations
}
