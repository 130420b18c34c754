package core

import (
	"testing"
)

func validRule() RecurrenceRule {
	return RecurrenceRule{
		Name:      "Morning coffee",
		Amount:    Money{Cents: 450},
		Category:  "Coffee",
		Frequency: Daily,
		Config:    FrequencyConfig{Interval: 1},
		StartDate: NewDate(2025, 3, 1),
		Status:    StatusActive,
		IsActive:  true,
	}
}

func TestRecurrenceRule_Validate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*RecurrenceRule)
		wantFields []string
	}{
		{
			name:   "valid daily",
			mutate: func(r *RecurrenceRule) {},
		},
		{
			name: "valid weekly",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Weekly
				r.Config = FrequencyConfig{Interval: 1, Weekdays: []int{1, 3, 5}}
			},
		},
		{
			name: "valid monthly",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Monthly
				r.Config = FrequencyConfig{Interval: 1, DayOfMonth: 31}
			},
		},
		{
			name: "valid yearly",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Yearly
				r.Config = FrequencyConfig{Month: 2, Day: 29}
			},
		},
		{
			name: "valid custom",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Custom
				r.Config = FrequencyConfig{IntervalDays: 10}
			},
		},
		{
			name:       "missing name",
			mutate:     func(r *RecurrenceRule) { r.Name = "  " },
			wantFields: []string{"name"},
		},
		{
			name:       "zero amount",
			mutate:     func(r *RecurrenceRule) { r.Amount = Money{} },
			wantFields: []string{"amount"},
		},
		{
			name:       "missing start date",
			mutate:     func(r *RecurrenceRule) { r.StartDate = Date{} },
			wantFields: []string{"start_date"},
		},
		{
			name:       "end date before start",
			mutate:     func(r *RecurrenceRule) { r.EndDate = NewDate(2025, 2, 1) },
			wantFields: []string{"end_date"},
		},
		{
			name:       "end date equals start",
			mutate:     func(r *RecurrenceRule) { r.EndDate = r.StartDate },
			wantFields: []string{"end_date"},
		},
		{
			name:       "negative max generations",
			mutate:     func(r *RecurrenceRule) { r.MaxGenerations = -1 },
			wantFields: []string{"max_generations"},
		},
		{
			name:       "daily interval zero",
			mutate:     func(r *RecurrenceRule) { r.Config.Interval = 0 },
			wantFields: []string{"frequency_config.interval"},
		},
		{
			name: "weekly without weekdays",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Weekly
				r.Config = FrequencyConfig{Interval: 1}
			},
			wantFields: []string{"frequency_config.days"},
		},
		{
			name: "weekly weekday out of range",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Weekly
				r.Config = FrequencyConfig{Interval: 1, Weekdays: []int{1, 7}}
			},
			wantFields: []string{"frequency_config.days"},
		},
		{
			name: "weekly duplicate weekday",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Weekly
				r.Config = FrequencyConfig{Interval: 1, Weekdays: []int{1, 1}}
			},
			wantFields: []string{"frequency_config.days"},
		},
		{
			name: "monthly day out of range",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Monthly
				r.Config = FrequencyConfig{Interval: 1, DayOfMonth: 32}
			},
			wantFields: []string{"frequency_config.day_of_month"},
		},
		{
			name: "yearly month out of range",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Yearly
				r.Config = FrequencyConfig{Month: 13, Day: 1}
			},
			wantFields: []string{"frequency_config.month"},
		},
		{
			name: "custom interval days zero",
			mutate: func(r *RecurrenceRule) {
				r.Frequency = Custom
				r.Config = FrequencyConfig{}
			},
			wantFields: []string{"frequency_config.interval_days"},
		},
		{
			name:       "unknown frequency",
			mutate:     func(r *RecurrenceRule) { r.Frequency = "fortnightly" },
			wantFields: []string{"frequency"},
		},
		{
			name: "multiple failures reported together",
			mutate: func(r *RecurrenceRule) {
				r.Name = ""
				r.Amount = Money{}
				r.Config.Interval = 0
			},
			wantFields: []string{"name", "amount", "frequency_config.interval"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(&rule)

			err := rule.Validate()
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}

			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			for _, want := range tt.wantFields {
				found := false
				for _, f := range verr.Fields {
					if f.Field == want {
						found = true
					}
				}
				if !found {
					t.Errorf("Validate() fields %v missing %q", verr.Fields, want)
				}
			}
		})
	}
}

func TestRecurrenceRule_MaxGenerationsReached(t *testing.T) {
	tests := []struct {
		name string
		max  int64
		cnt  int64
		want bool
	}{
		{"unlimited", 0, 100, false},
		{"under budget", 5, 4, false},
		{"at budget", 5, 5, true},
		{"over budget", 5, 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := RecurrenceRule{MaxGenerations: tt.max, GenerationCount: tt.cnt}
			if got := r.MaxGenerationsReached(); got != tt.want {
				t.Errorf("MaxGenerationsReached() = %v, want %v", got, tt.want)
			}
		})
	}
}
