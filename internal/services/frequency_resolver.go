// This file implements the Strategy Pattern for occurrence-date resolution.
// Each frequency type (daily, weekly, monthly, yearly, custom) has its own
// resolver that encapsulates the calendar arithmetic for that frequency.
//
// Chosen calendar policies:
//   - Weekly weeks are Sunday-anchored (weekday 0 = Sunday). A configured
//     weekday later in the current week is returned as-is; when the search
//     rolls past the end of the week it advances exactly `interval` weeks
//     and lands on the earliest configured weekday of that week.
//   - A monthly day_of_month (or yearly day) that exceeds the target month
//     is clamped to the month's last valid day, never rolled forward.

package services

import (
	"fmt"

	"tally/internal/core"
)

// OccurrenceResolver computes occurrence dates for one frequency type.
type OccurrenceResolver interface {
	// Next returns the first occurrence strictly after from.
	Next(cfg core.FrequencyConfig, from core.Date) core.Date
	// First returns the first occurrence on or after start.
	First(cfg core.FrequencyConfig, start core.Date) core.Date
}

type dailyResolver struct{}

func (dailyResolver) Next(cfg core.FrequencyConfig, from core.Date) core.Date {
	return from.AddDays(cfg.Interval)
}

func (dailyResolver) First(_ core.FrequencyConfig, start core.Date) core.Date {
	return start
}

type weeklyResolver struct{}

func (weeklyResolver) Next(cfg core.FrequencyConfig, from core.Date) core.Date {
	return nextConfiguredWeekday(cfg, from, from.Weekday()+1)
}

func (weeklyResolver) First(cfg core.FrequencyConfig, start core.Date) core.Date {
	return nextConfiguredWeekday(cfg, start, start.Weekday())
}

// nextConfiguredWeekday finds the earliest configured weekday >= minWeekday
// in from's week, or rolls forward interval weeks when none remains.
func nextConfiguredWeekday(cfg core.FrequencyConfig, from core.Date, minWeekday int) core.Date {
	weekStart := from.AddDays(-from.Weekday()) // Sunday of from's week

	thisWeek, earliest := -1, 7
	for _, wd := range cfg.Weekdays {
		if wd >= minWeekday && (thisWeek == -1 || wd < thisWeek) {
			thisWeek = wd
		}
		if wd < earliest {
			earliest = wd
		}
	}
	if thisWeek >= 0 {
		return weekStart.AddDays(thisWeek)
	}
	return weekStart.AddDays(cfg.Interval*7 + earliest)
}

type monthlyResolver struct{}

func (monthlyResolver) Next(cfg core.FrequencyConfig, from core.Date) core.Date {
	return from.AddMonthsClamped(cfg.Interval, cfg.DayOfMonth)
}

func (monthlyResolver) First(cfg core.FrequencyConfig, start core.Date) core.Date {
	candidate := start.WithDayClamped(cfg.DayOfMonth)
	if !candidate.Before(start) {
		return candidate
	}
	return start.AddMonthsClamped(cfg.Interval, cfg.DayOfMonth)
}

type yearlyResolver struct{}

// Yearly rules are single-interval: every occurrence is one year after the
// previous, on the configured month and (clamped) day.
func (yearlyResolver) Next(cfg core.FrequencyConfig, from core.Date) core.Date {
	return yearlyOn(from.Year()+1, cfg)
}

func (yearlyResolver) First(cfg core.FrequencyConfig, start core.Date) core.Date {
	candidate := yearlyOn(start.Year(), cfg)
	if !candidate.Before(start) {
		return candidate
	}
	return yearlyOn(start.Year()+1, cfg)
}

func yearlyOn(year int, cfg core.FrequencyConfig) core.Date {
	day := cfg.Day
	if last := core.DaysInMonth(year, cfg.Month); day > last {
		day = last
	}
	return core.NewDate(year, cfg.Month, day)
}

type customResolver struct{}

func (customResolver) Next(cfg core.FrequencyConfig, from core.Date) core.Date {
	return from.AddDays(cfg.IntervalDays)
}

func (customResolver) First(_ core.FrequencyConfig, start core.Date) core.Date {
	return start
}

// occurrenceResolvers maps frequency types to their resolvers.
var occurrenceResolvers = map[core.Frequency]OccurrenceResolver{
	core.Daily:   dailyResolver{},
	core.Weekly:  weeklyResolver{},
	core.Monthly: monthlyResolver{},
	core.Yearly:  yearlyResolver{},
	core.Custom:  customResolver{},
}

// GetResolver returns the resolver for a frequency type.
func GetResolver(frequency core.Frequency) (OccurrenceResolver, error) {
	resolver, ok := occurrenceResolvers[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownFrequency, frequency)
	}
	return resolver, nil
}

// NextOccurrence computes the rule's first occurrence strictly after from.
// It is a pure function: no state is read or written.
func NextOccurrence(rule core.RecurrenceRule, from core.Date) (core.Date, error) {
	resolver, err := GetResolver(rule.Frequency)
	if err != nil {
		return core.Date{}, err
	}
	return resolver.Next(rule.Config, from), nil
}

// FirstOccurrence computes the initial next_occurrence_date for a rule: the
// earliest occurrence on or after its start date, so a start date that
// itself matches the pattern is the first occurrence.
func FirstOccurrence(rule core.RecurrenceRule) (core.Date, error) {
	resolver, err := GetResolver(rule.Frequency)
	if err != nil {
		return core.Date{}, err
	}
	return resolver.First(rule.Config, rule.StartDate), nil
}
