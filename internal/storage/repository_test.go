package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tally/internal/core"
	"tally/internal/services"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleRule(owner string) core.RecurrenceRule {
	return core.RecurrenceRule{
		OwnerID:        owner,
		Name:           "Morning coffee",
		Description:    "Espresso on the way to work",
		Amount:         core.Money{Cents: 450},
		Category:       "Coffee",
		Frequency:      core.Weekly,
		Config:         core.FrequencyConfig{Interval: 1, Weekdays: []int{1, 3, 5}},
		StartDate:      core.NewDate(2025, 3, 1),
		Status:         core.StatusActive,
		IsActive:       true,
		NextOccurrence: core.NewDate(2025, 3, 3),
	}
}

func TestSQLiteRepository_CreateAndGetRule(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, sampleRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	if created.ID == 0 {
		t.Fatal("ID not assigned")
	}

	got, err := repo.GetRule(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}

	if got.Name != created.Name || got.Description != created.Description {
		t.Errorf("round trip name/description = %q/%q", got.Name, got.Description)
	}
	if got.Amount.Cents != 450 {
		t.Errorf("Amount.Cents = %d, want 450", got.Amount.Cents)
	}
	if got.Frequency != core.Weekly {
		t.Errorf("Frequency = %s, want weekly", got.Frequency)
	}
	if len(got.Config.Weekdays) != 3 || got.Config.Weekdays[1] != 3 {
		t.Errorf("Config.Weekdays = %v, want [1 3 5]", got.Config.Weekdays)
	}
	if !got.NextOccurrence.Equal(core.NewDate(2025, 3, 3)) {
		t.Errorf("NextOccurrence = %s, want 2025-03-03", got.NextOccurrence)
	}
	if !got.EndDate.IsZero() {
		t.Errorf("EndDate = %s, want zero", got.EndDate)
	}
	if !got.LastGenerated.IsZero() {
		t.Errorf("LastGenerated = %s, want zero", got.LastGenerated)
	}
}

func TestSQLiteRepository_OwnerIsolation(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, sampleRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	if _, err := repo.GetRule(ctx, "user-2", created.ID); !errors.Is(err, core.ErrRuleNotFound) {
		t.Errorf("GetRule() as other owner error = %v, want ErrRuleNotFound", err)
	}
	if err := repo.DeleteRule(ctx, "user-2", created.ID); !errors.Is(err, core.ErrRuleNotFound) {
		t.Errorf("DeleteRule() as other owner error = %v, want ErrRuleNotFound", err)
	}

	rules, err := repo.ListRules(ctx, "user-2")
	if err != nil {
		t.Fatalf("ListRules() error = %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("ListRules() for other owner = %d rules, want 0", len(rules))
	}
}

func TestSQLiteRepository_UpdateRule(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, sampleRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	created.Name = "Afternoon coffee"
	created.Amount = core.Money{Cents: 500}
	created.Status = core.StatusPaused
	created.IsActive = false

	updated, err := repo.UpdateRule(ctx, created)
	if err != nil {
		t.Fatalf("UpdateRule() error = %v", err)
	}
	if updated.Name != "Afternoon coffee" {
		t.Errorf("Name = %q, want Afternoon coffee", updated.Name)
	}

	got, err := repo.GetRule(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if got.Status != core.StatusPaused || got.IsActive {
		t.Errorf("status = %s/%v, want paused/false", got.Status, got.IsActive)
	}
	if got.Amount.Cents != 500 {
		t.Errorf("Amount.Cents = %d, want 500", got.Amount.Cents)
	}

	missing := sampleRule("user-1")
	missing.ID = 9999
	if _, err := repo.UpdateRule(ctx, missing); !errors.Is(err, core.ErrRuleNotFound) {
		t.Errorf("UpdateRule() missing rule error = %v, want ErrRuleNotFound", err)
	}
}

func TestSQLiteRepository_ListDueRules(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	due := sampleRule("user-1")
	due.NextOccurrence = core.NewDate(2025, 3, 1)
	if _, err := repo.CreateRule(ctx, due); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	future := sampleRule("user-1")
	future.Name = "Future"
	future.NextOccurrence = core.NewDate(2025, 6, 1)
	if _, err := repo.CreateRule(ctx, future); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	paused := sampleRule("user-1")
	paused.Name = "Paused"
	paused.Status = core.StatusPaused
	paused.IsActive = false
	paused.NextOccurrence = core.NewDate(2025, 3, 1)
	if _, err := repo.CreateRule(ctx, paused); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	rules, err := repo.ListDueRules(ctx, "user-1", core.NewDate(2025, 3, 15))
	if err != nil {
		t.Fatalf("ListDueRules() error = %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("ListDueRules() = %d rules, want 1", len(rules))
	}
	if rules[0].Name != "Morning coffee" {
		t.Errorf("due rule = %q, want Morning coffee", rules[0].Name)
	}

	owners, err := repo.ListOwnersWithDueRules(ctx, core.NewDate(2025, 3, 15))
	if err != nil {
		t.Fatalf("ListOwnersWithDueRules() error = %v", err)
	}
	if len(owners) != 1 || owners[0] != "user-1" {
		t.Errorf("owners = %v, want [user-1]", owners)
	}
}

func TestSQLiteRepository_AdvanceRule(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, sampleRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	adv := services.RuleAdvance{
		RuleID:         created.ID,
		OwnerID:        "user-1",
		ExpectedNext:   core.NewDate(2025, 3, 3),
		LastGenerated:  core.NewDate(2025, 3, 3),
		NextOccurrence: core.NewDate(2025, 3, 5),
		Status:         core.StatusActive,
		IsActive:       true,
	}

	advanced, err := repo.AdvanceRule(ctx, adv)
	if err != nil {
		t.Fatalf("AdvanceRule() error = %v", err)
	}
	if !advanced {
		t.Fatal("AdvanceRule() = false, want true")
	}

	got, err := repo.GetRule(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if !got.NextOccurrence.Equal(core.NewDate(2025, 3, 5)) {
		t.Errorf("NextOccurrence = %s, want 2025-03-05", got.NextOccurrence)
	}
	if !got.LastGenerated.Equal(core.NewDate(2025, 3, 3)) {
		t.Errorf("LastGenerated = %s, want 2025-03-03", got.LastGenerated)
	}
	if got.GenerationCount != 1 {
		t.Errorf("GenerationCount = %d, want 1", got.GenerationCount)
	}

	// Replaying the same advance misses the optimistic check.
	advanced, err = repo.AdvanceRule(ctx, adv)
	if err != nil {
		t.Fatalf("AdvanceRule() replay error = %v", err)
	}
	if advanced {
		t.Error("AdvanceRule() replay = true, want false")
	}

	got, _ = repo.GetRule(ctx, "user-1", created.ID)
	if got.GenerationCount != 1 {
		t.Errorf("GenerationCount after replay = %d, want 1", got.GenerationCount)
	}
}

func TestSQLiteRepository_AdvanceRule_EndsRule(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, sampleRule("user-1"))
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	advanced, err := repo.AdvanceRule(ctx, services.RuleAdvance{
		RuleID:         created.ID,
		OwnerID:        "user-1",
		ExpectedNext:   core.NewDate(2025, 3, 3),
		LastGenerated:  core.NewDate(2025, 3, 3),
		NextOccurrence: core.NewDate(2025, 3, 5),
		Status:         core.StatusEnded,
		IsActive:       false,
	})
	if err != nil || !advanced {
		t.Fatalf("AdvanceRule() = %v, %v", advanced, err)
	}

	got, _ := repo.GetRule(ctx, "user-1", created.ID)
	if got.Status != core.StatusEnded || got.IsActive {
		t.Errorf("status = %s/%v, want ended/false", got.Status, got.IsActive)
	}

	// Ended rules cannot be advanced again.
	advanced, err = repo.AdvanceRule(ctx, services.RuleAdvance{
		RuleID:         created.ID,
		OwnerID:        "user-1",
		ExpectedNext:   core.NewDate(2025, 3, 5),
		LastGenerated:  core.NewDate(2025, 3, 5),
		NextOccurrence: core.NewDate(2025, 3, 7),
		Status:         core.StatusActive,
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("AdvanceRule() error = %v", err)
	}
	if advanced {
		t.Error("AdvanceRule() on ended rule = true, want false")
	}
}

func TestSQLiteRepository_Expenses(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	drafts := []core.ExpenseDraft{
		{OwnerID: "user-1", Amount: core.Money{Cents: 450}, Category: "Coffee", Date: core.NewDate(2025, 3, 1), Note: "Morning coffee", SourceRuleID: 7},
		{OwnerID: "user-1", Amount: core.Money{Cents: 120000}, Category: "Rent", Date: core.NewDate(2025, 3, 3), Note: "March rent"},
		{OwnerID: "user-2", Amount: core.Money{Cents: 999}, Category: "Other", Date: core.NewDate(2025, 3, 2), Note: "Not mine"},
	}
	for _, d := range drafts {
		if _, err := repo.CreateExpense(ctx, d); err != nil {
			t.Fatalf("CreateExpense() error = %v", err)
		}
	}

	t.Run("range query", func(t *testing.T) {
		expenses, err := repo.ListExpenses(ctx, "user-1", core.NewDate(2025, 3, 1), core.NewDate(2025, 3, 31))
		if err != nil {
			t.Fatalf("ListExpenses() error = %v", err)
		}
		if len(expenses) != 2 {
			t.Fatalf("ListExpenses() = %d, want 2", len(expenses))
		}
		// Newest first.
		if !expenses[0].Date.Equal(core.NewDate(2025, 3, 3)) {
			t.Errorf("first expense date = %s, want 2025-03-03", expenses[0].Date)
		}
		if expenses[1].SourceRuleID != 7 {
			t.Errorf("SourceRuleID = %d, want 7", expenses[1].SourceRuleID)
		}
	})

	t.Run("open-ended bounds", func(t *testing.T) {
		expenses, err := repo.ListExpenses(ctx, "user-1", core.Date{}, core.Date{})
		if err != nil {
			t.Fatalf("ListExpenses() error = %v", err)
		}
		if len(expenses) != 2 {
			t.Errorf("ListExpenses() = %d, want 2", len(expenses))
		}
	})

	t.Run("narrow window", func(t *testing.T) {
		expenses, err := repo.ListExpenses(ctx, "user-1", core.NewDate(2025, 3, 2), core.NewDate(2025, 3, 31))
		if err != nil {
			t.Fatalf("ListExpenses() error = %v", err)
		}
		if len(expenses) != 1 || expenses[0].Category != "Rent" {
			t.Errorf("ListExpenses() = %v, want just the rent expense", expenses)
		}
	})
}

func TestSQLiteRepository_Categories(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	tests := []struct {
		name string
		want bool
	}{
		{"Coffee", true},
		{"coffee", true}, // NOCASE collation
		{"Rent", true},
		{"Yachts", false},
		{"", false},
	}
	for _, tt := range tests {
		valid, err := repo.IsValidCategory(ctx, tt.name)
		if err != nil {
			t.Fatalf("IsValidCategory(%q) error = %v", tt.name, err)
		}
		if valid != tt.want {
			t.Errorf("IsValidCategory(%q) = %v, want %v", tt.name, valid, tt.want)
		}
	}

	names, err := repo.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(names) == 0 {
		t.Error("ListCategories() returned no seeded categories")
	}
}
