package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tally/internal/core"
	"tally/internal/services"

	_ "modernc.org/sqlite"
)

// SQLiteRepository persists recurrence rules and the expense ledger. It
// implements services.RuleStore, services.ExpenseSink and
// services.CategoryProvider.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const ruleColumns = `id, owner_id, name, description, amount_cents, category,
	frequency, frequency_config, start_date, end_date, status, is_active,
	next_occurrence_date, last_generated_date, generation_count, max_generations,
	created_at, updated_at`

// CreateRule implements services.RuleStore.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.RecurrenceRule) (core.RecurrenceRule, error) {
	cfg, err := json.Marshal(rule.Config)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("marshal frequency config: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurrence_rules (
			owner_id, name, description, amount_cents, category,
			frequency, frequency_config, start_date, end_date, status, is_active,
			next_occurrence_date, last_generated_date, generation_count, max_generations,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.OwnerID, rule.Name, rule.Description, rule.Amount.Cents, rule.Category,
		string(rule.Frequency), string(cfg), rule.StartDate.String(), nullDate(rule.EndDate),
		string(rule.Status), rule.IsActive,
		rule.NextOccurrence.String(), nullDate(rule.LastGenerated),
		rule.GenerationCount, rule.MaxGenerations,
		now, now,
	)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("insert rule: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("rule insert id: %w", err)
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now

	slog.InfoContext(ctx, "Rule saved",
		"rule_id", id,
		"owner_id", rule.OwnerID,
		"name", rule.Name)

	return rule, nil
}

// GetRule implements services.RuleStore. Rules belonging to another owner
// are indistinguishable from missing ones.
func (r *SQLiteRepository) GetRule(ctx context.Context, ownerID string, id int64) (core.RecurrenceRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ? AND owner_id = ?`,
		id, ownerID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurrenceRule{}, core.ErrRuleNotFound
	}
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	return rule, nil
}

// ListRules implements services.RuleStore.
func (r *SQLiteRepository) ListRules(ctx context.Context, ownerID string) ([]core.RecurrenceRule, error) {
	return r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules WHERE owner_id = ? ORDER BY id`,
		ownerID)
}

// ListActiveRules implements services.RuleStore.
func (r *SQLiteRepository) ListActiveRules(ctx context.Context, ownerID string) ([]core.RecurrenceRule, error) {
	return r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules
		 WHERE owner_id = ? AND status = 'active' ORDER BY id`,
		ownerID)
}

// ListDueRules implements services.RuleStore. ISO dates compare
// lexicographically in chronological order.
func (r *SQLiteRepository) ListDueRules(ctx context.Context, ownerID string, asOf core.Date) ([]core.RecurrenceRule, error) {
	return r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules
		 WHERE owner_id = ? AND status = 'active' AND next_occurrence_date <= ?
		 ORDER BY next_occurrence_date, id`,
		ownerID, asOf.String())
}

// ListOwnersWithDueRules returns the distinct owners that have at least one
// due rule, for sweep scheduling across accounts.
func (r *SQLiteRepository) ListOwnersWithDueRules(ctx context.Context, asOf core.Date) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM recurrence_rules
		 WHERE status = 'active' AND next_occurrence_date <= ?
		 ORDER BY owner_id`,
		asOf.String())
	if err != nil {
		return nil, fmt.Errorf("list owners with due rules: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// UpdateRule implements services.RuleStore with a full-row update.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule core.RecurrenceRule) (core.RecurrenceRule, error) {
	cfg, err := json.Marshal(rule.Config)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("marshal frequency config: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurrence_rules SET
			name = ?, description = ?, amount_cents = ?, category = ?,
			frequency = ?, frequency_config = ?, start_date = ?, end_date = ?,
			status = ?, is_active = ?, next_occurrence_date = ?, last_generated_date = ?,
			generation_count = ?, max_generations = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		rule.Name, rule.Description, rule.Amount.Cents, rule.Category,
		string(rule.Frequency), string(cfg), rule.StartDate.String(), nullDate(rule.EndDate),
		string(rule.Status), rule.IsActive, rule.NextOccurrence.String(), nullDate(rule.LastGenerated),
		rule.GenerationCount, rule.MaxGenerations, now,
		rule.ID, rule.OwnerID,
	)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("update rule %d: %w", rule.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("update rule %d: %w", rule.ID, err)
	}
	if affected == 0 {
		return core.RecurrenceRule{}, core.ErrRuleNotFound
	}

	rule.UpdatedAt = now
	return rule, nil
}

// AdvanceRule implements services.RuleStore. The WHERE clause on
// next_occurrence_date is the optimistic concurrency check: a concurrent
// sweep that already advanced the rule leaves zero rows to update.
func (r *SQLiteRepository) AdvanceRule(ctx context.Context, adv services.RuleAdvance) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurrence_rules SET
			last_generated_date = ?,
			next_occurrence_date = ?,
			generation_count = generation_count + 1,
			status = ?,
			is_active = ?,
			updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = 'active' AND next_occurrence_date = ?`,
		adv.LastGenerated.String(), adv.NextOccurrence.String(),
		string(adv.Status), adv.IsActive, time.Now().UTC(),
		adv.RuleID, adv.OwnerID, adv.ExpectedNext.String(),
	)
	if err != nil {
		return false, fmt.Errorf("advance rule %d: %w", adv.RuleID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance rule %d: %w", adv.RuleID, err)
	}
	return affected == 1, nil
}

// DeleteRule implements services.RuleStore. Generated expenses keep their
// source_rule_id; nothing cascades.
func (r *SQLiteRepository) DeleteRule(ctx context.Context, ownerID string, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM recurrence_rules WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	if affected == 0 {
		return core.ErrRuleNotFound
	}
	return nil
}

// CreateExpense implements services.ExpenseSink.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, draft core.ExpenseDraft) (core.Expense, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (owner_id, amount_cents, category, date, note, source_rule_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		draft.OwnerID, draft.Amount.Cents, draft.Category, draft.Date.String(),
		draft.Note, nullInt(draft.SourceRuleID), now,
	)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense insert id: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"expense_id", id,
		"owner_id", draft.OwnerID,
		"amount_cents", draft.Amount.Cents,
		"date", draft.Date.String(),
		"source_rule_id", draft.SourceRuleID)

	return core.Expense{
		ID:           id,
		OwnerID:      draft.OwnerID,
		Amount:       draft.Amount,
		Category:     draft.Category,
		Date:         draft.Date,
		Note:         draft.Note,
		SourceRuleID: draft.SourceRuleID,
		CreatedAt:    now,
	}, nil
}

// ListExpenses returns an owner's expenses within [from, to], newest first.
// A zero bound leaves that side of the range open.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, ownerID string, from, to core.Date) ([]core.Expense, error) {
	query := `
		SELECT id, owner_id, amount_cents, category, date, note, source_rule_id, created_at
		FROM expenses
		WHERE owner_id = ?`
	args := []any{ownerID}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY date DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		var (
			e          core.Expense
			dateStr    string
			sourceRule sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Amount.Cents, &e.Category,
			&dateStr, &e.Note, &sourceRule, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		if e.Date, err = core.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("expense %d: %w", e.ID, err)
		}
		e.SourceRuleID = sourceRule.Int64
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// IsValidCategory implements services.CategoryProvider. Category names match
// case-insensitively (NOCASE collation on the column).
func (r *SQLiteRepository) IsValidCategory(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM categories WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check category %q: %w", name, err)
	}
	return true, nil
}

// ListCategories returns the known category names.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *SQLiteRepository) queryRules(ctx context.Context, query string, args ...any) ([]core.RecurrenceRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []core.RecurrenceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (core.RecurrenceRule, error) {
	var (
		rule          core.RecurrenceRule
		frequency     string
		cfgJSON       string
		status        string
		startDate     string
		nextDate      string
		endDate       sql.NullString
		lastGenerated sql.NullString
	)
	err := row.Scan(
		&rule.ID, &rule.OwnerID, &rule.Name, &rule.Description,
		&rule.Amount.Cents, &rule.Category,
		&frequency, &cfgJSON, &startDate, &endDate, &status, &rule.IsActive,
		&nextDate, &lastGenerated, &rule.GenerationCount, &rule.MaxGenerations,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return core.RecurrenceRule{}, err
	}

	rule.Frequency = core.Frequency(frequency)
	rule.Status = core.RuleStatus(status)
	if err := json.Unmarshal([]byte(cfgJSON), &rule.Config); err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("rule %d: unmarshal frequency config: %w", rule.ID, err)
	}
	if rule.StartDate, err = core.ParseDate(startDate); err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("rule %d: %w", rule.ID, err)
	}
	if rule.NextOccurrence, err = core.ParseDate(nextDate); err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("rule %d: %w", rule.ID, err)
	}
	if endDate.Valid {
		if rule.EndDate, err = core.ParseDate(endDate.String); err != nil {
			return core.RecurrenceRule{}, fmt.Errorf("rule %d: %w", rule.ID, err)
		}
	}
	if lastGenerated.Valid {
		if rule.LastGenerated, err = core.ParseDate(lastGenerated.String); err != nil {
			return core.RecurrenceRule{}, fmt.Errorf("rule %d: %w", rule.ID, err)
		}
	}
	return rule, nil
}

func nullDate(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
