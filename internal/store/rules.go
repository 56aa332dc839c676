package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Rule operators. The ordering operators compare cells as amounts.
const (
	OpEquals    = "equals"
	OpNotEquals = "not_equals"
	OpContains  = "contains"
	OpGreater   = "greater"
	OpGreaterEq = "greater_eq"
	OpLess      = "less"
	OpLessEq    = "less_eq"
)

// PriorityRule overrides the pay-group priority of rows whose column matches.
// Rules are identified by column, operator and value; later rules win.
type PriorityRule struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Priority string `json:"priority"`
	Reason   string `json:"reason,omitempty"`
	Active   bool   `json:"active"`
}

func (s *Store) setupRuleTables() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS priority_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			column_name TEXT NOT NULL,
			operator TEXT NOT NULL,
			value TEXT NOT NULL,
			priority TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			UNIQUE (column_name, operator, value)
		)`,

		`CREATE TABLE IF NOT EXISTS autocomplete_lists (
			column_name TEXT PRIMARY KEY,
			vals TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute rule migration: %w", err)
		}
	}
	return nil
}

// validateRule normalizes rule and checks its operator, priority and value.
func validateRule(rule *PriorityRule) error {
	rule.Column = strings.TrimSpace(rule.Column)
	rule.Value = strings.TrimSpace(rule.Value)
	if rule.Operator == "" {
		rule.Operator = OpEquals
	}
	if rule.Column == "" {
		return fmt.Errorf("rule column is required: %w", ErrInvalidInput)
	}
	switch rule.Priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
	default:
		return fmt.Errorf("rule priority %q: %w", rule.Priority, ErrInvalidInput)
	}
	switch rule.Operator {
	case OpEquals, OpNotEquals, OpContains:
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		if _, err := strconv.ParseFloat(cleanAmount(rule.Value), 64); err != nil {
			return fmt.Errorf("rule value %q is not a number: %w", rule.Value, ErrInvalidInput)
		}
	default:
		return fmt.Errorf("rule operator %q: %w", rule.Operator, ErrInvalidInput)
	}
	return nil
}

// SavePriorityRule stores rule, replacing any rule with the same column, operator and value,
// and re-derives the priority of every row. It returns the datasets whose rows changed.
func (s *Store) SavePriorityRule(ctx context.Context, rule PriorityRule) ([]string, error) {
	if err := validateRule(&rule); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	// Re-saving moves the rule to the end so it takes precedence.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM priority_rules WHERE column_name = ? AND operator = ? AND value = ?`,
		rule.Column, rule.Operator, rule.Value,
	); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to replace rule: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO priority_rules (column_name, operator, value, priority, reason, active) VALUES (?, ?, ?, ?, ?, ?)`,
		rule.Column, rule.Operator, rule.Value, rule.Priority, rule.Reason, rule.Active,
	); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}
	return s.commitRederive(ctx, tx)
}

// DeletePriorityRule removes the rule identified by column, operator and value.
func (s *Store) DeletePriorityRule(ctx context.Context, column, operator, value string) ([]string, error) {
	column, operator, value = ruleKey(column, operator, value)
	return s.changeRule(ctx,
		`DELETE FROM priority_rules WHERE column_name = ? AND operator = ? AND value = ?`,
		column, operator, value)
}

// TogglePriorityRule activates or deactivates the rule identified by column, operator and value.
func (s *Store) TogglePriorityRule(ctx context.Context, column, operator, value string, active bool) ([]string, error) {
	column, operator, value = ruleKey(column, operator, value)
	return s.changeRule(ctx,
		`UPDATE priority_rules SET active = ? WHERE column_name = ? AND operator = ? AND value = ?`,
		active, column, operator, value)
}

func ruleKey(column, operator, value string) (string, string, string) {
	if operator == "" {
		operator = OpEquals
	}
	return strings.TrimSpace(column), operator, strings.TrimSpace(value)
}

func (s *Store) changeRule(ctx context.Context, stmt string, args ...interface{}) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("failed to change rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		rollback()
		return nil, fmt.Errorf("priority rule: %w", ErrNotFound)
	}
	return s.commitRederive(ctx, tx)
}

// ListPriorityRules returns all rules in the order they are applied.
func (s *Store) ListPriorityRules(ctx context.Context) ([]PriorityRule, error) {
	return listRules(ctx, s.db, false)
}

func listRules(ctx context.Context, q queryer, activeOnly bool) ([]PriorityRule, error) {
	query := `SELECT column_name, operator, value, priority, reason, active FROM priority_rules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []PriorityRule
	for rows.Next() {
		var r PriorityRule
		if err := rows.Scan(&r.Column, &r.Operator, &r.Value, &r.Priority, &r.Reason, &r.Active); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return out, nil
}

// commitRederive recomputes every row under the new rule set and commits tx.
func (s *Store) commitRederive(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rollback := func() { _ = tx.Rollback() }

	var ids []string
	rows, err := tx.QueryContext(ctx, `SELECT id FROM datasets ORDER BY created_at`)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			rollback()
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	var changed []string
	for _, id := range ids {
		ds, err := getDataset(ctx, tx, id)
		if err != nil {
			rollback()
			return nil, err
		}
		all, err := loadRows(ctx, tx, id)
		if err != nil {
			rollback()
			return nil, err
		}
		touched := false
		for i := range all {
			before := all[i].Priority
			deriveRow(ds, &all[i])
			if all[i].Priority == before {
				continue
			}
			if err := updateRow(ctx, tx, id, &all[i]); err != nil {
				rollback()
				return nil, err
			}
			touched = true
		}
		if touched {
			changed = append(changed, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return changed, nil
}

// applyRules returns the priority of the last active rule matching values, or fallback.
func applyRules(rules []PriorityRule, values map[string]string, fallback string) string {
	out := fallback
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		cell, ok := values[rule.Column]
		if !ok {
			continue
		}
		if ruleMatches(rule, cell) {
			out = rule.Priority
		}
	}
	return out
}

func ruleMatches(rule PriorityRule, cell string) bool {
	text := strings.ToLower(strings.TrimSpace(cell))
	want := strings.ToLower(rule.Value)
	switch rule.Operator {
	case OpEquals:
		return text == want
	case OpNotEquals:
		return text != want
	case OpContains:
		return strings.Contains(text, want)
	}

	limit, err := strconv.ParseFloat(cleanAmount(rule.Value), 64)
	if err != nil {
		return false
	}
	n := ParseAmount(cell)
	switch rule.Operator {
	case OpGreater:
		return n > limit
	case OpGreaterEq:
		return n >= limit
	case OpLess:
		return n < limit
	case OpLessEq:
		return n <= limit
	default:
		return false
	}
}
