package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SaveAutocompleteLists replaces the user-maintained suggestion lists. Lists are keyed by
// column name and merged into every dataset that has the column.
func (s *Store) SaveAutocompleteLists(ctx context.Context, lists map[string][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	if _, err := tx.ExecContext(ctx, `DELETE FROM autocomplete_lists`); err != nil {
		rollback()
		return fmt.Errorf("failed to clear autocomplete lists: %w", err)
	}
	for column, values := range lists {
		column = strings.TrimSpace(column)
		if column == "" {
			rollback()
			return fmt.Errorf("autocomplete list without column: %w", ErrInvalidInput)
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				cleaned = append(cleaned, v)
			}
		}
		data, err := json.Marshal(cleaned)
		if err != nil {
			rollback()
			return fmt.Errorf("failed to marshal autocomplete list: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO autocomplete_lists (column_name, vals) VALUES (?, ?)`, column, string(data),
		); err != nil {
			rollback()
			return fmt.Errorf("failed to save autocomplete list %q: %w", column, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// AutocompleteLists returns the user-maintained suggestion lists.
func (s *Store) AutocompleteLists(ctx context.Context) (map[string][]string, error) {
	return autocompleteLists(ctx, s.db)
}

func autocompleteLists(ctx context.Context, q queryer) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT column_name, vals FROM autocomplete_lists ORDER BY column_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query autocomplete lists: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var column, data string
		if err := rows.Scan(&column, &data); err != nil {
			return nil, fmt.Errorf("failed to scan autocomplete list: %w", err)
		}
		var values []string
		if err := json.Unmarshal([]byte(data), &values); err != nil {
			return nil, fmt.Errorf("failed to decode autocomplete list %q: %w", column, err)
		}
		out[column] = values
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate autocomplete lists: %w", err)
	}
	return out, nil
}
