package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

type bulkChange struct {
	RowID    int64       `json:"row_id"`
	OldValue string      `json:"old_value,omitempty"`
	Deleted  *deletedRow `json:"deleted,omitempty"`
}

// BulkUpdate writes value into column for every selected row. Rows that already hold
// value are skipped; the rest are recorded as a single undo entry.
func (s *Store) BulkUpdate(ctx context.Context, datasetID string, rowIDs []int64, column, value, actor string) (*MutationResult, error) {
	return s.bulkRewrite(ctx, datasetID, rowIDs, column, actor,
		map[string]interface{}{"column": column, "new_value": value},
		func(string) (string, bool) { return value, true })
}

// FindReplace replaces column cells of the selected rows whose trimmed value equals find.
// Matching is exact and case-sensitive. All replacements share one undo entry.
func (s *Store) FindReplace(ctx context.Context, datasetID string, rowIDs []int64, column, find, replace, actor string) (*MutationResult, error) {
	find = strings.TrimSpace(find)
	if find == "" {
		return nil, fmt.Errorf("find text is required: %w", ErrInvalidInput)
	}
	return s.bulkRewrite(ctx, datasetID, rowIDs, column, actor,
		map[string]interface{}{"column": column, "find": find, "replace": replace},
		func(old string) (string, bool) { return replace, strings.TrimSpace(old) == find })
}

// bulkRewrite applies rewrite to column of each selected row. rewrite reports false to leave a cell alone.
func (s *Store) bulkRewrite(ctx context.Context, datasetID string, rowIDs []int64, column, actor string,
	details map[string]interface{}, rewrite func(old string) (string, bool)) (*MutationResult, error) {
	ids, err := normalizeSelection(rowIDs)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	ds, err := getDataset(ctx, tx, datasetID)
	if err != nil {
		rollback()
		return nil, err
	}
	if err := checkEditable(ds, column); err != nil {
		rollback()
		return nil, err
	}
	rows, err := getRows(ctx, tx, datasetID, ids)
	if err != nil {
		rollback()
		return nil, err
	}

	var changes []bulkChange
	for _, row := range rows {
		old := row.Values[column]
		next, ok := rewrite(old)
		if !ok || next == old {
			continue
		}
		row.Values[column] = next
		deriveRow(ds, row)
		if err := updateRow(ctx, tx, datasetID, row); err != nil {
			rollback()
			return nil, err
		}
		changes = append(changes, bulkChange{RowID: row.ID, OldValue: old})
	}
	if len(changes) == 0 {
		res, err := s.finish(ctx, tx, datasetID, &MutationResult{Action: ActionBulkUpdate})
		if err != nil {
			rollback()
			return nil, err
		}
		return res, nil
	}

	entry := historyEntry{Action: ActionBulkUpdate, RowID: maxChangedID(changes), Column: column, Bulk: changes}
	if err := s.pushHistory(ctx, tx, datasetID, entry); err != nil {
		rollback()
		return nil, err
	}
	details["rows"] = changedIDs(changes)
	if err := addAuditEntry(ctx, tx, AuditEntry{
		DatasetID: datasetID,
		Action:    ActionBulkUpdate,
		Actor:     actor,
		Details:   details,
	}); err != nil {
		rollback()
		return nil, err
	}

	res, err := s.finish(ctx, tx, datasetID, &MutationResult{Changed: true, Action: ActionBulkUpdate, Affected: len(changes)})
	if err != nil {
		rollback()
		return nil, err
	}
	return res, nil
}

// BulkDelete removes every selected row as one undoable mutation. Unknown IDs fail the whole call.
func (s *Store) BulkDelete(ctx context.Context, datasetID string, rowIDs []int64, actor string) (*MutationResult, error) {
	ids, err := normalizeSelection(rowIDs)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	if _, err := getDataset(ctx, tx, datasetID); err != nil {
		rollback()
		return nil, err
	}
	rows, err := getRows(ctx, tx, datasetID, ids)
	if err != nil {
		rollback()
		return nil, err
	}

	changes := make([]bulkChange, 0, len(rows))
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rows WHERE dataset_id = ? AND row_id = ?`, datasetID, row.ID); err != nil {
			rollback()
			return nil, fmt.Errorf("failed to delete row %d: %w", row.ID, err)
		}
		changes = append(changes, bulkChange{
			RowID:   row.ID,
			Deleted: &deletedRow{Position: row.Position, Values: row.Values},
		})
	}

	entry := historyEntry{Action: ActionBulkDelete, RowID: maxChangedID(changes), Bulk: changes}
	if err := s.pushHistory(ctx, tx, datasetID, entry); err != nil {
		rollback()
		return nil, err
	}
	if err := addAuditEntry(ctx, tx, AuditEntry{
		DatasetID: datasetID,
		Action:    ActionBulkDelete,
		Actor:     actor,
		Details:   map[string]interface{}{"rows": changedIDs(changes)},
	}); err != nil {
		rollback()
		return nil, err
	}

	res, err := s.finish(ctx, tx, datasetID, &MutationResult{Changed: true, Action: ActionBulkDelete, Affected: len(changes)})
	if err != nil {
		rollback()
		return nil, err
	}
	return res, nil
}

func undoBulkUpdate(ctx context.Context, tx *sql.Tx, ds *Dataset, entry historyEntry) error {
	for _, c := range entry.Bulk {
		row, err := getRow(ctx, tx, ds.ID, c.RowID)
		if err != nil {
			return err
		}
		row.Values[entry.Column] = c.OldValue
		deriveRow(ds, row)
		if err := updateRow(ctx, tx, ds.ID, row); err != nil {
			return err
		}
	}
	return nil
}

func undoBulkDelete(ctx context.Context, tx *sql.Tx, ds *Dataset, entry historyEntry) error {
	for _, c := range entry.Bulk {
		if c.Deleted == nil {
			return fmt.Errorf("bulk delete of row %d has no deleted row", c.RowID)
		}
		row := &Row{ID: c.RowID, Position: c.Deleted.Position, Values: c.Deleted.Values}
		if row.Values == nil {
			row.Values = map[string]string{}
		}
		deriveRow(ds, row)
		if err := insertRow(ctx, tx, ds.ID, row); err != nil {
			return err
		}
	}
	return nil
}

// checkEditable rejects derived, unknown and read-only columns.
func checkEditable(ds *Dataset, column string) error {
	if isDerivedColumn(column) {
		return fmt.Errorf("column %q: %w", column, ErrReadOnlyColumn)
	}
	col := ds.column(column)
	if col == nil {
		return fmt.Errorf("column %q: %w", column, ErrUnknownColumn)
	}
	if !col.Editable {
		return fmt.Errorf("column %q: %w", column, ErrReadOnlyColumn)
	}
	return nil
}

// normalizeSelection sorts and dedupes row IDs.
func normalizeSelection(rowIDs []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(rowIDs))
	out := make([]int64, 0, len(rowIDs))
	for _, id := range rowIDs {
		if id <= 0 {
			return nil, fmt.Errorf("row id %d: %w", id, ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no rows selected: %w", ErrInvalidInput)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func getRows(ctx context.Context, q queryer, datasetID string, ids []int64) ([]*Row, error) {
	out := make([]*Row, 0, len(ids))
	for _, id := range ids {
		row, err := getRow(ctx, q, datasetID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func maxChangedID(changes []bulkChange) int64 {
	var top int64
	for _, c := range changes {
		if c.RowID > top {
			top = c.RowID
		}
	}
	return top
}

func changedIDs(changes []bulkChange) []int64 {
	out := make([]int64, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.RowID)
	}
	return out
}
