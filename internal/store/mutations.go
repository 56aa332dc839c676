package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// History actions.
const (
	ActionUpdate = "update"
	ActionAdd    = "add"
	ActionDelete = "delete"
	ActionUndo   = "undo"
	ActionCommit = "commit"

	ActionBulkUpdate = "bulk_update"
	ActionBulkDelete = "bulk_delete"
)

// MutationResult reports the authoritative state after a mutation.
type MutationResult struct {
	// Changed is false when an update wrote the value the cell already had.
	Changed bool
	// Action is the history action that was applied or, for Undo, reverted.
	Action string
	// Row is the row after an update or add.
	Row *Row
	// AffectedRowID is the row an undo restored, nil when the undone action was an add
	// or touched several rows.
	AffectedRowID *int64
	// Affected counts the rows a bulk mutation or its undo touched.
	Affected int
	Depth    int
	Kpis     Kpis
}

type historyEntry struct {
	Action   string      `json:"action"`
	RowID    int64       `json:"row_id"`
	Column   string      `json:"column,omitempty"`
	OldValue string      `json:"old_value,omitempty"`
	NewValue string      `json:"new_value,omitempty"`
	Deleted  *deletedRow `json:"deleted,omitempty"`
	// Bulk holds one change per touched row. RowID is then the highest touched ID.
	Bulk []bulkChange `json:"bulk,omitempty"`
}

type deletedRow struct {
	Position int64             `json:"position"`
	Values   map[string]string `json:"values"`
}

// UpdateCell writes value into one user cell and records the change for undo.
func (s *Store) UpdateCell(ctx context.Context, datasetID string, rowID int64, column, value, actor string) (*MutationResult, error) {
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

	row, err := getRow(ctx, tx, datasetID, rowID)
	if err != nil {
		rollback()
		return nil, err
	}

	old := row.Values[column]
	if old == value {
		res, err := s.finish(ctx, tx, datasetID, &MutationResult{Action: ActionUpdate, Row: row})
		if err != nil {
			rollback()
			return nil, err
		}
		return res, nil
	}

	row.Values[column] = value
	deriveRow(ds, row)
	if err := updateRow(ctx, tx, datasetID, row); err != nil {
		rollback()
		return nil, err
	}
	entry := historyEntry{Action: ActionUpdate, RowID: rowID, Column: column, OldValue: old, NewValue: value}
	if err := s.pushHistory(ctx, tx, datasetID, entry); err != nil {
		rollback()
		return nil, err
	}
	if err := addAuditEntry(ctx, tx, AuditEntry{
		DatasetID: datasetID,
		RowID:     rowID,
		Action:    ActionUpdate,
		Actor:     actor,
		Details:   map[string]interface{}{"column": column, "old_value": old, "new_value": value},
	}); err != nil {
		rollback()
		return nil, err
	}

	res, err := s.finish(ctx, tx, datasetID, &MutationResult{Changed: true, Action: ActionUpdate, Row: row})
	if err != nil {
		rollback()
		return nil, err
	}
	return res, nil
}

// AddRow appends an empty row with the next free ID.
func (s *Store) AddRow(ctx context.Context, datasetID, actor string) (*MutationResult, error) {
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

	var maxID, maxPos int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_id), 0), COALESCE(MAX(position), 0) FROM rows WHERE dataset_id = ?`, datasetID,
	).Scan(&maxID, &maxPos); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to allocate row id: %w", err)
	}
	// Row IDs of undone adds may still be referenced by history entries further down.
	var histMax sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(CAST(json_extract(payload, '$.row_id') AS INTEGER)) FROM history WHERE dataset_id = ?`, datasetID,
	).Scan(&histMax); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to allocate row id: %w", err)
	}
	if histMax.Valid && histMax.Int64 > maxID {
		maxID = histMax.Int64
	}

	row := &Row{ID: maxID + 1, Position: maxPos + 1, Values: make(map[string]string, len(ds.Columns))}
	for _, c := range ds.Columns {
		row.Values[c.Name] = ""
	}
	deriveRow(ds, row)
	if err := insertRow(ctx, tx, datasetID, row); err != nil {
		rollback()
		return nil, err
	}
	if err := s.pushHistory(ctx, tx, datasetID, historyEntry{Action: ActionAdd, RowID: row.ID}); err != nil {
		rollback()
		return nil, err
	}
	if err := addAuditEntry(ctx, tx, AuditEntry{DatasetID: datasetID, RowID: row.ID, Action: ActionAdd, Actor: actor}); err != nil {
		rollback()
		return nil, err
	}

	res, err := s.finish(ctx, tx, datasetID, &MutationResult{Changed: true, Action: ActionAdd, Row: row})
	if err != nil {
		rollback()
		return nil, err
	}
	return res, nil
}

// DeleteRow removes a row, keeping enough to restore it at the same position.
func (s *Store) DeleteRow(ctx context.Context, datasetID string, rowID int64, actor string) (*MutationResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	if _, err := getDataset(ctx, tx, datasetID); err != nil {
		rollback()
		return nil, err
	}
	row, err := getRow(ctx, tx, datasetID, rowID)
	if err != nil {
		rollback()
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rows WHERE dataset_id = ? AND row_id = ?`, datasetID, rowID); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to delete row %d: %w", rowID, err)
	}

	entry := historyEntry{
		Action:  ActionDelete,
		RowID:   rowID,
		Deleted: &deletedRow{Position: row.Position, Values: row.Values},
	}
	if err := s.pushHistory(ctx, tx, datasetID, entry); err != nil {
		rollback()
		return nil, err
	}
	if err := addAuditEntry(ctx, tx, AuditEntry{
		DatasetID: datasetID,
		RowID:     rowID,
		Action:    ActionDelete,
		Actor:     actor,
		Details:   map[string]interface{}{"values": row.Values},
	}); err != nil {
		rollback()
		return nil, err
	}

	res, err := s.finish(ctx, tx, datasetID, &MutationResult{Changed: true, Action: ActionDelete})
	if err != nil {
		rollback()
		return nil, err
	}
	return res, nil
}

// Undo reverts the most recent mutation of the dataset.
func (s *Store) Undo(ctx context.Context, datasetID, actor string) (*MutationResult, error) {
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

	var (
		histID  int64
		payload string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, payload FROM history WHERE dataset_id = ? ORDER BY id DESC LIMIT 1`, datasetID,
	).Scan(&histID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		rollback()
		return nil, ErrNothingToUndo
	}
	if err != nil {
		rollback()
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var entry historyEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to decode history entry %d: %w", histID, err)
	}

	res := &MutationResult{Changed: true, Action: entry.Action}
	switch entry.Action {
	case ActionUpdate:
		row, err := getRow(ctx, tx, datasetID, entry.RowID)
		if err != nil {
			rollback()
			return nil, err
		}
		row.Values[entry.Column] = entry.OldValue
		deriveRow(ds, row)
		if err := updateRow(ctx, tx, datasetID, row); err != nil {
			rollback()
			return nil, err
		}
		id := row.ID
		res.Row = row
		res.AffectedRowID = &id

	case ActionAdd:
		if _, err := tx.ExecContext(ctx, `DELETE FROM rows WHERE dataset_id = ? AND row_id = ?`, datasetID, entry.RowID); err != nil {
			rollback()
			return nil, fmt.Errorf("failed to remove added row %d: %w", entry.RowID, err)
		}

	case ActionDelete:
		if entry.Deleted == nil {
			rollback()
			return nil, fmt.Errorf("history entry %d has no deleted row", histID)
		}
		row := &Row{ID: entry.RowID, Position: entry.Deleted.Position, Values: entry.Deleted.Values}
		if row.Values == nil {
			row.Values = map[string]string{}
		}
		deriveRow(ds, row)
		if err := insertRow(ctx, tx, datasetID, row); err != nil {
			rollback()
			return nil, err
		}
		id := row.ID
		res.Row = row
		res.AffectedRowID = &id

	case ActionBulkUpdate:
		if err := undoBulkUpdate(ctx, tx, ds, entry); err != nil {
			rollback()
			return nil, err
		}
		res.Affected = len(entry.Bulk)

	case ActionBulkDelete:
		if err := undoBulkDelete(ctx, tx, ds, entry); err != nil {
			rollback()
			return nil, err
		}
		res.Affected = len(entry.Bulk)

	default:
		rollback()
		return nil, fmt.Errorf("unknown history action %q", entry.Action)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, histID); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to pop history: %w", err)
	}
	auditRow := entry.RowID
	if len(entry.Bulk) > 0 {
		auditRow = 0
	}
	if err := addAuditEntry(ctx, tx, AuditEntry{
		DatasetID: datasetID,
		RowID:     auditRow,
		Action:    ActionUndo,
		Actor:     actor,
		Details:   map[string]interface{}{"undone": entry.Action},
	}); err != nil {
		rollback()
		return nil, err
	}

	res, err = s.finish(ctx, tx, datasetID, res)
	if err != nil {
		rollback()
		return nil, err
	}
	return res, nil
}

// Commit consolidates the current state by clearing the undo history.
func (s *Store) Commit(ctx context.Context, datasetID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	if _, err := getDataset(ctx, tx, datasetID); err != nil {
		rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM history WHERE dataset_id = ?`, datasetID)
	if err != nil {
		rollback()
		return fmt.Errorf("failed to clear history: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := addAuditEntry(ctx, tx, AuditEntry{
		DatasetID: datasetID,
		Action:    ActionCommit,
		Actor:     actor,
		Details:   map[string]interface{}{"consolidated": n},
	}); err != nil {
		rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// HistoryDepth returns how many mutations can currently be undone.
func (s *Store) HistoryDepth(ctx context.Context, datasetID string) (int, error) {
	return historyDepth(ctx, s.db, datasetID)
}

func historyDepth(ctx context.Context, q queryer, datasetID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM history WHERE dataset_id = ?`, datasetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// pushHistory appends entry and drops the oldest entries beyond the undo limit.
func (s *Store) pushHistory(ctx context.Context, tx *sql.Tx, datasetID string, entry historyEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (dataset_id, action, payload, created_at) VALUES (?, ?, ?, ?)`,
		datasetID, entry.Action, string(payload), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE dataset_id = ? AND id NOT IN (
			SELECT id FROM history WHERE dataset_id = ? ORDER BY id DESC LIMIT ?
		)`, datasetID, datasetID, s.undoLimit,
	); err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return nil
}

// finish fills depth and KPIs from inside the transaction and commits it.
func (s *Store) finish(ctx context.Context, tx *sql.Tx, datasetID string, res *MutationResult) (*MutationResult, error) {
	if res.Changed {
		if err := touchDataset(ctx, tx, datasetID); err != nil {
			return nil, err
		}
	}
	depth, err := historyDepth(ctx, tx, datasetID)
	if err != nil {
		return nil, err
	}
	kpis, err := datasetKpis(ctx, tx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	res.Depth = depth
	res.Kpis = kpis
	return res, nil
}
