package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultUndoLimit is the number of mutations kept per dataset for undo.
const DefaultUndoLimit = 15

var (
	// ErrNotFound is returned when a dataset or row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNothingToUndo is returned by Undo when the history is empty.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrUnknownColumn is returned when a request names a column the dataset does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrReadOnlyColumn is returned when an edit targets a derived column.
	ErrReadOnlyColumn = errors.New("column is not editable")
	// ErrInvalidInput is returned for malformed selections, rules and find requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Column kinds.
const (
	KindText   = "text"
	KindDate   = "date"
	KindNumber = "number"
)

// Derived columns maintained by the store. They can be filtered and grouped but not edited.
const (
	ColRowID     = "_row_id"
	ColRowStatus = "_row_status"
	ColPriority  = "_priority"
)

// Row status and priority values.
const (
	StatusComplete   = "Complete"
	StatusIncomplete = "Incomplete"

	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// Store represents the SQLite storage implementation
type Store struct {
	db        *sql.DB
	undoLimit int
}

// Column describes one user column of a dataset
type Column struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Editable bool   `json:"editable"`
}

// Dataset is an ingested table
type Dataset struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Columns        []Column  `json:"columns"`
	PayGroupColumn string    `json:"pay_group_column,omitempty"`
	RowCount       int       `json:"row_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	rules []PriorityRule
}

// Row is one record of a dataset, addressed by its immutable ID
type Row struct {
	ID       int64             `json:"row_id"`
	Position int64             `json:"-"`
	Status   string            `json:"row_status"`
	Priority string            `json:"priority"`
	Values   map[string]string `json:"values"`
}

// HasColumn reports whether name is a user column of the dataset.
func (d *Dataset) HasColumn(name string) bool {
	return d.column(name) != nil
}

func (d *Dataset) column(name string) *Column {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return &d.Columns[i]
		}
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewStore creates a new SQLite store instance
func NewStore(dbPath string) (*Store, error) {
	// Ensure target directory exists (e.g., ./data)
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, undoLimit: DefaultUndoLimit}

	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SetUndoLimit changes how many mutations are retained per dataset. Values below 1 are ignored.
func (s *Store) SetUndoLimit(n int) {
	if n > 0 {
		s.undoLimit = n
	}
}

// migrate performs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			columns TEXT NOT NULL,
			pay_group_column TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS rows (
			dataset_id TEXT NOT NULL,
			row_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			data TEXT NOT NULL,
			row_status TEXT NOT NULL,
			priority TEXT NOT NULL,
			PRIMARY KEY (dataset_id, row_id)
		)`,

		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset_id TEXT NOT NULL,
			action TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_rows_position ON rows(dataset_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_history_dataset ON history(dataset_id, id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	if err := s.setupAuditTables(); err != nil {
		return err
	}
	return s.setupRuleTables()
}

// CreateDataset stores a new dataset with its rows and returns it. Row IDs start at 1.
func (s *Store) CreateDataset(ctx context.Context, name string, columns []Column, records []map[string]string) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("dataset %q has no columns", name)
	}
	for _, c := range columns {
		if c.Name == "" || strings.HasPrefix(c.Name, "_") {
			return nil, fmt.Errorf("invalid column name %q", c.Name)
		}
	}

	now := time.Now()
	ds := &Dataset{
		ID:             uuid.NewString(),
		Name:           name,
		Columns:        columns,
		PayGroupColumn: findPayGroupColumn(columns),
		RowCount:       len(records),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	colsJSON, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal columns: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (id, name, columns, pay_group_column, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, string(colsJSON), ds.PayGroupColumn, now.Unix(), now.Unix(),
	); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to insert dataset: %w", err)
	}
	if ds.rules, err = listRules(ctx, tx, true); err != nil {
		rollback()
		return nil, err
	}

	for i, rec := range records {
		row := &Row{ID: int64(i + 1), Position: int64(i + 1), Values: make(map[string]string, len(columns))}
		for _, c := range columns {
			row.Values[c.Name] = rec[c.Name]
		}
		deriveRow(ds, row)
		if err := insertRow(ctx, tx, ds.ID, row); err != nil {
			rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dataset: %w", err)
	}
	return ds, nil
}

// GetDataset returns dataset metadata
func (s *Store) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	return getDataset(ctx, s.db, id)
}

func getDataset(ctx context.Context, q queryer, id string) (*Dataset, error) {
	var (
		ds                   Dataset
		colsJSON             string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT d.id, d.name, d.columns, d.pay_group_column, d.created_at, d.updated_at,
			(SELECT COUNT(1) FROM rows r WHERE r.dataset_id = d.id)
		FROM datasets d WHERE d.id = ?`, id,
	).Scan(&ds.ID, &ds.Name, &colsJSON, &ds.PayGroupColumn, &createdAt, &updatedAt, &ds.RowCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset: %w", err)
	}
	if err := json.Unmarshal([]byte(colsJSON), &ds.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode columns: %w", err)
	}
	ds.CreatedAt = time.Unix(createdAt, 0)
	ds.UpdatedAt = time.Unix(updatedAt, 0)
	if ds.rules, err = listRules(ctx, q, true); err != nil {
		return nil, err
	}
	return &ds, nil
}

// ListDatasets returns all datasets, newest first
func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM datasets ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate datasets: %w", err)
	}

	out := make([]Dataset, 0, len(ids))
	for _, id := range ids {
		ds, err := s.GetDataset(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, nil
}

// DeleteDataset removes a dataset with its rows, history and audit entries.
func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	res, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		rollback()
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		rollback()
		return fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	for _, stmt := range []string{
		`DELETE FROM rows WHERE dataset_id = ?`,
		`DELETE FROM history WHERE dataset_id = ?`,
		`DELETE FROM audit_entries WHERE dataset_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			rollback()
			return fmt.Errorf("failed to delete dataset data: %w", err)
		}
	}
	return tx.Commit()
}

// LoadRows returns every row of the dataset in display order
func (s *Store) LoadRows(ctx context.Context, datasetID string) ([]Row, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	return loadRows(ctx, s.db, datasetID)
}

func loadRows(ctx context.Context, q queryer, datasetID string) ([]Row, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT row_id, position, data, row_status, priority FROM rows
		WHERE dataset_id = ? ORDER BY position, row_id`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(sc scanner) (*Row, error) {
	var (
		r    Row
		data string
	)
	if err := sc.Scan(&r.ID, &r.Position, &data, &r.Status, &r.Priority); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &r.Values); err != nil {
		return nil, fmt.Errorf("failed to decode row %d: %w", r.ID, err)
	}
	if r.Values == nil {
		r.Values = map[string]string{}
	}
	return &r, nil
}

func getRow(ctx context.Context, q queryer, datasetID string, rowID int64) (*Row, error) {
	r, err := scanRow(q.QueryRowContext(ctx,
		`SELECT row_id, position, data, row_status, priority FROM rows WHERE dataset_id = ? AND row_id = ?`,
		datasetID, rowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("row %d: %w", rowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load row %d: %w", rowID, err)
	}
	return r, nil
}

func insertRow(ctx context.Context, q queryer, datasetID string, r *Row) error {
	data, err := json.Marshal(r.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO rows (dataset_id, row_id, position, data, row_status, priority) VALUES (?, ?, ?, ?, ?, ?)`,
		datasetID, r.ID, r.Position, string(data), r.Status, r.Priority,
	); err != nil {
		return fmt.Errorf("failed to insert row %d: %w", r.ID, err)
	}
	return nil
}

func updateRow(ctx context.Context, q queryer, datasetID string, r *Row) error {
	data, err := json.Marshal(r.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE rows SET data = ?, row_status = ?, priority = ? WHERE dataset_id = ? AND row_id = ?`,
		string(data), r.Status, r.Priority, datasetID, r.ID,
	); err != nil {
		return fmt.Errorf("failed to update row %d: %w", r.ID, err)
	}
	return nil
}

func touchDataset(ctx context.Context, q queryer, datasetID string) error {
	_, err := q.ExecContext(ctx, `UPDATE datasets SET updated_at = ? WHERE id = ?`, time.Now().Unix(), datasetID)
	if err != nil {
		return fmt.Errorf("failed to touch dataset: %w", err)
	}
	return nil
}
