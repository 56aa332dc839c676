package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry represents an audit log entry
type AuditEntry struct {
	ID        string                 `json:"id"`
	DatasetID string                 `json:"dataset_id"`
	RowID     int64                  `json:"row_id,omitempty"`
	Action    string                 `json:"action"`  // "update", "add", "delete", "undo", "commit", "import"
	Actor     string                 `json:"actor"`   // client identifier or "system"
	Details   map[string]interface{} `json:"details"` // action-specific data
	Timestamp time.Time              `json:"timestamp"`
	CreatedAt time.Time              `json:"created_at"`
}

// setupAuditTables creates the audit table if it doesn't exist
func (s *Store) setupAuditTables() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			dataset_id TEXT NOT NULL,
			row_id INTEGER,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			details TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_audit_dataset_id ON audit_entries(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute audit migration: %w", err)
		}
	}
	return nil
}

// AddAuditEntry adds an audit entry to the database
func (s *Store) AddAuditEntry(ctx context.Context, entry AuditEntry) error {
	return addAuditEntry(ctx, s.db, entry)
}

func addAuditEntry(ctx context.Context, q queryer, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if entry.Details == nil {
		entry.Details = map[string]interface{}{}
	}
	entry.CreatedAt = time.Now()

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	var rowID interface{}
	if entry.RowID > 0 {
		rowID = entry.RowID
	}

	_, err = q.ExecContext(ctx, `INSERT INTO audit_entries (
		id, dataset_id, row_id, action, actor, details, timestamp, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DatasetID, rowID, entry.Action, entry.Actor,
		string(detailsJSON), entry.Timestamp.UnixNano(), entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// GetAuditEntries retrieves audit entries for a dataset, newest first
func (s *Store) GetAuditEntries(ctx context.Context, datasetID string, limit int) ([]AuditEntry, error) {
	query := `SELECT id, dataset_id, row_id, action, actor, details, timestamp, created_at
		FROM audit_entries WHERE dataset_id = ? ORDER BY timestamp DESC, rowid DESC`
	args := []interface{}{datasetID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var rowID *int64
		var detailsJSON string
		var timestamp, createdAt int64

		err := rows.Scan(&entry.ID, &entry.DatasetID, &rowID, &entry.Action,
			&entry.Actor, &detailsJSON, &timestamp, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Timestamp = time.Unix(0, timestamp)
		entry.CreatedAt = time.Unix(createdAt, 0)
		if rowID != nil {
			entry.RowID = *rowID
		}

		if err := json.Unmarshal([]byte(detailsJSON), &entry.Details); err != nil {
			// If unmarshaling fails, store as string
			entry.Details = map[string]interface{}{"raw": detailsJSON}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// LogImport records the ingestion of a dataset
func (s *Store) LogImport(ctx context.Context, ds *Dataset, source, actor string) error {
	return s.AddAuditEntry(ctx, AuditEntry{
		DatasetID: ds.ID,
		Action:    "import",
		Actor:     actor,
		Details: map[string]interface{}{
			"name":   ds.Name,
			"source": source,
			"rows":   ds.RowCount,
		},
	})
}
