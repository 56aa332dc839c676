package gateway

import "time"

// Columns the service derives for every row. They can be filtered and grouped but not edited.
const (
	ColumnRowID     = "_row_id"
	ColumnRowStatus = "_row_status"
	ColumnPriority  = "_priority"
)

// Column kinds.
const (
	KindText   = "text"
	KindDate   = "date"
	KindNumber = "number"
)

// Column describes one user column of a dataset.
type Column struct {
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"`
	Editable bool   `json:"editable" yaml:"editable"`
}

// Dataset is the schema reported for an ingested dataset.
type Dataset struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Columns      []Column            `json:"columns"`
	RowCount     int                 `json:"row_count"`
	Autocomplete map[string][]string `json:"autocomplete,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Filter is one (column, value) predicate.
type Filter struct {
	Column string `json:"column" yaml:"column"`
	Value  string `json:"value" yaml:"value"`
}

// Row is one record, addressed by its immutable ID.
type Row struct {
	ID       int64             `json:"row_id"`
	Status   string            `json:"row_status"`
	Priority string            `json:"priority"`
	Values   map[string]string `json:"values"`
}

// Kpis summarizes the amount column of a row set.
type Kpis struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Group is one aggregate bucket of a grouped view.
type Group struct {
	Key   string  `json:"key"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// FilterRequest is the body of a filtered fetch.
type FilterRequest struct {
	Filters []Filter `json:"filters"`
}

// FilterResult is a filtered projection of the dataset.
type FilterResult struct {
	Rows     []Row `json:"rows"`
	Kpis     Kpis  `json:"kpis"`
	RowCount int   `json:"row_count"`
}

// GroupRequest is the body of a grouped fetch.
type GroupRequest struct {
	Filters []Filter `json:"filters"`
	Column  string   `json:"column"`
}

// GroupResult holds the aggregates, largest sum first.
type GroupResult struct {
	Groups []Group `json:"groups"`
}

// MutateCellRequest is the body of a cell edit.
type MutateCellRequest struct {
	RowID  int64  `json:"row_id"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Mutation statuses.
const (
	StatusSuccess  = "success"
	StatusNoChange = "no_change"
)

// MutateResult is the authoritative outcome of a cell edit.
type MutateResult struct {
	Status    string `json:"status"`
	Kpis      Kpis   `json:"kpis"`
	UndoDepth int    `json:"undo_depth"`
	RowStatus string `json:"row_status"`
	Priority  string `json:"priority"`
}

// AddRowResult reports the appended row.
type AddRowResult struct {
	NewRowID  int64 `json:"new_row_id"`
	UndoDepth int   `json:"undo_depth"`
	Kpis      Kpis  `json:"kpis"`
}

// DeleteRowResult reports the state after a deletion.
type DeleteRowResult struct {
	UndoDepth int  `json:"undo_depth"`
	Kpis      Kpis `json:"kpis"`
}

// UndoResult reports what an undo reverted.
type UndoResult struct {
	Action string `json:"action"`
	// ActionLabel is a human readable description of the undone action.
	ActionLabel string `json:"message"`
	// AffectedRowID is nil when the undone action was an add or a bulk mutation.
	AffectedRowID *int64 `json:"affected_row_id"`
	UndoDepth     int    `json:"undo_depth"`
	Kpis          Kpis   `json:"kpis"`
}

// BulkUpdateRequest sets column to value on every selected row.
type BulkUpdateRequest struct {
	RowIDs []int64 `json:"row_ids"`
	Column string  `json:"column"`
	Value  string  `json:"value"`
}

// FindReplaceRequest replaces column cells of the selected rows that equal Find.
type FindReplaceRequest struct {
	RowIDs  []int64 `json:"row_ids"`
	Column  string  `json:"column"`
	Find    string  `json:"find_text"`
	Replace string  `json:"replace_text"`
}

// BulkDeleteRequest removes the selected rows.
type BulkDeleteRequest struct {
	RowIDs []int64 `json:"row_ids"`
}

// BulkResult reports a multi-row mutation. Undoing it restores every touched row at once.
type BulkResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Affected  int    `json:"affected"`
	UndoDepth int    `json:"undo_depth"`
	Kpis      Kpis   `json:"kpis"`
}

// CommitResult reports a consolidation.
type CommitResult struct {
	Message   string `json:"message"`
	UndoDepth int    `json:"undo_depth"`
}

// Priority rule operators.
const (
	OpEquals    = "equals"
	OpNotEquals = "not_equals"
	OpContains  = "contains"
	OpGreater   = "greater"
	OpGreaterEq = "greater_eq"
	OpLess      = "less"
	OpLessEq    = "less_eq"
)

// PriorityRule overrides the priority of rows whose column matches value.
// Column, operator and value identify a rule.
type PriorityRule struct {
	Column   string `json:"column" yaml:"column"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value" yaml:"value"`
	Priority string `json:"priority" yaml:"priority"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	// Active defaults to true when omitted.
	Active *bool `json:"active,omitempty" yaml:"active,omitempty"`
}

// RuleKey addresses an existing rule.
type RuleKey struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Active   bool   `json:"active"`
}

// RulesResult lists the rules in the order they are applied, with the datasets
// whose priorities changed because of the last rule change.
type RulesResult struct {
	Rules    []PriorityRule `json:"rules"`
	Affected []string       `json:"affected_datasets,omitempty"`
}

// AutocompleteLists holds user-maintained suggestions keyed by column name.
type AutocompleteLists struct {
	Lists map[string][]string `json:"lists" yaml:"lists"`
}

// AuditEntry is one mutation recorded by the service.
type AuditEntry struct {
	ID        string                 `json:"id"`
	DatasetID string                 `json:"dataset_id"`
	RowID     int64                  `json:"row_id,omitempty"`
	Action    string                 `json:"action"`
	Actor     string                 `json:"actor"`
	Details   map[string]interface{} `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
