package editor

import (
	"sync"

	"github.com/gridsync/gridsync/internal/gateway"
)

// ViewMode selects the projection shown for the active filters.
type ViewMode int

const (
	ModeDetailed ViewMode = iota
	ModeGrouped
)

func (m ViewMode) String() string {
	if m == ModeGrouped {
		return "grouped"
	}
	return "detailed"
}

// ParseViewMode accepts "detailed" or "grouped".
func ParseViewMode(s string) (ViewMode, error) {
	switch s {
	case "detailed", "":
		return ModeDetailed, nil
	case "grouped":
		return ModeGrouped, nil
	}
	return ModeDetailed, invalid("mode", "unknown view mode %q", s)
}

// derivedColumns are maintained by the service and accepted wherever a column name is.
var derivedColumns = []gateway.Column{
	{Name: gateway.ColumnRowID, Kind: gateway.KindNumber},
	{Name: gateway.ColumnRowStatus, Kind: gateway.KindText},
	{Name: gateway.ColumnPriority, Kind: gateway.KindText},
}

/*
SessionState is the view model of one editing session: the open dataset,
the view mode, the filters, the visible-column projection, the last fetched
rows or groups, the KPIs and the mirrored undo depth.

Rows, groups and KPIs are replaced wholesale by fetches. Each fetch takes a
sequence number when it is issued; a response older than the last applied
one is dropped so a slow refresh never overwrites a newer snapshot.
Mutation results (undo depth, KPIs) are last-applied-wins.
*/
type SessionState struct {
	mu sync.Mutex

	datasetID    string
	datasetName  string
	columns      []gateway.Column
	autocomplete map[string][]string

	mode        ViewMode
	filters     FilterSet
	visible     []string
	groupColumn string

	rows   []gateway.Row
	groups []gateway.Group
	kpis   gateway.Kpis
	depth  int
	stale  bool

	issuedSeq  uint64
	appliedSeq uint64
	pending    map[int64]int
}

// NewSessionState returns an empty state with no dataset open.
func NewSessionState() *SessionState {
	return &SessionState{pending: make(map[int64]int)}
}

func (s *SessionState) DatasetID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datasetID
}

func (s *SessionState) DatasetName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datasetName
}

// HasDataset reports whether a dataset has been opened.
func (s *SessionState) HasDataset() bool {
	return s.DatasetID() != ""
}

// Columns returns the user columns of the open dataset.
func (s *SessionState) Columns() []gateway.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Column looks up a user or derived column by name.
func (s *SessionState) Column(name string) (gateway.Column, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columnLocked(name)
}

func (s *SessionState) columnLocked(name string) (gateway.Column, bool) {
	for _, c := range s.columns {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range derivedColumns {
		if c.Name == name {
			return c, true
		}
	}
	return gateway.Column{}, false
}

// Autocomplete returns the suggested values for column.
func (s *SessionState) Autocomplete(column string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.autocomplete[column]
	out := make([]string, len(vals))
	copy(out, vals)
	return out
}

func (s *SessionState) Mode() ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Filters returns the active predicates in order.
func (s *SessionState) Filters() []gateway.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Entries()
}

// VisibleColumns returns the projection, or every user column when none is set.
func (s *SessionState) VisibleColumns() []gateway.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

func (s *SessionState) visibleLocked() []gateway.Column {
	if len(s.visible) == 0 {
		out := make([]gateway.Column, len(s.columns))
		copy(out, s.columns)
		return out
	}
	out := make([]gateway.Column, 0, len(s.visible))
	for _, name := range s.visible {
		if c, ok := s.columnLocked(name); ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *SessionState) GroupColumn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupColumn
}

// Rows returns a copy of the last fetched rows.
func (s *SessionState) Rows() []gateway.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Row, len(s.rows))
	for i, r := range s.rows {
		out[i] = copyRow(r)
	}
	return out
}

// Row returns one fetched row by ID.
func (s *SessionState) Row(rowID int64) (gateway.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.rowLocked(rowID); r != nil {
		return copyRow(*r), true
	}
	return gateway.Row{}, false
}

func (s *SessionState) rowLocked(rowID int64) *gateway.Row {
	for i := range s.rows {
		if s.rows[i].ID == rowID {
			return &s.rows[i]
		}
	}
	return nil
}

// Groups returns a copy of the last fetched groups.
func (s *SessionState) Groups() []gateway.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Group, len(s.groups))
	copy(out, s.groups)
	return out
}

func (s *SessionState) Kpis() gateway.Kpis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kpis
}

func (s *SessionState) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// CanUndo reports whether undo and commit affordances should be enabled.
func (s *SessionState) CanUndo() bool {
	return s.UndoDepth() > 0
}

// Stale reports whether the filters changed since the last applied fetch.
func (s *SessionState) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

func (s *SessionState) openDataset(ds *gateway.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasetID = ds.ID
	s.datasetName = ds.Name
	s.columns = append([]gateway.Column(nil), ds.Columns...)
	s.autocomplete = ds.Autocomplete
	s.filters.Clear()
	s.visible = nil
	s.groupColumn = ""
	s.rows = nil
	s.groups = nil
	s.kpis = gateway.Kpis{}
	s.depth = 0
	s.stale = true
	s.pending = make(map[int64]int)
	// responses to fetches issued for the previous dataset are dropped
	s.appliedSeq = s.issuedSeq
}

// updateSchema refreshes columns and autocomplete without touching the view.
func (s *SessionState) updateSchema(ds *gateway.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = append([]gateway.Column(nil), ds.Columns...)
	s.autocomplete = ds.Autocomplete
}

func (s *SessionState) setMode(m ViewMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.mode != m
	s.mode = m
	return changed
}

func (s *SessionState) setVisible(cols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = append([]string(nil), cols...)
}

func (s *SessionState) visibleNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visible...)
}

// updateFilters applies fn to the filter set and marks the snapshot stale on success.
func (s *SessionState) updateFilters(fn func(fs *FilterSet) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.filters); err != nil {
		return err
	}
	s.stale = true
	return nil
}

// beginFetch issues the sequence number for a view fetch.
func (s *SessionState) beginFetch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuedSeq++
	return s.issuedSeq
}

// acceptLocked reports whether a response to fetch seq may be applied and records it.
func (s *SessionState) acceptLocked(seq uint64) bool {
	if seq <= s.appliedSeq {
		return false
	}
	s.appliedSeq = seq
	return true
}

// applyRows replaces the detailed snapshot. It returns false when the response is stale.
func (s *SessionState) applyRows(seq uint64, rows []gateway.Row, kpis gateway.Kpis) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acceptLocked(seq) {
		return false
	}
	s.rows = rows
	s.kpis = kpis
	s.stale = false
	return true
}

// applyGroups replaces the grouped snapshot. It returns false when the response is stale.
func (s *SessionState) applyGroups(seq uint64, column string, groups []gateway.Group) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acceptLocked(seq) {
		return false
	}
	s.groupColumn = column
	s.groups = groups
	s.stale = false
	return true
}

// clearGroups drops the grouped snapshot after a failed fetch so no stale groups remain.
func (s *SessionState) clearGroups(seq uint64, column string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acceptLocked(seq) {
		return false
	}
	s.groupColumn = column
	s.groups = nil
	return true
}

func (s *SessionState) setGroupColumn(column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupColumn = column
}

// adopt mirrors the authoritative undo depth and KPIs returned by a mutation.
func (s *SessionState) adopt(depth int, kpis gateway.Kpis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth = depth
	s.kpis = kpis
}

func (s *SessionState) setUndoDepth(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth = depth
}

// cell returns the current value of one cell of a fetched row.
func (s *SessionState) cell(rowID int64, column string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rowLocked(rowID)
	if r == nil {
		return "", false
	}
	return cellValue(r, column), true
}

// setCell writes a cell value locally. It returns false when the row is not fetched.
func (s *SessionState) setCell(rowID int64, column, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rowLocked(rowID)
	if r == nil {
		return false
	}
	switch column {
	case gateway.ColumnRowStatus:
		r.Status = value
	case gateway.ColumnPriority:
		r.Priority = value
	default:
		if r.Values == nil {
			r.Values = map[string]string{}
		}
		r.Values[column] = value
	}
	return true
}

// revertCell restores old only while the cell still shows expected.
func (s *SessionState) revertCell(rowID int64, column, expected, old string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rowLocked(rowID)
	if r == nil || cellValue(r, column) != expected {
		return false
	}
	if r.Values == nil {
		r.Values = map[string]string{}
	}
	r.Values[column] = old
	return true
}

// markPending counts in-flight edits per row and reports whether the row is still pending.
func (s *SessionState) markPending(rowID int64, delta int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.pending[rowID] + delta
	if n <= 0 {
		delete(s.pending, rowID)
		return false
	}
	s.pending[rowID] = n
	return true
}

func cellValue(r *gateway.Row, column string) string {
	switch column {
	case gateway.ColumnRowStatus:
		return r.Status
	case gateway.ColumnPriority:
		return r.Priority
	}
	return r.Values[column]
}

func copyRow(r gateway.Row) gateway.Row {
	vals := make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		vals[k] = v
	}
	r.Values = vals
	return r
}
