package editor

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gridsync/gridsync/internal/gateway"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// fakeGateway records calls and answers from per-operation hooks.
type fakeGateway struct {
	mu    sync.Mutex
	calls []string

	dataset     *gateway.Dataset
	lastFilters []gateway.Filter

	filter func(n int, filters []gateway.Filter) (*gateway.FilterResult, error)
	group  func(filters []gateway.Filter, column string) (*gateway.GroupResult, error)
	mutate func(rowID int64, column, value string) (*gateway.MutateResult, error)
	add    func() (*gateway.AddRowResult, error)
	delete func(rowID int64) (*gateway.DeleteRowResult, error)
	undo   func() (*gateway.UndoResult, error)
	commit func() error
	bulk   func(kind string, rowIDs []int64, args []string) (*gateway.BulkResult, error)

	filterCalls int
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{dataset: invoiceDataset()}
}

func invoiceDataset() *gateway.Dataset {
	return &gateway.Dataset{
		ID:   "ds-1",
		Name: "invoices.xlsx",
		Columns: []gateway.Column{
			{Name: "Vendor", Kind: gateway.KindText, Editable: true},
			{Name: "Status", Kind: gateway.KindText, Editable: true},
			{Name: "Due Date", Kind: gateway.KindDate, Editable: true},
			{Name: "Total", Kind: gateway.KindNumber, Editable: true},
		},
		RowCount:     3,
		Autocomplete: map[string][]string{"Vendor": {"Acme", "Globex"}},
	}
}

func invoiceRows() []gateway.Row {
	return []gateway.Row{
		{ID: 1, Status: "Complete", Priority: "High", Values: map[string]string{"Vendor": "Acme", "Status": "Open", "Due Date": "2024-01-05", "Total": "100"}},
		{ID: 2, Status: "Complete", Priority: "Medium", Values: map[string]string{"Vendor": "Globex", "Status": "Paid", "Due Date": "2024-02-01", "Total": "50"}},
		{ID: 3, Status: "Incomplete", Priority: "Low", Values: map[string]string{"Vendor": "Initech", "Status": "Open", "Due Date": "", "Total": "25"}},
	}
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) count(call string) int {
	n := 0
	for _, c := range g.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (g *fakeGateway) Filters() []gateway.Filter {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFilters
}

func (g *fakeGateway) Describe(ctx context.Context, datasetID string) (*gateway.Dataset, error) {
	g.record("describe")
	if g.dataset == nil || g.dataset.ID != datasetID {
		return nil, &gateway.RemoteError{Status: http.StatusNotFound, Message: "dataset not found"}
	}
	ds := *g.dataset
	return &ds, nil
}

func (g *fakeGateway) FetchFiltered(ctx context.Context, datasetID string, filters []gateway.Filter) (*gateway.FilterResult, error) {
	g.record("filter")
	g.mu.Lock()
	g.lastFilters = filters
	g.filterCalls++
	n := g.filterCalls
	hook := g.filter
	g.mu.Unlock()
	if hook != nil {
		return hook(n, filters)
	}
	rows := invoiceRows()
	return &gateway.FilterResult{Rows: rows, Kpis: gateway.Kpis{Count: 3, Total: 175}, RowCount: len(rows)}, nil
}

func (g *fakeGateway) FetchGrouped(ctx context.Context, datasetID string, filters []gateway.Filter, column string) (*gateway.GroupResult, error) {
	g.record("group")
	g.mu.Lock()
	g.lastFilters = filters
	g.mu.Unlock()
	if g.group != nil {
		return g.group(filters, column)
	}
	return &gateway.GroupResult{Groups: []gateway.Group{{Key: "Acme", Sum: 100, Count: 1}}}, nil
}

func (g *fakeGateway) MutateCell(ctx context.Context, datasetID string, rowID int64, column, value string) (*gateway.MutateResult, error) {
	g.record("mutate")
	if g.mutate != nil {
		return g.mutate(rowID, column, value)
	}
	return &gateway.MutateResult{Status: gateway.StatusSuccess, UndoDepth: 1}, nil
}

func (g *fakeGateway) AddRow(ctx context.Context, datasetID string) (*gateway.AddRowResult, error) {
	g.record("add")
	if g.add != nil {
		return g.add()
	}
	return &gateway.AddRowResult{NewRowID: 4, UndoDepth: 1}, nil
}

func (g *fakeGateway) DeleteRow(ctx context.Context, datasetID string, rowID int64) (*gateway.DeleteRowResult, error) {
	g.record("delete")
	if g.delete != nil {
		return g.delete(rowID)
	}
	return &gateway.DeleteRowResult{UndoDepth: 1}, nil
}

func (g *fakeGateway) bulkCall(kind string, rowIDs []int64, args ...string) (*gateway.BulkResult, error) {
	g.record(kind)
	if g.bulk != nil {
		return g.bulk(kind, rowIDs, args)
	}
	return &gateway.BulkResult{Status: gateway.StatusSuccess, Affected: len(rowIDs), UndoDepth: 1}, nil
}

func (g *fakeGateway) BulkUpdate(ctx context.Context, datasetID string, rowIDs []int64, column, value string) (*gateway.BulkResult, error) {
	return g.bulkCall("bulk-update", rowIDs, column, value)
}

func (g *fakeGateway) BulkDelete(ctx context.Context, datasetID string, rowIDs []int64) (*gateway.BulkResult, error) {
	return g.bulkCall("bulk-delete", rowIDs)
}

func (g *fakeGateway) FindReplace(ctx context.Context, datasetID string, rowIDs []int64, column, find, replace string) (*gateway.BulkResult, error) {
	return g.bulkCall("find-replace", rowIDs, column, find, replace)
}

func (g *fakeGateway) Undo(ctx context.Context, datasetID string) (*gateway.UndoResult, error) {
	g.record("undo")
	if g.undo != nil {
		return g.undo()
	}
	return &gateway.UndoResult{Action: "update", UndoDepth: 0}, nil
}

func (g *fakeGateway) Commit(ctx context.Context, datasetID string) error {
	g.record("commit")
	if g.commit != nil {
		return g.commit()
	}
	return nil
}

type notice struct {
	Level NoticeLevel
	Msg   string
}

// fakeSurface renders into memory. With autoRedraw set, SetSchema and SetRows
// each count as one physical redraw, like a grid that redraws for the column
// change and again for the data.
type fakeSurface struct {
	mu sync.Mutex

	autoRedraw bool

	schema      []gateway.Column
	rows        []gateway.Row
	groupColumn string
	groups      []gateway.Group
	pending     map[int64]bool
	kpis        gateway.Kpis
	empty       EmptyState
	depth       int
	notices     []notice
	scrolled    []int64
	highlighted map[int64]time.Duration

	listeners map[int]func()
	nextID    int
	redraws   int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		autoRedraw:  true,
		pending:     map[int64]bool{},
		highlighted: map[int64]time.Duration{},
		listeners:   map[int]func(){},
	}
}

func (s *fakeSurface) SetSchema(columns []gateway.Column) {
	s.mu.Lock()
	s.schema = columns
	auto := s.autoRedraw
	s.mu.Unlock()
	if auto {
		s.Redraw()
	}
}

func (s *fakeSurface) SetRows(rows []gateway.Row) {
	s.mu.Lock()
	s.rows = make([]gateway.Row, len(rows))
	for i, r := range rows {
		s.rows[i] = copyRow(r)
	}
	auto := s.autoRedraw
	s.mu.Unlock()
	if auto {
		s.Redraw()
	}
}

func (s *fakeSurface) SetGroups(column string, groups []gateway.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupColumn = column
	s.groups = groups
}

func (s *fakeSurface) SetCell(rowID int64, column, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID != rowID {
			continue
		}
		switch column {
		case gateway.ColumnRowStatus:
			s.rows[i].Status = value
		case gateway.ColumnPriority:
			s.rows[i].Priority = value
		default:
			s.rows[i].Values[column] = value
		}
	}
}

func (s *fakeSurface) Cell(rowID int64, column string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == rowID {
			return cellValue(&s.rows[i], column)
		}
	}
	return ""
}

func (s *fakeSurface) SetPending(rowID int64, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rowID] = pending
}

func (s *fakeSurface) Pending(rowID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[rowID]
}

func (s *fakeSurface) HasRow(rowID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == rowID {
			return true
		}
	}
	return false
}

func (s *fakeSurface) ScrollTo(rowID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrolled = append(s.scrolled, rowID)
}

func (s *fakeSurface) Highlight(rowID int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlighted[rowID] = d
}

func (s *fakeSurface) ShowKpis(k gateway.Kpis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kpis = k
}

func (s *fakeSurface) ShowEmpty(state EmptyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.empty = state
}

func (s *fakeSurface) SetUndoDepth(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth = depth
}

func (s *fakeSurface) Notify(level NoticeLevel, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notice{Level: level, Msg: msg})
}

func (s *fakeSurface) Notices() []notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notice(nil), s.notices...)
}

func (s *fakeSurface) lastNotice() notice {
	n := s.Notices()
	if len(n) == 0 {
		return notice{}
	}
	return n[len(n)-1]
}

func (s *fakeSurface) Scrolled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.scrolled...)
}

func (s *fakeSurface) OnRedraw(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSurface) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Redraw simulates one physical redraw and notifies listeners outside the lock.
func (s *fakeSurface) Redraw() {
	s.mu.Lock()
	s.redraws++
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// replaceRows swaps the rendered rows without redrawing.
func (s *fakeSurface) replaceRows(rows []gateway.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

func newTestController(gw *fakeGateway, surface *fakeSurface) *Controller {
	return NewController(gw, surface, Options{Logger: quietLogger()})
}
