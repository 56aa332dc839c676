package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gridsync/gridsync/internal/editor"
	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/rivo/tview"
)

// Grid renders the active view on a tview.Table and implements editor.Surface.
//
// The row model is updated synchronously by the Surface methods, so HasRow
// never waits on the event loop. Widget changes are handed to queue, which
// runs them on the UI goroutine. A redraw is reported to OnRedraw listeners
// only after a queued render has actually been drawn; idle repaints do not count.
type Grid struct {
	table  *tview.Table
	kpiBar *tview.TextView
	queue  func(func())

	// layout is the column order of the last render; UI goroutine only.
	layout []string

	mu        sync.Mutex
	theme     Theme
	columns   []gateway.Column
	rows      []gateway.Row
	index     map[int64]int
	grouped   bool
	groupCol  string
	groups    []gateway.Group
	pending   map[int64]bool
	lit       map[int64]time.Time
	marked    map[int64]bool
	kpis      gateway.Kpis
	depth     int
	empty     editor.EmptyState
	renders   uint64
	drawn     uint64
	listeners map[int]func()
	nextID    int
	notify    func(editor.NoticeLevel, string)
}

var _ editor.Surface = (*Grid)(nil)

// NewGrid creates a grid. queue schedules widget updates on the UI goroutine;
// nil runs them inline.
func NewGrid(theme Theme, queue func(func())) *Grid {
	if queue == nil {
		queue = func(f func()) { f() }
	}
	g := &Grid{
		table:     tview.NewTable(),
		kpiBar:    tview.NewTextView(),
		queue:     queue,
		theme:     theme,
		index:     make(map[int64]int),
		pending:   make(map[int64]bool),
		lit:       make(map[int64]time.Time),
		marked:    make(map[int64]bool),
		listeners: make(map[int]func()),
		empty:     editor.EmptyNoDataset,
	}
	g.table.SetBorder(true)
	g.table.SetTitle(" Dataset ")
	g.table.SetTitleAlign(tview.AlignLeft)
	g.table.SetSelectable(true, true)
	// Pin header row and the row id column.
	g.table.SetFixed(1, 1)
	g.kpiBar.SetDynamicColors(true)
	g.applyTheme(theme)
	g.render()
	g.renderKpis()
	return g
}

// Table returns the widget to place in a layout.
func (g *Grid) Table() *tview.Table { return g.table }

// KpiBar returns the summary line widget.
func (g *Grid) KpiBar() *tview.TextView { return g.kpiBar }

// OnNotice routes Notify calls, typically to the status bar.
func (g *Grid) OnNotice(fn func(editor.NoticeLevel, string)) {
	g.mu.Lock()
	g.notify = fn
	g.mu.Unlock()
}

// SetTheme restyles the grid.
func (g *Grid) SetTheme(t Theme) {
	g.mu.Lock()
	g.theme = t
	g.mu.Unlock()
	g.queue(func() {
		g.applyTheme(t)
		g.render()
		g.renderKpis()
	})
}

func (g *Grid) applyTheme(t Theme) {
	g.table.SetBackgroundColor(t.Surface)
	g.table.SetBorderColor(t.Border)
	g.table.SetTitleColor(t.TextPrimary)
	g.table.SetSelectedStyle(tcell.StyleDefault.Background(t.SelectionBg).Foreground(t.SelectionFg))
	g.kpiBar.SetBackgroundColor(t.Surface)
	g.kpiBar.SetTextColor(t.TextPrimary)
}

// SetSchema sets the visible columns.
func (g *Grid) SetSchema(columns []gateway.Column) {
	g.mu.Lock()
	g.columns = append([]gateway.Column(nil), columns...)
	g.mu.Unlock()
	g.scheduleRender()
}

// SetRows replaces the rendered rows and switches to the detailed layout.
func (g *Grid) SetRows(rows []gateway.Row) {
	g.mu.Lock()
	g.grouped = false
	if g.empty == editor.EmptyNoDataset {
		g.empty = editor.EmptyNone
	}
	g.rows = make([]gateway.Row, len(rows))
	g.index = make(map[int64]int, len(rows))
	for i, r := range rows {
		g.rows[i] = cloneRow(r)
		g.index[r.ID] = i
	}
	// Marks only apply to rows still on screen.
	for id := range g.marked {
		if _, ok := g.index[id]; !ok {
			delete(g.marked, id)
		}
	}
	g.mu.Unlock()
	g.scheduleRender()
}

// SetGroups replaces the view with aggregates grouped by column.
func (g *Grid) SetGroups(column string, groups []gateway.Group) {
	g.mu.Lock()
	g.grouped = true
	g.groupCol = column
	g.groups = append([]gateway.Group(nil), groups...)
	g.mu.Unlock()
	g.scheduleRender()
}

// SetCell updates one rendered cell. Derived columns update the row's status or priority.
func (g *Grid) SetCell(rowID int64, column, value string) {
	g.mu.Lock()
	i, ok := g.index[rowID]
	if ok {
		r := &g.rows[i]
		switch column {
		case gateway.ColumnRowStatus:
			r.Status = value
		case gateway.ColumnPriority:
			r.Priority = value
		case gateway.ColumnRowID:
		default:
			r.Values[column] = value
		}
	}
	g.mu.Unlock()
	if ok {
		g.scheduleRender()
	}
}

// SetPending marks a row as waiting for the service.
func (g *Grid) SetPending(rowID int64, pending bool) {
	g.mu.Lock()
	if pending {
		g.pending[rowID] = true
	} else {
		delete(g.pending, rowID)
	}
	g.mu.Unlock()
	g.scheduleRender()
}

// HasRow reports whether rowID is in the rendered detailed rows.
func (g *Grid) HasRow(rowID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grouped {
		return false
	}
	_, ok := g.index[rowID]
	return ok
}

// ScrollTo moves the cursor to rowID, keeping the current column.
func (g *Grid) ScrollTo(rowID int64) {
	g.queue(func() {
		r := g.tableRowOf(rowID)
		if r < 0 {
			return
		}
		_, col := g.table.GetSelection()
		if col < 0 {
			col = 0
		}
		g.table.Select(r, col)
	})
}

// Highlight marks rowID for d.
func (g *Grid) Highlight(rowID int64, d time.Duration) {
	until := time.Now().Add(d)
	g.mu.Lock()
	g.lit[rowID] = until
	g.mu.Unlock()
	g.scheduleRender()

	time.AfterFunc(d, func() {
		g.mu.Lock()
		expired := false
		if t, ok := g.lit[rowID]; ok && !t.After(time.Now()) {
			delete(g.lit, rowID)
			expired = true
		}
		g.mu.Unlock()
		if expired {
			g.scheduleRender()
		}
	})
}

// Highlighted reports whether rowID is currently highlighted.
func (g *Grid) Highlighted(rowID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lit[rowID]
	return ok && t.After(time.Now())
}

// ShowKpis updates the summary line.
func (g *Grid) ShowKpis(k gateway.Kpis) {
	g.mu.Lock()
	g.kpis = k
	g.mu.Unlock()
	g.queue(g.renderKpis)
}

// ShowEmpty sets the placeholder shown when there are no rows.
func (g *Grid) ShowEmpty(state editor.EmptyState) {
	g.mu.Lock()
	changed := g.empty != state
	g.empty = state
	if state == editor.EmptyNoDataset {
		g.rows = nil
		g.index = make(map[int64]int)
		g.marked = make(map[int64]bool)
		g.grouped = false
		changed = true
	}
	g.mu.Unlock()
	if changed {
		g.scheduleRender()
	}
}

// SetUndoDepth shows the number of undoable mutations.
func (g *Grid) SetUndoDepth(depth int) {
	g.mu.Lock()
	g.depth = depth
	g.mu.Unlock()
	g.queue(g.renderKpis)
}

// Notify forwards a notice to the registered handler.
func (g *Grid) Notify(level editor.NoticeLevel, msg string) {
	g.mu.Lock()
	fn := g.notify
	g.mu.Unlock()
	if fn != nil {
		fn(level, msg)
	}
}

// OnRedraw registers fn to run after each drawn render.
func (g *Grid) OnRedraw(fn func()) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.listeners, id)
			g.mu.Unlock()
		})
	}
}

// AfterDraw must be called after the screen is drawn (tview's after-draw hook).
// Listeners run outside the grid lock so they may call back into the grid.
func (g *Grid) AfterDraw() {
	g.mu.Lock()
	if g.drawn == g.renders {
		g.mu.Unlock()
		return
	}
	g.drawn = g.renders
	ids := make([]int, 0, len(g.listeners))
	for id := range g.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, g.listeners[id])
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Selection returns the row and column under the cursor in the detailed view.
func (g *Grid) Selection() (gateway.Row, string, bool) {
	r, c := g.table.GetSelection()
	rowID, ok := g.rowIDAt(r)
	if !ok || c < 0 || c >= len(g.layout) {
		return gateway.Row{}, "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.index[rowID]
	if !ok || g.grouped {
		return gateway.Row{}, "", false
	}
	return cloneRow(g.rows[i]), g.layout[c], true
}

// ToggleMark adds rowID to the multi-row selection, or removes it, and
// reports whether it is now marked. Rows outside the detailed view cannot be marked.
func (g *Grid) ToggleMark(rowID int64) bool {
	g.mu.Lock()
	_, ok := g.index[rowID]
	if !ok || g.grouped {
		g.mu.Unlock()
		return false
	}
	marked := !g.marked[rowID]
	if marked {
		g.marked[rowID] = true
	} else {
		delete(g.marked, rowID)
	}
	g.mu.Unlock()
	g.scheduleRender()
	return marked
}

// Marked returns the marked row IDs in ascending order.
func (g *Grid) Marked() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int64, 0, len(g.marked))
	for id := range g.marked {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClearMarks empties the multi-row selection.
func (g *Grid) ClearMarks() {
	g.mu.Lock()
	n := len(g.marked)
	g.marked = make(map[int64]bool)
	g.mu.Unlock()
	if n > 0 {
		g.scheduleRender()
	}
}

// SelectedGroup returns the group key under the cursor in the grouped view.
func (g *Grid) SelectedGroup() (string, bool) {
	r, _ := g.table.GetSelection()
	if r < 1 {
		return "", false
	}
	cell := g.table.GetCell(r, 0)
	key, ok := cell.GetReference().(string)
	return key, ok
}

// Find returns the first row after rowID (wrapping) with a rendered value
// containing query, case-insensitively. Pass 0 to search from the top.
func (g *Grid) Find(query string, after int64) (int64, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grouped || len(g.rows) == 0 {
		return 0, false
	}
	start := 0
	if i, ok := g.index[after]; ok {
		start = i + 1
	}
	layout := layoutFor(g.columns)
	for n := 0; n < len(g.rows); n++ {
		r := &g.rows[(start+n)%len(g.rows)]
		for _, col := range layout {
			if strings.Contains(strings.ToLower(displayValue(r, col)), q) {
				return r.ID, true
			}
		}
	}
	return 0, false
}

func (g *Grid) scheduleRender() {
	g.queue(g.render)
}

type gridSnapshot struct {
	theme    Theme
	columns  []gateway.Column
	rows     []gateway.Row
	grouped  bool
	groupCol string
	groups   []gateway.Group
	pending  map[int64]bool
	lit      map[int64]bool
	marked   map[int64]bool
	empty    editor.EmptyState
}

func (g *Grid) snapshot() gridSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	s := gridSnapshot{
		theme:    g.theme,
		columns:  g.columns,
		rows:     make([]gateway.Row, len(g.rows)),
		grouped:  g.grouped,
		groupCol: g.groupCol,
		groups:   g.groups,
		pending:  make(map[int64]bool, len(g.pending)),
		lit:      make(map[int64]bool, len(g.lit)),
		marked:   make(map[int64]bool, len(g.marked)),
		empty:    g.empty,
	}
	for i, r := range g.rows {
		s.rows[i] = cloneRow(r)
	}
	for id := range g.pending {
		s.pending[id] = true
	}
	for id := range g.marked {
		s.marked[id] = true
	}
	for id, t := range g.lit {
		if t.After(now) {
			s.lit[id] = true
		}
	}
	return s
}

// render rebuilds the table from the model. UI goroutine only.
func (g *Grid) render() {
	s := g.snapshot()
	selRow, selCol := g.table.GetSelection()

	g.table.Clear()
	if s.grouped {
		g.renderGroups(s)
	} else {
		g.renderRows(s)
	}

	if n := g.table.GetRowCount(); n > 1 {
		if selRow < 1 {
			selRow = 1
		}
		if selRow >= n {
			selRow = n - 1
		}
		if selCol < 0 || selCol >= g.table.GetColumnCount() {
			selCol = 0
		}
		g.table.Select(selRow, selCol)
	}

	g.mu.Lock()
	g.renders++
	g.mu.Unlock()
}

func (g *Grid) header(s gridSnapshot, labels []string) {
	for col, label := range labels {
		g.table.SetCell(0, col, tview.NewTableCell(label).
			SetTextColor(s.theme.TableHeader).
			SetBackgroundColor(s.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false))
	}
}

func (g *Grid) placeholder(s gridSnapshot, text string) {
	g.table.SetCell(1, 0, tview.NewTableCell(text).
		SetTextColor(s.theme.TableRowMuted).
		SetSelectable(false))
}

func (g *Grid) renderRows(s gridSnapshot) {
	g.layout = layoutFor(s.columns)
	labels := make([]string, len(g.layout))
	for i, name := range g.layout {
		labels[i] = columnLabel(name)
	}
	g.header(s, labels)

	if s.empty == editor.EmptyNoDataset {
		g.table.SetTitle(" Dataset ")
		g.placeholder(s, "No dataset open. Press o to open one.")
		return
	}
	if len(s.marked) > 0 {
		g.table.SetTitle(fmt.Sprintf(" Detailed (%d rows, %d marked) ", len(s.rows), len(s.marked)))
	} else {
		g.table.SetTitle(fmt.Sprintf(" Detailed (%d rows) ", len(s.rows)))
	}
	if len(s.rows) == 0 {
		g.placeholder(s, "No rows match the active filters")
		return
	}

	for i := range s.rows {
		r := &s.rows[i]
		bg := s.theme.TableZebra1
		if i%2 == 1 {
			bg = s.theme.TableZebra2
		}
		if s.marked[r.ID] {
			bg = s.theme.MarkedBg
		}
		if s.lit[r.ID] {
			bg = s.theme.HighlightBg
		}
		if s.pending[r.ID] {
			bg = s.theme.PendingBg
		}
		for col, name := range g.layout {
			text := displayValue(r, name)
			color := s.theme.TableRow
			switch name {
			case gateway.ColumnRowID:
				color = s.theme.TableRowMuted
				if s.marked[r.ID] {
					text = "+" + text
				}
				if s.pending[r.ID] {
					text += "*"
				}
			case gateway.ColumnPriority:
				color = s.theme.priorityColor(r.Priority)
			case gateway.ColumnRowStatus:
				if r.Status != "Complete" {
					color = s.theme.Warning
				}
			}
			g.table.SetCell(i+1, col, tview.NewTableCell(text).
				SetTextColor(color).
				SetBackgroundColor(bg).
				SetMaxWidth(32).
				SetReference(r.ID))
		}
	}
}

func (g *Grid) renderGroups(s gridSnapshot) {
	g.layout = nil
	g.header(s, []string{columnLabel(s.groupCol), "Total", "Mean", "Min", "Max", "Count"})
	if s.groupCol == "" {
		g.table.SetTitle(" Grouped ")
		g.placeholder(s, "Press g to choose a group column")
		return
	}
	g.table.SetTitle(fmt.Sprintf(" Grouped by %s (%d groups) ", columnLabel(s.groupCol), len(s.groups)))
	if len(s.groups) == 0 {
		g.placeholder(s, "No groups for the active filters")
		return
	}
	for i, grp := range s.groups {
		bg := s.theme.TableZebra1
		if i%2 == 1 {
			bg = s.theme.TableZebra2
		}
		key := grp.Key
		if key == "" {
			key = "(blank)"
		}
		cells := []string{
			key,
			formatAmount(grp.Sum),
			formatAmount(grp.Mean),
			formatAmount(grp.Min),
			formatAmount(grp.Max),
			strconv.Itoa(grp.Count),
		}
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetTextColor(s.theme.TableRow).SetBackgroundColor(bg)
			if col > 0 {
				cell.SetAlign(tview.AlignRight)
			}
			if col == 0 {
				cell.SetReference(grp.Key)
			}
			g.table.SetCell(i+1, col, cell)
		}
	}
}

func (g *Grid) renderKpis() {
	g.mu.Lock()
	k, depth, t := g.kpis, g.depth, g.theme
	g.mu.Unlock()

	undo := fmt.Sprintf("[%s]Undo %d[-]", t.TagMuted, depth)
	if depth > 0 {
		undo = fmt.Sprintf("[%s]Undo %d[-]", t.TagWarning, depth)
	}
	g.kpiBar.SetText(fmt.Sprintf(" [%s]Count[-] %d  [%s]Total[-] %s  [%s]Mean[-] %s  [%s]Min[-] %s  [%s]Max[-] %s  | %s",
		t.TagAccent, k.Count,
		t.TagAccent, formatAmount(k.Total),
		t.TagAccent, formatAmount(k.Mean),
		t.TagAccent, formatAmount(k.Min),
		t.TagAccent, formatAmount(k.Max),
		undo))
}

func (g *Grid) tableRowOf(rowID int64) int {
	for r := 1; r < g.table.GetRowCount(); r++ {
		if id, ok := g.rowIDAt(r); ok && id == rowID {
			return r
		}
	}
	return -1
}

func (g *Grid) rowIDAt(r int) (int64, bool) {
	if r < 1 {
		return 0, false
	}
	cell := g.table.GetCell(r, 0)
	if cell == nil {
		return 0, false
	}
	id, ok := cell.GetReference().(int64)
	return id, ok
}

// layoutFor puts the row id first and appends the derived columns the projection omits.
func layoutFor(columns []gateway.Column) []string {
	out := []string{gateway.ColumnRowID}
	seen := map[string]bool{gateway.ColumnRowID: true}
	for _, c := range columns {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c.Name)
	}
	for _, name := range []string{gateway.ColumnRowStatus, gateway.ColumnPriority} {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}

func columnLabel(name string) string {
	switch name {
	case gateway.ColumnRowID:
		return "#"
	case gateway.ColumnRowStatus:
		return "Row Status"
	case gateway.ColumnPriority:
		return "Priority"
	}
	return name
}

func displayValue(r *gateway.Row, column string) string {
	switch column {
	case gateway.ColumnRowID:
		return strconv.FormatInt(r.ID, 10)
	case gateway.ColumnRowStatus:
		return r.Status
	case gateway.ColumnPriority:
		return r.Priority
	}
	return r.Values[column]
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func cloneRow(r gateway.Row) gateway.Row {
	out := r
	out.Values = make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}
