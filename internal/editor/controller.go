package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gridsync/gridsync/internal/gateway"
)

// Options tunes a Controller.
type Options struct {
	// MaxAttempts bounds the redraws a focus request waits for (default 3).
	MaxAttempts int
	// HighlightDuration is how long a focused row stays highlighted (default 2s).
	HighlightDuration time.Duration
	Logger            *log.Logger
}

// Controller owns one SessionState and routes user actions through the
// gateway and back to the surface. Every path that changes the row set ends
// in Refresh.
type Controller struct {
	gw      gateway.Gateway
	surface Surface
	state   *SessionState
	logger  *log.Logger

	edits      *EditSession
	undo       *UndoCoordinator
	grouping   *GroupingEngine
	reconciler *Reconciler
	highlight  time.Duration
}

// NewController builds the engine around gw and surface.
func NewController(gw gateway.Gateway, surface Surface, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[editor] ", log.LstdFlags)
	}
	if opts.HighlightDuration <= 0 {
		opts.HighlightDuration = DefaultHighlightDuration
	}
	c := &Controller{
		gw:        gw,
		surface:   surface,
		state:     NewSessionState(),
		logger:    opts.Logger,
		highlight: opts.HighlightDuration,
	}
	c.reconciler = NewReconciler(surface, opts.MaxAttempts, opts.HighlightDuration, opts.Logger)
	c.edits = NewEditSession(gw, c.state, surface, opts.Logger)
	c.grouping = NewGroupingEngine(gw, c.state, surface, opts.Logger)
	c.undo = NewUndoCoordinator(gw, c.state, surface, c.reconciler, c.Refresh, opts.Logger)
	return c
}

// State exposes the session state for reading.
func (c *Controller) State() *SessionState { return c.state }

// Reconciler exposes the focus reconciler, mainly to observe it.
func (c *Controller) Reconciler() *Reconciler { return c.reconciler }

// Open describes datasetID, resets the session to it and fetches the detailed view.
func (c *Controller) Open(ctx context.Context, datasetID string) error {
	ds, err := c.gw.Describe(ctx, datasetID)
	if err != nil {
		c.surface.Notify(NoticeError, fmt.Sprintf("Could not open dataset: %v", err))
		return fmt.Errorf("failed to describe %s: %w", datasetID, err)
	}
	c.reconciler.Cancel()
	c.state.openDataset(ds)
	c.state.setMode(ModeDetailed)
	c.surface.SetUndoDepth(0)
	c.logger.Printf("Opened dataset %s (%s, %d rows)", ds.ID, ds.Name, ds.RowCount)
	return c.Refresh(ctx)
}

// Reload re-reads columns and autocomplete options, then refreshes the active view.
func (c *Controller) Reload(ctx context.Context) error {
	if !c.state.HasDataset() {
		return nil
	}
	ds, err := c.gw.Describe(ctx, c.state.DatasetID())
	if err != nil {
		c.surface.Notify(NoticeError, fmt.Sprintf("Could not reload dataset: %v", err))
		return fmt.Errorf("failed to describe %s: %w", c.state.DatasetID(), err)
	}
	c.state.updateSchema(ds)
	return c.Refresh(ctx)
}

// Refresh re-fetches the active view with the current filters.
func (c *Controller) Refresh(ctx context.Context) error {
	if !c.state.HasDataset() {
		c.surface.ShowEmpty(EmptyNoDataset)
		return nil
	}
	if c.state.Mode() == ModeGrouped {
		column := c.state.GroupColumn()
		if column == "" {
			c.surface.SetGroups("", nil)
			return nil
		}
		return c.grouping.FetchGroup(ctx, column)
	}
	return c.fetchDetailed(ctx)
}

func (c *Controller) fetchDetailed(ctx context.Context) error {
	seq := c.state.beginFetch()
	res, err := c.gw.FetchFiltered(ctx, c.state.DatasetID(), c.state.Filters())
	if err != nil {
		c.surface.Notify(NoticeError, fmt.Sprintf("Could not load rows: %v", err))
		return fmt.Errorf("failed to fetch rows: %w", err)
	}
	if !c.state.applyRows(seq, res.Rows, res.Kpis) {
		c.logger.Printf("dropping stale row response #%d", seq)
		return nil
	}

	c.surface.SetSchema(c.state.VisibleColumns())
	c.surface.SetRows(res.Rows)
	c.surface.ShowKpis(res.Kpis)
	if len(res.Rows) == 0 {
		c.surface.ShowEmpty(EmptyNoResults)
	} else {
		c.surface.ShowEmpty(EmptyNone)
	}
	c.surface.SetUndoDepth(c.state.UndoDepth())
	return nil
}

// AddFilter appends a predicate and refreshes.
func (c *Controller) AddFilter(ctx context.Context, column, value string) error {
	if _, ok := c.state.Column(column); !ok && column != "" {
		err := invalid("column", "unknown column %q", column)
		c.surface.Notify(NoticeWarn, err.Error())
		return err
	}
	if err := c.state.updateFilters(func(fs *FilterSet) error { return fs.Add(column, value) }); err != nil {
		c.surface.Notify(NoticeWarn, err.Error())
		return err
	}
	return c.Refresh(ctx)
}

// RemoveFilter drops the predicate at index i and refreshes.
func (c *Controller) RemoveFilter(ctx context.Context, i int) error {
	if err := c.state.updateFilters(func(fs *FilterSet) error { return fs.RemoveAt(i) }); err != nil {
		c.surface.Notify(NoticeWarn, err.Error())
		return err
	}
	return c.Refresh(ctx)
}

// ClearFilters drops every predicate and refreshes.
func (c *Controller) ClearFilters(ctx context.Context) error {
	_ = c.state.updateFilters(func(fs *FilterSet) error {
		fs.Clear()
		return nil
	})
	return c.Refresh(ctx)
}

// SwitchMode activates mode. Switching to the active mode is a no-op unless force is set.
// Filters are kept across modes.
func (c *Controller) SwitchMode(ctx context.Context, mode ViewMode, force bool) error {
	if !c.state.setMode(mode) && !force {
		return nil
	}
	return c.Refresh(ctx)
}

// SetVisibleColumns sets the column projection. Unknown names are rejected.
func (c *Controller) SetVisibleColumns(columns []string) error {
	for _, name := range columns {
		if _, ok := c.state.Column(name); !ok {
			err := invalid("column", "unknown column %q", name)
			c.surface.Notify(NoticeWarn, err.Error())
			return err
		}
	}
	c.state.setVisible(columns)
	c.surface.SetSchema(c.state.VisibleColumns())
	return nil
}

// Group switches to the grouped view aggregated by column.
func (c *Controller) Group(ctx context.Context, column string) error {
	err := c.grouping.FetchGroup(ctx, column)
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	c.state.setMode(ModeGrouped)
	return err
}

// Edit submits one cell edit.
func (c *Controller) Edit(ctx context.Context, rowID int64, column, newValue, oldValue string) EditOutcome {
	return c.edits.SubmitEdit(ctx, rowID, column, newValue, oldValue)
}

// Undo reverts the latest mutation and focuses the affected row.
func (c *Controller) Undo(ctx context.Context) error {
	return c.undo.Undo(ctx)
}

// Commit clears the undo history.
func (c *Controller) Commit(ctx context.Context) error {
	return c.undo.Commit(ctx)
}

// AddRow appends a row, refreshes and focuses it when the filters let it through.
func (c *Controller) AddRow(ctx context.Context) error {
	if !c.state.HasDataset() {
		c.surface.Notify(NoticeWarn, "Load a dataset first")
		return invalid("dataset", "no dataset is open")
	}
	res, err := c.gw.AddRow(ctx, c.state.DatasetID())
	if err != nil {
		c.surface.Notify(NoticeError, fmt.Sprintf("Could not add row: %v", err))
		return fmt.Errorf("failed to add row: %w", err)
	}
	c.state.adopt(res.UndoDepth, res.Kpis)
	c.surface.SetUndoDepth(res.UndoDepth)

	if err := c.Refresh(ctx); err != nil {
		return err
	}
	switch {
	case c.state.Mode() == ModeGrouped:
		c.surface.Notify(NoticeInfo, fmt.Sprintf("Row %d added; switch to the detailed view to edit it", res.NewRowID))
	case c.surface.HasRow(res.NewRowID):
		c.surface.ScrollTo(res.NewRowID)
		c.surface.Highlight(res.NewRowID, c.highlight)
	default:
		c.surface.Notify(NoticeInfo, fmt.Sprintf("Row %d added; hidden by the active filters", res.NewRowID))
	}
	return nil
}

// DeleteRow removes a row after the caller has confirmed it. The row stays
// visible until the service confirms and the view is refreshed.
func (c *Controller) DeleteRow(ctx context.Context, rowID int64) error {
	if !c.state.HasDataset() {
		c.surface.Notify(NoticeWarn, "Load a dataset first")
		return invalid("dataset", "no dataset is open")
	}
	res, err := c.gw.DeleteRow(ctx, c.state.DatasetID(), rowID)
	if err != nil {
		c.surface.Notify(NoticeError, fmt.Sprintf("Could not delete row %d: %v", rowID, err))
		return fmt.Errorf("failed to delete row %d: %w", rowID, err)
	}
	c.state.adopt(res.UndoDepth, res.Kpis)
	c.surface.SetUndoDepth(res.UndoDepth)
	return c.Refresh(ctx)
}

// ObserveUndoDepth mirrors an undo depth reported outside this session, such as
// a change notification from another client.
func (c *Controller) ObserveUndoDepth(depth int) {
	c.state.setUndoDepth(depth)
	c.surface.SetUndoDepth(depth)
}
