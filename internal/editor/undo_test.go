package editor

import (
	"context"
	"testing"
	"time"

	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndoWithEmptyHistoryMakesNoCall(t *testing.T) {
	c, gw, surface := openController(t)

	require.NoError(t, c.Undo(context.Background()))
	assert.Zero(t, gw.count("undo"))
	assert.Equal(t, notice{Level: NoticeInfo, Msg: "Nothing to undo"}, surface.lastNotice())
}

func TestUndoFailureLeavesStateUnchanged(t *testing.T) {
	c, gw, surface := openController(t)
	ctx := context.Background()
	require.NoError(t, c.DeleteRow(ctx, 2))
	fetches := gw.count("filter")

	gw.undo = func() (*gateway.UndoResult, error) {
		return nil, &gateway.RemoteError{Message: "connection refused"}
	}
	err := c.Undo(ctx)
	assert.True(t, gateway.IsStatus(err, 0))
	assert.Equal(t, 1, c.State().UndoDepth())
	assert.Equal(t, fetches, gw.count("filter"), "no refresh after a failed undo")
	assert.Equal(t, ReconcileIdle, c.Reconciler().State())
	assert.Equal(t, NoticeError, surface.lastNotice().Level)
}

// add-row then undo: the affected row is focused once the refresh renders it.
func TestUndoFocusesAffectedRowAcrossRedraws(t *testing.T) {
	gw := newFakeGateway()
	surface := newFakeSurface()
	c := NewController(gw, surface, Options{Logger: quietLogger(), MaxAttempts: 3, HighlightDuration: 2 * time.Second})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, "ds-1"))

	withNewRow := func(n int, filters []gateway.Filter) (*gateway.FilterResult, error) {
		rows := append(invoiceRows(), gateway.Row{ID: 4, Values: map[string]string{}})
		return &gateway.FilterResult{Rows: rows, Kpis: gateway.Kpis{Count: 4}}, nil
	}
	gw.filter = withNewRow
	require.NoError(t, c.AddRow(ctx))
	require.Equal(t, 1, c.State().UndoDepth())

	var settled []ReconcileResult
	c.Reconciler().OnSettled(func(res ReconcileResult) { settled = append(settled, res) })

	affected := int64(4)
	gw.undo = func() (*gateway.UndoResult, error) {
		return &gateway.UndoResult{Action: "add", ActionLabel: "Undid add row", AffectedRowID: &affected, UndoDepth: 0}, nil
	}
	gw.filter = func(n int, filters []gateway.Filter) (*gateway.FilterResult, error) {
		// the listener is attached before the refresh is issued
		assert.Equal(t, ReconcileAwaiting, c.Reconciler().State())
		assert.Equal(t, 1, surface.Listeners())
		return withNewRow(n, filters)
	}
	surface.replaceRows(nil)

	require.NoError(t, c.Undo(ctx))

	// SetSchema redraws with the old (empty) rows, SetRows redraws with row 4.
	require.Len(t, settled, 1)
	assert.Equal(t, ReconcileResolved, settled[0].State)
	assert.Equal(t, int64(4), settled[0].Target)
	assert.Equal(t, 2, settled[0].Attempts)
	assert.Equal(t, 0, surface.Listeners())
	assert.Equal(t, 2*time.Second, surface.highlighted[4])
	assert.Equal(t, 0, c.State().UndoDepth())
	assert.False(t, c.State().CanUndo())
	assert.Contains(t, surface.Notices(), notice{Level: NoticeInfo, Msg: "Undid add row"})
}

func TestUndoOfFilteredOutRowGivesUp(t *testing.T) {
	c, gw, surface := openController(t)
	ctx := context.Background()
	require.NoError(t, c.DeleteRow(ctx, 2))

	affected := int64(42)
	gw.undo = func() (*gateway.UndoResult, error) {
		return &gateway.UndoResult{Action: "update", AffectedRowID: &affected, UndoDepth: 0}, nil
	}
	require.NoError(t, c.Undo(ctx))
	assert.Equal(t, ReconcileAwaiting, c.Reconciler().State(), "two redraws so far, one attempt left")

	surface.Redraw()
	assert.Equal(t, ReconcileGaveUp, c.Reconciler().State())
	assert.Equal(t, 0, surface.Listeners())
	assert.NotEqual(t, NoticeError, surface.lastNotice().Level)
}

func TestUndoWithoutAffectedRowDoesNotArm(t *testing.T) {
	c, gw, surface := openController(t)
	ctx := context.Background()
	require.NoError(t, c.AddRow(ctx))

	gw.undo = func() (*gateway.UndoResult, error) {
		return &gateway.UndoResult{Action: "add", UndoDepth: 0}, nil
	}
	require.NoError(t, c.Undo(ctx))
	assert.Equal(t, ReconcileIdle, c.Reconciler().State())
	assert.Equal(t, 0, surface.Listeners())
}

func TestUndoRefreshFailureDisarms(t *testing.T) {
	c, gw, surface := openController(t)
	ctx := context.Background()
	require.NoError(t, c.DeleteRow(ctx, 2))

	affected := int64(2)
	gw.undo = func() (*gateway.UndoResult, error) {
		return &gateway.UndoResult{Action: "delete", AffectedRowID: &affected, UndoDepth: 0}, nil
	}
	gw.filter = func(int, []gateway.Filter) (*gateway.FilterResult, error) {
		return nil, &gateway.RemoteError{Status: 503, Message: "unavailable"}
	}
	assert.Error(t, c.Undo(ctx))
	assert.Equal(t, 0, c.State().UndoDepth(), "the undo itself succeeded")
	assert.Equal(t, ReconcileIdle, c.Reconciler().State())
	assert.Equal(t, 0, surface.Listeners())
}

func TestCommit(t *testing.T) {
	c, gw, surface := openController(t)
	ctx := context.Background()

	require.NoError(t, c.Commit(ctx))
	assert.Zero(t, gw.count("commit"), "nothing to commit")

	require.NoError(t, c.AddRow(ctx))
	gw.commit = func() error { return &gateway.RemoteError{Status: 500, Message: "disk full"} }
	assert.Error(t, c.Commit(ctx))
	assert.Equal(t, 1, c.State().UndoDepth())

	gw.commit = nil
	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, 0, c.State().UndoDepth())
	assert.Equal(t, 0, surface.depth)
	assert.Equal(t, "Changes committed", surface.lastNotice().Msg)
}

func TestObservedUndoDepthEnablesUndo(t *testing.T) {
	c, gw, surface := openController(t)

	c.ObserveUndoDepth(2)
	assert.Equal(t, 2, c.State().UndoDepth())
	surface.mu.Lock()
	assert.Equal(t, 2, surface.depth)
	surface.mu.Unlock()

	require.NoError(t, c.Undo(context.Background()))
	assert.Equal(t, 1, gw.count("undo"))
	assert.Equal(t, 0, c.State().UndoDepth())
}
