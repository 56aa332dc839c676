package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateCell(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.UpdateCell(ctx, ds.ID, 3, "Due Date", "2024-04-01", "tester")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Depth)
	assert.Equal(t, StatusComplete, res.Row.Status)
	assert.Equal(t, "2024-04-01", res.Row.Values["Due Date"])

	res, err = store.UpdateCell(ctx, ds.ID, 3, "Pay Group", "SCF", "tester")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, res.Row.Priority)
	assert.Equal(t, 2, res.Depth)

	res, err = store.UpdateCell(ctx, ds.ID, 1, "Total", "500", "tester")
	require.NoError(t, err)
	assert.InDelta(t, 800.5, res.Kpis.Total, 0.001)
}

func TestUpdateCellSameValueIsNoChange(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.UpdateCell(ctx, ds.ID, 1, "Vendor", "Acme", "tester")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, res.Depth)

	entries, err := store.GetAuditEntries(ctx, ds.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpdateCellErrors(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	_, err := store.UpdateCell(ctx, ds.ID, 99, "Vendor", "x", "tester")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.UpdateCell(ctx, ds.ID, 1, "Nope", "x", "tester")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = store.UpdateCell(ctx, ds.ID, 1, ColPriority, "High", "tester")
	assert.ErrorIs(t, err, ErrReadOnlyColumn)

	_, err = store.UpdateCell(ctx, "missing", 1, "Vendor", "x", "tester")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUndoUpdateReportsRow(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	_, err := store.UpdateCell(ctx, ds.ID, 2, "Pay Group", "SCF", "tester")
	require.NoError(t, err)

	res, err := store.Undo(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, res.Action)
	require.NotNil(t, res.AffectedRowID)
	assert.Equal(t, int64(2), *res.AffectedRowID)
	assert.Equal(t, 0, res.Depth)
	assert.Equal(t, "Pay Group 2", res.Row.Values["Pay Group"])
	assert.Equal(t, PriorityLow, res.Row.Priority)

	_, err = store.Undo(ctx, ds.ID, "tester")
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestAddRowThenUndo(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.AddRow(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Row.ID)
	assert.Equal(t, StatusIncomplete, res.Row.Status)
	assert.Equal(t, PriorityMedium, res.Row.Priority)
	assert.Equal(t, 1, res.Depth)
	assert.Equal(t, 5, res.Kpis.Count)

	res, err = store.Undo(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, ActionAdd, res.Action)
	assert.Nil(t, res.AffectedRowID)
	assert.Equal(t, 4, res.Kpis.Count)

	rows, err := store.LoadRows(ctx, ds.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestDeleteRowUndoRestoresPosition(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.DeleteRow(ctx, ds.ID, 2, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Depth)
	assert.Equal(t, 3, res.Kpis.Count)

	// A new row must not take the deleted row's ID while its delete is undoable.
	added, err := store.AddRow(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, int64(5), added.Row.ID)
	_, err = store.Undo(ctx, ds.ID, "tester")
	require.NoError(t, err)

	res, err = store.Undo(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, res.Action)
	require.NotNil(t, res.AffectedRowID)
	assert.Equal(t, int64(2), *res.AffectedRowID)

	rows, err := store.LoadRows(ctx, ds.ID)
	require.NoError(t, err)
	ids := []int64{}
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
	assert.Equal(t, "Globex", rows[1].Values["Vendor"])
}

func TestDeleteMissingRow(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	_, err := store.DeleteRow(context.Background(), ds.ID, 42, "tester")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryIsCapped(t *testing.T) {
	store := newTestStore(t)
	store.SetUndoLimit(3)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		_, err := store.UpdateCell(ctx, ds.ID, 1, "Vendor", v, "tester")
		require.NoError(t, err)
	}
	depth, err := store.HistoryDepth(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	for i := 0; i < 3; i++ {
		_, err := store.Undo(ctx, ds.ID, "tester")
		require.NoError(t, err)
	}
	rows, _, err := store.Filter(ctx, ds.ID, []Filter{{ColRowID, "1"}})
	require.NoError(t, err)
	assert.Equal(t, "b", rows[0].Values["Vendor"], "oldest entries were dropped")

	_, err = store.Undo(ctx, ds.ID, "tester")
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestCommitClearsHistory(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	_, err := store.UpdateCell(ctx, ds.ID, 1, "Vendor", "Umbrella", "tester")
	require.NoError(t, err)
	_, err = store.AddRow(ctx, ds.ID, "tester")
	require.NoError(t, err)

	require.NoError(t, store.Commit(ctx, ds.ID, "tester"))
	depth, err := store.HistoryDepth(ctx, ds.ID)
	require.NoError(t, err)
	assert.Zero(t, depth)

	_, err = store.Undo(ctx, ds.ID, "tester")
	assert.ErrorIs(t, err, ErrNothingToUndo)

	assert.ErrorIs(t, store.Commit(ctx, "missing", "tester"), ErrNotFound)
}
