package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsByID(t *testing.T, store *Store, datasetID string) map[int64]Row {
	t.Helper()
	rows, err := store.LoadRows(context.Background(), datasetID)
	require.NoError(t, err)
	out := make(map[int64]Row, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out
}

func TestBulkUpdateIsOneUndoEntry(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.BulkUpdate(ctx, ds.ID, []int64{3, 1, 2, 2}, "Pay Group", "SCF", "tester")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, ActionBulkUpdate, res.Action)
	assert.Equal(t, 2, res.Affected, "row 1 already held the value")
	assert.Equal(t, 1, res.Depth)

	rows := rowsByID(t, store, ds.ID)
	assert.Equal(t, PriorityHigh, rows[2].Priority)
	assert.Equal(t, PriorityHigh, rows[3].Priority)

	res, err = store.Undo(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, ActionBulkUpdate, res.Action)
	assert.Nil(t, res.AffectedRowID)
	assert.Equal(t, 2, res.Affected)
	assert.Equal(t, 0, res.Depth)

	rows = rowsByID(t, store, ds.ID)
	assert.Equal(t, "Pay Group 2", rows[2].Values["Pay Group"])
	assert.Equal(t, PriorityLow, rows[2].Priority)
	assert.Equal(t, "Domestic", rows[3].Values["Pay Group"])
	assert.Equal(t, PriorityMedium, rows[3].Priority)
	assert.Equal(t, "SCF", rows[1].Values["Pay Group"])
}

func TestBulkUpdateRecomputesStatusAndKpis(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.BulkUpdate(ctx, ds.ID, []int64{3, 4}, "Total", "100", "tester")
	require.NoError(t, err)
	assert.InDelta(t, 1450.0, res.Kpis.Total, 0.001)

	res, err = store.BulkUpdate(ctx, ds.ID, []int64{3}, "Due Date", "2024-05-01", "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Depth)
	assert.Equal(t, StatusComplete, rowsByID(t, store, ds.ID)[3].Status)
}

func TestBulkUpdateWithoutChangesRecordsNothing(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.BulkUpdate(ctx, ds.ID, []int64{1}, "Vendor", "Acme", "tester")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Zero(t, res.Affected)
	assert.Equal(t, 0, res.Depth)

	entries, err := store.GetAuditEntries(ctx, ds.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBulkUpdateErrors(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	_, err := store.BulkUpdate(ctx, ds.ID, nil, "Vendor", "x", "tester")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.BulkUpdate(ctx, ds.ID, []int64{1, -2}, "Vendor", "x", "tester")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.BulkUpdate(ctx, ds.ID, []int64{1, 99}, "Vendor", "x", "tester")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Acme", rowsByID(t, store, ds.ID)[1].Values["Vendor"], "failed call leaves rows untouched")

	_, err = store.BulkUpdate(ctx, ds.ID, []int64{1}, ColPriority, "High", "tester")
	assert.ErrorIs(t, err, ErrReadOnlyColumn)

	_, err = store.BulkUpdate(ctx, ds.ID, []int64{1}, "Nope", "x", "tester")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = store.BulkUpdate(ctx, "missing", []int64{1}, "Vendor", "x", "tester")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindReplaceMatchesWholeCell(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.FindReplace(ctx, ds.ID, []int64{1, 2, 3, 4}, "Vendor", " Acme ", "Acme Corp", "tester")
	require.NoError(t, err)
	assert.Equal(t, ActionBulkUpdate, res.Action)
	assert.Equal(t, 1, res.Affected)

	rows := rowsByID(t, store, ds.ID)
	assert.Equal(t, "Acme Corp", rows[1].Values["Vendor"])
	assert.Equal(t, "Acme Labs", rows[3].Values["Vendor"])

	res, err = store.FindReplace(ctx, ds.ID, []int64{2}, "Vendor", "Acme", "x", "tester")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	_, err = store.FindReplace(ctx, ds.ID, []int64{1}, "Vendor", "  ", "x", "tester")
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, err = store.Undo(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Nil(t, res.AffectedRowID)
	assert.Equal(t, "Acme", rowsByID(t, store, ds.ID)[1].Values["Vendor"])
}

func TestBulkDeleteUndoRestoresEveryRow(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	res, err := store.BulkDelete(ctx, ds.ID, []int64{4, 2}, "tester")
	require.NoError(t, err)
	assert.Equal(t, ActionBulkDelete, res.Action)
	assert.Equal(t, 2, res.Affected)
	assert.Equal(t, 1, res.Depth)
	assert.Equal(t, 2, res.Kpis.Count)

	// Deleted IDs stay reserved while the delete can be undone.
	added, err := store.AddRow(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, int64(5), added.Row.ID)
	_, err = store.Undo(ctx, ds.ID, "tester")
	require.NoError(t, err)

	res, err = store.Undo(ctx, ds.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, ActionBulkDelete, res.Action)
	assert.Nil(t, res.AffectedRowID)
	assert.Equal(t, 4, res.Kpis.Count)

	rows, err := store.LoadRows(ctx, ds.ID)
	require.NoError(t, err)
	ids := []int64{}
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
	assert.Equal(t, PriorityHigh, rows[3].Priority)
	assert.Equal(t, "Globex", rows[1].Values["Vendor"])
}

func TestBulkDeleteErrors(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	_, err := store.BulkDelete(ctx, ds.ID, []int64{}, "tester")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.BulkDelete(ctx, ds.ID, []int64{1, 42}, "tester")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, rowsByID(t, store, ds.ID), 4)
}

func TestBulkMutationsAreAudited(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	_, err := store.BulkUpdate(ctx, ds.ID, []int64{1, 2}, "Vendor", "Hooli", "alice")
	require.NoError(t, err)
	_, err = store.BulkDelete(ctx, ds.ID, []int64{3}, "alice")
	require.NoError(t, err)
	_, err = store.Undo(ctx, ds.ID, "alice")
	require.NoError(t, err)

	entries, err := store.GetAuditEntries(ctx, ds.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	actions := map[string]AuditEntry{}
	for _, e := range entries {
		actions[e.Action] = e
	}
	require.Contains(t, actions, ActionBulkUpdate)
	assert.Equal(t, "Vendor", actions[ActionBulkUpdate].Details["column"])
	assert.Equal(t, "Hooli", actions[ActionBulkUpdate].Details["new_value"])
	require.Contains(t, actions, ActionUndo)
	assert.Equal(t, ActionBulkDelete, actions[ActionUndo].Details["undone"])
	assert.Zero(t, actions[ActionUndo].RowID)
}

func TestBulkEntriesCountTowardsUndoLimit(t *testing.T) {
	store := newTestStore(t)
	store.SetUndoLimit(2)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		_, err := store.BulkUpdate(ctx, ds.ID, []int64{1, 2}, "Vendor", v, "tester")
		require.NoError(t, err)
	}
	depth, err := store.HistoryDepth(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}
