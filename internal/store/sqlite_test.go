package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func invoiceColumns() []Column {
	return []Column{
		{Name: "Invoice #", Kind: KindText, Editable: true},
		{Name: "Vendor", Kind: KindText, Editable: true},
		{Name: "Pay Group", Kind: KindText, Editable: true},
		{Name: "Due Date", Kind: KindDate, Editable: true},
		{Name: "Total", Kind: KindNumber, Editable: true},
	}
}

func seedInvoices(t *testing.T, store *Store) *Dataset {
	t.Helper()
	records := []map[string]string{
		{"Invoice #": "229", "Vendor": "Acme", "Pay Group": "SCF", "Due Date": "2024-01-05", "Total": "$1,000.00"},
		{"Invoice #": "996", "Vendor": "Globex", "Pay Group": "Pay Group 2", "Due Date": "2024-02-01", "Total": "250"},
		{"Invoice #": "310", "Vendor": "Acme Labs", "Pay Group": "Domestic", "Due Date": "", "Total": "50.5"},
		{"Invoice #": "411", "Vendor": "Initech", "Pay Group": "INTERCOMPANY", "Due Date": "2024-03-09", "Total": "abc"},
	}
	ds, err := store.CreateDataset(context.Background(), "invoices.xlsx", invoiceColumns(), records)
	require.NoError(t, err)
	return ds
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t)

	var count int
	err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table'").Scan(&count)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 4, "Expected tables to be created")
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "gridsync.db")
	store, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.FileExists(t, dbPath)
}

func TestCreateDatasetDerivesRowMeta(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	assert.Equal(t, "Pay Group", ds.PayGroupColumn)
	assert.Equal(t, 4, ds.RowCount)

	rows, err := store.LoadRows(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, PriorityHigh, rows[0].Priority)
	assert.Equal(t, StatusComplete, rows[0].Status)

	assert.Equal(t, PriorityLow, rows[1].Priority)
	assert.Equal(t, PriorityMedium, rows[2].Priority)
	assert.Equal(t, StatusIncomplete, rows[2].Status, "blank due date")
	assert.Equal(t, PriorityHigh, rows[3].Priority)
}

func TestCreateDatasetRejectsReservedColumns(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateDataset(context.Background(), "bad", []Column{{Name: "_row_id"}}, nil)
	assert.Error(t, err)
}

func TestGetDatasetNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetDataset(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListAndDeleteDatasets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedInvoices(t, store)
	b := seedInvoices(t, store)

	list, err := store.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, store.DeleteDataset(ctx, a.ID))
	list, err = store.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	assert.ErrorIs(t, store.DeleteDataset(ctx, a.ID), ErrNotFound)
}

func TestFilterSemantics(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters []Filter
		want    []int64
	}{
		{"no filters", nil, []int64{1, 2, 3, 4}},
		{"substring is case-insensitive", []Filter{{"Vendor", "acme"}}, []int64{1, 3}},
		{"same column is OR", []Filter{{"Invoice #", "229"}, {"Invoice #", "996"}}, []int64{1, 2}},
		{"different columns are AND", []Filter{{"Vendor", "acme"}, {"Pay Group", "scf"}}, []int64{1}},
		{"row id matches exactly", []Filter{{ColRowID, "1"}}, []int64{1}},
		{"row id ignores non-integers", []Filter{{ColRowID, "abc"}}, []int64{1, 2, 3, 4}},
		{"derived priority", []Filter{{ColPriority, "high"}}, []int64{1, 4}},
		{"derived status", []Filter{{ColRowStatus, "incomplete"}}, []int64{3}},
		{"blank entries skipped", []Filter{{"", "x"}, {"Vendor", ""}}, []int64{1, 2, 3, 4}},
		{"unknown column ignored", []Filter{{"Nope", "x"}}, []int64{1, 2, 3, 4}},
		{"no match", []Filter{{"Vendor", "zzz"}}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, kpis, err := store.Filter(ctx, ds.ID, tt.filters)
			require.NoError(t, err)
			got := make([]int64, 0, len(rows))
			for _, r := range rows {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), kpis.Count)
		})
	}
}

func TestFilterKpis(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	_, kpis, err := store.Filter(ctx, ds.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, kpis.Count)
	assert.InDelta(t, 1300.5, kpis.Total, 0.001)
	assert.InDelta(t, 325.125, kpis.Mean, 0.001)
	assert.InDelta(t, 0, kpis.Min, 0.001, "unparseable amounts count as zero")
	assert.InDelta(t, 1000, kpis.Max, 0.001)

	_, kpis, err = store.Filter(ctx, ds.ID, []Filter{{"Vendor", "nobody"}})
	require.NoError(t, err)
	assert.Equal(t, Kpis{}, kpis)
}

func TestKpisWithoutAmountColumn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ds, err := store.CreateDataset(ctx, "plain", []Column{{Name: "Name", Kind: KindText, Editable: true}},
		[]map[string]string{{"Name": "a"}, {"Name": "b"}})
	require.NoError(t, err)

	kpis, err := store.Kpis(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, Kpis{Count: 2}, kpis)
}

func TestGroup(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)
	ctx := context.Background()

	groups, err := store.Group(ctx, ds.ID, nil, ColPriority)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "High", groups[0].Key)
	assert.Equal(t, 2, groups[0].Count)
	assert.InDelta(t, 1000, groups[0].Sum, 0.001)
	assert.InDelta(t, 500, groups[0].Mean, 0.001)
	assert.InDelta(t, 0, groups[0].Min, 0.001)
	assert.InDelta(t, 1000, groups[0].Max, 0.001)

	assert.Equal(t, "Low", groups[1].Key)
	assert.Equal(t, "Medium", groups[2].Key)

	groups, err = store.Group(ctx, ds.ID, []Filter{{"Vendor", "nobody"}}, "Vendor")
	require.NoError(t, err)
	assert.Empty(t, groups)

	_, err = store.Group(ctx, ds.ID, nil, "Nope")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestAutocomplete(t *testing.T) {
	store := newTestStore(t)
	ds := seedInvoices(t, store)

	opts, err := store.Autocomplete(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Acme Labs", "Globex", "Initech"}, opts["Vendor"])
	assert.Equal(t, []string{"High", "Low", "Medium"}, opts[ColPriority])
	assert.Equal(t, []string{"2024-01-05", "2024-02-01", "2024-03-09"}, opts["Due Date"])
}

func TestAutocompleteIsCapped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	var records []map[string]string
	for i := 0; i < MaxAutocompleteValues+50; i++ {
		records = append(records, map[string]string{"Code": fmt.Sprintf("C%04d", i)})
	}
	ds, err := store.CreateDataset(ctx, "codes", []Column{{Name: "Code", Kind: KindText, Editable: true}}, records)
	require.NoError(t, err)

	opts, err := store.Autocomplete(ctx, ds.ID)
	require.NoError(t, err)
	assert.Len(t, opts["Code"], MaxAutocompleteValues)
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityFor(" scf "))
	assert.Equal(t, PriorityHigh, PriorityFor("Intercompany"))
	assert.Equal(t, PriorityLow, PriorityFor("pay group 7"))
	assert.Equal(t, PriorityMedium, PriorityFor(""))
	assert.Equal(t, PriorityMedium, PriorityFor("Domestic"))
}

func TestParseAmount(t *testing.T) {
	assert.InDelta(t, 1234.5, ParseAmount("$1,234.50"), 0.0001)
	assert.InDelta(t, -3, ParseAmount(" -3 "), 0.0001)
	assert.Zero(t, ParseAmount(""))
	assert.Zero(t, ParseAmount("n/a"))
}
