package server

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gridsync/gridsync/internal/bus"
	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/gridsync/gridsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedInvoices(t *testing.T, st *store.Store) *store.Dataset {
	t.Helper()
	cols := []store.Column{
		{Name: "Invoice #", Kind: store.KindText, Editable: true},
		{Name: "Vendor", Kind: store.KindText, Editable: true},
		{Name: "Pay Group", Kind: store.KindText, Editable: true},
		{Name: "Due Date", Kind: store.KindDate, Editable: true},
		{Name: "Total", Kind: store.KindNumber, Editable: true},
	}
	records := []map[string]string{
		{"Invoice #": "229", "Vendor": "Acme", "Pay Group": "SCF", "Due Date": "2024-01-05", "Total": "$1,000.00"},
		{"Invoice #": "996", "Vendor": "Globex", "Pay Group": "Pay Group 2", "Due Date": "2024-02-01", "Total": "250"},
		{"Invoice #": "310", "Vendor": "Acme Labs", "Pay Group": "Domestic", "Due Date": "", "Total": "50.5"},
	}
	ds, err := st.CreateDataset(context.Background(), "invoices.xlsx", cols, records)
	require.NoError(t, err)
	return ds
}

func newTestServer(t *testing.T, st *store.Store, b bus.Bus, opts Options) *httptest.Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	s := NewServer(st, b, opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.limiter.Close()
	})
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, newTestStore(t), nil, Options{Token: "secret"})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok","bus":{"type":"null","status":"disabled"}}`, string(body))
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, newTestStore(t), nil, Options{Token: "secret"})

	resp, err := http.Get(ts.URL + "/api/datasets")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	g := gateway.NewHTTPGateway(ts.URL, gateway.Options{Token: "wrong"})
	_, err = g.ListDatasets(context.Background())
	assert.True(t, gateway.IsStatus(err, http.StatusUnauthorized))

	g = gateway.NewHTTPGateway(ts.URL, gateway.Options{Token: "secret"})
	list, err := g.ListDatasets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGatewayRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ds := seedInvoices(t, st)
	ts := newTestServer(t, st, nil, Options{})
	g := gateway.NewHTTPGateway(ts.URL, gateway.Options{ClientID: "client-a"})
	ctx := context.Background()

	desc, err := g.Describe(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, desc.RowCount)
	require.Len(t, desc.Columns, 5)
	assert.Equal(t, store.KindDate, desc.Columns[3].Kind)
	assert.Equal(t, []string{"Acme", "Acme Labs", "Globex"}, desc.Autocomplete["Vendor"])

	fr, err := g.FetchFiltered(ctx, ds.ID, []gateway.Filter{{Column: "Vendor", Value: "acme"}})
	require.NoError(t, err)
	assert.Equal(t, 2, fr.RowCount)
	assert.InDelta(t, 1050.5, fr.Kpis.Total, 0.001)
	assert.Equal(t, int64(1), fr.Rows[0].ID)
	assert.Equal(t, store.PriorityHigh, fr.Rows[0].Priority)
	assert.Equal(t, store.StatusIncomplete, fr.Rows[1].Status)

	gr, err := g.FetchGrouped(ctx, ds.ID, nil, "Vendor")
	require.NoError(t, err)
	require.Len(t, gr.Groups, 3)
	assert.Equal(t, "Acme", gr.Groups[0].Key)

	mr, err := g.MutateCell(ctx, ds.ID, 3, "Due Date", "2024-04-01")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, mr.Status)
	assert.Equal(t, 1, mr.UndoDepth)
	assert.Equal(t, store.StatusComplete, mr.RowStatus)

	mr, err = g.MutateCell(ctx, ds.ID, 3, "Due Date", "2024-04-01")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusNoChange, mr.Status)
	assert.Equal(t, 1, mr.UndoDepth)

	ar, err := g.AddRow(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), ar.NewRowID)
	assert.Equal(t, 2, ar.UndoDepth)
	assert.Equal(t, 4, ar.Kpis.Count)

	dr, err := g.DeleteRow(ctx, ds.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, dr.UndoDepth)
	assert.InDelta(t, 1050.5, dr.Kpis.Total, 0.001)

	ur, err := g.Undo(ctx, ds.ID)
	require.NoError(t, err)
	require.NotNil(t, ur.AffectedRowID)
	assert.Equal(t, int64(2), *ur.AffectedRowID)
	assert.Equal(t, "Undid delete of row 2", ur.ActionLabel)
	assert.Equal(t, 2, ur.UndoDepth)

	ur, err = g.Undo(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ActionAdd, ur.Action)
	assert.Nil(t, ur.AffectedRowID)
	assert.Equal(t, 1, ur.UndoDepth)

	require.NoError(t, g.Commit(ctx, ds.ID))
	depth, err := st.HistoryDepth(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	entries, err := g.Audit(ctx, ds.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.ActionCommit, entries[0].Action)
	assert.Equal(t, "client-a", entries[0].Actor)
}

func TestErrorMapping(t *testing.T) {
	st := newTestStore(t)
	ds := seedInvoices(t, st)
	ts := newTestServer(t, st, nil, Options{})
	g := gateway.NewHTTPGateway(ts.URL, gateway.Options{})
	ctx := context.Background()

	_, err := g.Describe(ctx, "missing")
	assert.True(t, gateway.IsStatus(err, http.StatusNotFound))

	_, err = g.MutateCell(ctx, ds.ID, 1, store.ColPriority, "Low")
	assert.True(t, gateway.IsStatus(err, http.StatusBadRequest))

	_, err = g.MutateCell(ctx, ds.ID, 1, "Nope", "x")
	assert.True(t, gateway.IsStatus(err, http.StatusBadRequest))

	_, err = g.MutateCell(ctx, ds.ID, 99, "Vendor", "x")
	assert.True(t, gateway.IsStatus(err, http.StatusNotFound))

	_, err = g.FetchGrouped(ctx, ds.ID, nil, "")
	assert.True(t, gateway.IsStatus(err, http.StatusBadRequest))

	_, err = g.Undo(ctx, ds.ID)
	var re *gateway.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusConflict, re.Status)
	assert.Equal(t, "Nothing to undo", re.Message)

	resp, err := http.Post(ts.URL+"/api/datasets/"+ds.ID+"/filter", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, newTestStore(t), nil, Options{RPS: 1, Burst: 1})

	first, err := http.Get(ts.URL + "/api/datasets")
	require.NoError(t, err)
	first.Body.Close()
	second, err := http.Get(ts.URL + "/api/datasets")
	require.NoError(t, err)
	second.Body.Close()

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestUploadAndExport(t *testing.T) {
	st := newTestStore(t)
	ts := newTestServer(t, st, nil, Options{DateColumns: []string{"paid"}})
	g := gateway.NewHTTPGateway(ts.URL, gateway.Options{ClientID: "uploader"})
	ctx := context.Background()

	f := excelize.NewFile()
	for i, r := range [][]interface{}{
		{"Vendor", "Paid", "Amount"},
		{"Acme", "2024-01-01", "10"},
		{"Acme", "", "5"},
		{"Globex", "2024-02-01", "20"},
	} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	ds, err := g.Upload(ctx, "book.xlsx", &buf)
	require.NoError(t, err)
	assert.Equal(t, "book.xlsx", ds.Name)
	assert.Equal(t, 3, ds.RowCount)
	assert.Equal(t, store.KindDate, ds.Columns[1].Kind)
	assert.Equal(t, []string{"Acme", "Globex"}, ds.Autocomplete["Vendor"])

	var out bytes.Buffer
	require.NoError(t, g.Export(ctx, ds.ID, []gateway.Filter{{Column: "Vendor", Value: "acme"}}, "", &out))
	wb, err := excelize.OpenReader(&out)
	require.NoError(t, err)
	rows, err := wb.GetRows("Detailed")
	require.NoError(t, err)
	require.NoError(t, wb.Close())
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Row", "Vendor", "Paid", "Amount", "Status", "Priority"}, rows[0])
	assert.Equal(t, "Incomplete", rows[2][4])

	out.Reset()
	require.NoError(t, g.Export(ctx, ds.ID, nil, "Vendor", &out))
	wb, err = excelize.OpenReader(&out)
	require.NoError(t, err)
	rows, err = wb.GetRows("Grouped")
	require.NoError(t, err)
	require.NoError(t, wb.Close())
	assert.Equal(t, []string{"Vendor", "Total", "Mean", "Min", "Max", "Count"}, rows[0])
	assert.Equal(t, []string{"Globex", "20.00", "20.00", "20.00", "20.00", "1"}, rows[1])
}

func TestMutationsArePublished(t *testing.T) {
	st := newTestStore(t)
	ds := seedInvoices(t, st)
	mr := miniredis.RunT(t)
	rb, err := bus.NewRedisBus("redis://"+mr.Addr(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rb.EnsureGroup(ctx, bus.ChangesStream, "watcher"))

	ts := newTestServer(t, st, rb, Options{})
	g := gateway.NewHTTPGateway(ts.URL, gateway.Options{ClientID: "editor-1"})
	_, err = g.MutateCell(ctx, ds.ID, 1, "Vendor", "Acme Corp")
	require.NoError(t, err)

	got := make(chan bus.ChangeMessage, 1)
	go func() {
		_ = rb.ReadChanges(ctx, "watcher", "w1", func(ctx context.Context, msg bus.ChangeMessage) error {
			select {
			case got <- msg:
			default:
			}
			return nil
		})
	}()

	select {
	case msg := <-got:
		assert.Equal(t, ds.ID, msg.DatasetID)
		assert.Equal(t, store.ActionUpdate, msg.Action)
		assert.Equal(t, int64(1), msg.RowID)
		assert.Equal(t, 1, msg.UndoDepth)
		assert.Equal(t, "editor-1", msg.Origin)
	case <-ctx.Done():
		t.Fatal("change was not published")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	st := newTestStore(t)
	ds := seedInvoices(t, st)
	ts := newTestServer(t, st, nil, Options{})
	g := gateway.NewHTTPGateway(ts.URL, gateway.Options{})
	_, err := g.FetchFiltered(context.Background(), ds.ID, nil)
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "gridsync_http_requests_total")
	assert.Contains(t, string(body), `gridsync_fetches_total{kind="filter"}`)
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(newTestStore(t), nil, Options{Bind: "127.0.0.1:0", Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Error(t, s.Start(ctx), "second start is rejected")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
