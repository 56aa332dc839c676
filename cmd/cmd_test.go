package cmd

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/gridsync/gridsync/internal/ingest"
	"github.com/gridsync/gridsync/internal/server"
	"github.com/gridsync/gridsync/internal/store"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilters(t *testing.T) {
	filters, err := parseFilters([]string{"Vendor=acme", " Pay Group =SCF", "Due Date="})
	require.NoError(t, err)
	assert.Equal(t, []gateway.Filter{
		{Column: "Vendor", Value: "acme"},
		{Column: "Pay Group", Value: "SCF"},
		{Column: "Due Date", Value: ""},
	}, filters)

	_, err = parseFilters([]string{"Vendor"})
	assert.Error(t, err)
	_, err = parseFilters([]string{"=acme"})
	assert.Error(t, err)
}

func TestErrorFilterWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "[serve] ", "error")

	logger.Println("Starting Gridsync dataset service")
	logger.Println("failed to trim change stream: boom")
	logger.Println("folder ingest stopped: context canceled")

	out := buf.String()
	assert.NotContains(t, out, "Starting")
	assert.Contains(t, out, "failed to trim change stream")
	assert.NotContains(t, out, "context canceled")

	buf.Reset()
	newLogger(&buf, "[serve] ", "info").Println("Starting")
	assert.Contains(t, buf.String(), "[serve] ")
}

func TestResolvePathRelativeToBase(t *testing.T) {
	assert.Equal(t, filepath.Join("/srv", "data/gridsync.db"), resolvePathRelativeToBase("/srv", "./data/gridsync.db"))
	assert.Equal(t, "/var/db.sqlite", resolvePathRelativeToBase("/srv", "/var/db.sqlite"))
	assert.Equal(t, ":memory:", resolvePathRelativeToBase("/srv", ":memory:"))
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	printAudit(&buf, "ds-1", nil)
	assert.Equal(t, "No audit entries for ds-1.\n", buf.String())

	buf.Reset()
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	printAudit(&buf, "ds-1", []gateway.AuditEntry{{
		Action:    "update",
		Actor:     "ui-1",
		RowID:     7,
		Details:   map[string]interface{}{"new": "SCF", "column": "Pay Group"},
		Timestamp: ts,
	}})
	assert.Contains(t, buf.String(), "2024-03-01 09:30:00  UPDATE  ui-1  row 7  column=Pay Group new=SCF")
}

// runCLI executes the root command against the service at url and returns its output.
func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	viper.Set("client.url", url)
	t.Cleanup(func() { viper.Set("client.url", "") })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestClientCommandsAgainstService(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	srv := server.NewServer(st, nil, server.Options{Logger: log.New(io.Discard, "", 0)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	book := filepath.Join(dir, "invoices.xlsx")
	f, err := os.Create(book)
	require.NoError(t, err)
	require.NoError(t, ingest.WriteWorkbook(f, "Invoices", []string{"Vendor", "Pay Group", "Total"}, [][]string{
		{"Acme", "SCF", "100"},
		{"Globex", "Domestic", "50"},
	}))
	require.NoError(t, f.Close())

	out, err := runCLI(t, ts.URL, "load", book)
	require.NoError(t, err)
	assert.Contains(t, out, "2 rows, 3 columns")

	datasets, err := st.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	id := datasets[0].ID

	out, err = runCLI(t, ts.URL, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 datasets")
	assert.Contains(t, out, "ID: "+id)
	assert.Contains(t, out, "Columns: Vendor, Pay Group, Total")

	out, err = runCLI(t, ts.URL, "audit", id)
	require.NoError(t, err)
	assert.Contains(t, out, "IMPORT")

	exported := filepath.Join(dir, "acme.xlsx")
	out, err = runCLI(t, ts.URL, "export", id, "-o", exported, "--filter", "Vendor=acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Exported")
	sheet, err := ingest.LoadWorkbookFile(exported)
	require.NoError(t, err)
	require.Len(t, sheet.Records, 1)
	assert.Equal(t, "Acme", sheet.Records[0]["Vendor"])

	out, err = runCLI(t, ts.URL, "drop", id, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted dataset "+id)

	out, err = runCLI(t, ts.URL, "list")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "No datasets found."))
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "2024-01-01")
	t.Cleanup(func() { SetVersion("", "") })

	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Gridsync 1.2.3")
	assert.Contains(t, out, "Build Time: 2024-01-01")
}

func TestRulesAndListsCommands(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	srv := server.NewServer(st, nil, server.Options{Logger: log.New(io.Discard, "", 0)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	ds, err := st.CreateDataset(ctx, "invoices.xlsx",
		[]store.Column{{Name: "Vendor", Kind: store.KindText, Editable: true}, {Name: "Pay Group", Kind: store.KindText, Editable: true}},
		[]map[string]string{{"Vendor": "Acme", "Pay Group": "Domestic"}})
	require.NoError(t, err)

	out, err := runCLI(t, ts.URL, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No priority rules.")

	out, err = runCLI(t, ts.URL, "rules", "add", "Vendor", "acme", "high", "--reason", "key account")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprioritized 1 datasets.")
	assert.Contains(t, out, `1. Vendor equals "acme" -> High (active)  key account`)

	rows, err := st.LoadRows(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PriorityHigh, rows[0].Priority)

	out, err = runCLI(t, ts.URL, "rules", "disable", "Vendor", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "(disabled)")

	out, err = runCLI(t, ts.URL, "rules", "delete", "Vendor", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "No priority rules.")

	_, err = runCLI(t, ts.URL, "rules", "delete", "Vendor", "acme")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "lists.yaml")
	require.NoError(t, os.WriteFile(file, []byte("lists:\n  Vendor: [Umbrella, \" \", Wayne]\n"), 0o644))
	out, err = runCLI(t, ts.URL, "lists", "set", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Vendor: Umbrella, Wayne\n")

	out, err = runCLI(t, ts.URL, "lists", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Vendor: Umbrella, Wayne")
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, "High", normalizePriority(" HIGH "))
	assert.Equal(t, "Low", normalizePriority("low"))
	assert.Equal(t, "", normalizePriority(""))
}
