package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets",
	Long: `List the datasets held by the service in a simple text format.
This works in any terminal and is an alternative to the picker in "gridsync edit".

Examples:
  # List datasets on the default service
  gridsync list

  # List datasets on another service
  gridsync list --server http://files.internal:8080`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	auditLimit int
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit <dataset-id>",
	Short: "Show the mutation audit log of a dataset",
	Long: `Show the newest audit entries of a dataset: imports, cell edits, row
insertions and deletions, undos and commits, with the client that made them.

Examples:
  gridsync audit 3f0c... --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum number of entries to show")
}

func runList(cmd *cobra.Command, args []string) error {
	datasets, err := newClient(GetConfig()).ListDatasets(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list datasets: %w", err)
	}
	printDatasets(cmd.OutOrStdout(), datasets)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	entries, err := newClient(GetConfig()).Audit(cmd.Context(), args[0], auditLimit)
	if err != nil {
		return fmt.Errorf("failed to get audit log for %s: %w", args[0], err)
	}
	printAudit(cmd.OutOrStdout(), args[0], entries)
	return nil
}

func printDatasets(w io.Writer, datasets []gateway.Dataset) {
	if len(datasets) == 0 {
		fmt.Fprintln(w, "No datasets found.")
		return
	}

	fmt.Fprintf(w, "Found %d datasets:\n\n", len(datasets))
	for i, ds := range datasets {
		names := make([]string, 0, len(ds.Columns))
		for _, c := range ds.Columns {
			names = append(names, c.Name)
		}
		fmt.Fprintf(w, "%d. %s\n", i+1, ds.Name)
		fmt.Fprintf(w, "   ID: %s\n", ds.ID)
		fmt.Fprintf(w, "   Rows: %d\n", ds.RowCount)
		fmt.Fprintf(w, "   Columns: %s\n", strings.Join(names, ", "))
		fmt.Fprintf(w, "   Updated: %s\n", ds.UpdatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintln(w)
	}
}

func printAudit(w io.Writer, datasetID string, entries []gateway.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No audit entries for %s.\n", datasetID)
		return
	}

	fmt.Fprintf(w, "Audit log for %s (%d entries):\n\n", datasetID, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-7s %s", e.Timestamp.Format("2006-01-02 15:04:05"), strings.ToUpper(e.Action), e.Actor)
		if e.RowID != 0 {
			line += fmt.Sprintf("  row %d", e.RowID)
		}
		if d := formatDetails(e.Details); d != "" {
			line += "  " + d
		}
		fmt.Fprintln(w, line)
	}
}

// formatDetails renders details as key=value pairs in key order.
func formatDetails(details map[string]interface{}) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}
