package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gridsync/gridsync/internal/ingest"
	"github.com/spf13/cobra"
)

var loadLocal bool

// loadCmd represents the load command
var loadCmd = &cobra.Command{
	Use:   "load <file.xlsx>...",
	Short: "Import workbooks as datasets",
	Long: `Import one or more .xlsx workbooks. The first worksheet of each file becomes
a dataset; its first row is the header.

By default the files are uploaded to the running service. With --local they
are written straight into the database named by --db, which is useful before
the service is started.

Examples:
  # Upload to the service
  gridsync load invoices.xlsx

  # Import into the local database
  gridsync load --local --db ./data/gridsync.db q1.xlsx q2.xlsx`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().BoolVar(&loadLocal, "local", false, "Import into the local database instead of uploading")
}

func runLoad(cmd *cobra.Command, args []string) error {
	if loadLocal {
		return loadLocalFiles(cmd, args)
	}

	ctx := cmd.Context()
	gw := newClient(GetConfig())
	out := cmd.OutOrStdout()

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		ds, err := gw.Upload(ctx, filepath.Base(path), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", path, err)
		}
		printLoaded(out, path, ds.ID, ds.RowCount, len(ds.Columns))
	}
	return nil
}

func loadLocalFiles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	logger := newLogger(cmd.ErrOrStderr(), "[load] ", config.Log.Level)

	st, err := openStore(config, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, path := range args {
		sheet, err := ingest.LoadWorkbookFile(path)
		if err != nil {
			return err
		}
		ds, err := ingest.Import(ctx, st, sheet, config.Columns.Date, "cli")
		if err != nil {
			return err
		}
		printLoaded(cmd.OutOrStdout(), path, ds.ID, ds.RowCount, len(ds.Columns))
	}
	return nil
}

func printLoaded(w io.Writer, path, id string, rows, cols int) {
	fmt.Fprintf(w, "Loaded %s: %d rows, %d columns\n", path, rows, cols)
	fmt.Fprintf(w, "   ID: %s\n", id)
}
