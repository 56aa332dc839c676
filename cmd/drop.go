package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var dropYes bool

// dropCmd represents the drop command
var dropCmd = &cobra.Command{
	Use:   "drop <dataset-id>",
	Short: "Delete a dataset",
	Long: `Delete a dataset with its rows, undo history and audit log. Open editors
are told the dataset is gone.

Examples:
  gridsync drop 3f0c...
  gridsync drop 3f0c... --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDrop,
}

func init() {
	rootCmd.AddCommand(dropCmd)

	dropCmd.Flags().BoolVarP(&dropYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runDrop(cmd *cobra.Command, args []string) error {
	id := args[0]
	if !dropYes {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete dataset %s? This cannot be undone. [y/N]: ", id)
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	if err := newClient(GetConfig()).DeleteDataset(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted dataset %s\n", id)
	return nil
}
