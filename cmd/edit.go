package cmd

import (
	"fmt"
	"io"
	"log"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"
	"github.com/gridsync/gridsync/internal/bus"
	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/gridsync/gridsync/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	minTermWidth  = 60
	minTermHeight = 15
)

var (
	editViewsPath string
	editTheme     string
)

// editCmd represents the edit command
var editCmd = &cobra.Command{
	Use:   "edit [dataset-id]",
	Short: "Open a dataset in the terminal grid",
	Long: `Open a dataset served by "gridsync serve" in the terminal grid editor.

Without a dataset id a picker lists the datasets on the service. Changes made
by other editors are picked up from the Redis change stream when it is
reachable. Logs are written to logs/gridsync-ui.log.

Examples:
  # Pick a dataset interactively
  gridsync edit

  # Open a dataset on a remote service with the light theme
  gridsync edit 3f0c... --server http://files.internal:8080 --theme light`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().StringVar(&editViewsPath, "views", "views.yaml", "File saved views are read from and written to")
	editCmd.Flags().StringVar(&editTheme, "theme", "dark", "Color theme (dark, light, high-contrast)")
	editCmd.Flags().Int("max-attempts", 3, "Redraws to wait for an undone row before giving up")
	editCmd.Flags().Duration("highlight", 0, "How long a focused row stays highlighted (default 2s)")
	editCmd.Flags().String("token", "", "Bearer token for the dataset service")

	viper.BindPFlag("client.max_attempts", editCmd.Flags().Lookup("max-attempts"))
	viper.BindPFlag("client.highlight", editCmd.Flags().Lookup("highlight"))
	viper.BindPFlag("client.token", editCmd.Flags().Lookup("token"))
}

func runEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	width, height, err := terminalSize()
	if err != nil {
		return fmt.Errorf("terminal does not support the grid editor: %w", err)
	}
	if width < minTermWidth || height < minTermHeight {
		return fmt.Errorf("terminal is %dx%d; the grid editor needs at least %dx%d", width, height, minTermWidth, minTermHeight)
	}

	// Keep the terminal clean while the grid is up: everything goes to the log file.
	var out io.Writer = io.Discard
	if logFile := setupFileLogger("gridsync-ui.log"); logFile != nil {
		defer logFile.Close()
		out = logFile
	}
	logger := newLogger(out, "[edit] ", config.Log.Level)

	clientID := "ui-" + uuid.NewString()
	gw := gateway.NewHTTPGateway(config.Client.URL, gateway.Options{
		Token:    config.Client.Token,
		ClientID: clientID,
		Timeout:  config.Client.Timeout,
	})

	if err := gw.Ping(ctx); err != nil {
		return fmt.Errorf("dataset service at %s is unreachable: %w", config.Client.URL, err)
	}

	eventBus := bus.NewBus(config.Redis.URL, newLogger(out, "[bus] ", config.Log.Level))
	defer eventBus.Close()

	datasetID := ""
	if len(args) > 0 {
		datasetID = args[0]
	}

	logger.Printf("Opening editor against %s as %s", config.Client.URL, clientID)
	tui := ui.NewUI(ctx, gw, ui.Options{
		ClientID:          clientID,
		DatasetID:         datasetID,
		ViewsPath:         editViewsPath,
		Theme:             editTheme,
		MaxAttempts:       config.Client.MaxAttempts,
		HighlightDuration: config.Client.Highlight,
		Bus:               eventBus,
		Logger:            log.New(out, "[UI] ", log.LstdFlags),
	})
	if err := tui.Start(ctx); err != nil {
		return fmt.Errorf("editor failed: %w", err)
	}
	logger.Println("Editor closed")
	return nil
}

// terminalSize initializes and releases a screen, returning its size.
func terminalSize() (int, int, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return 0, 0, err
	}
	if err := screen.Init(); err != nil {
		return 0, 0, err
	}
	width, height := screen.Size()
	screen.Fini()
	return width, height, nil
}
