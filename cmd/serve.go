package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gridsync/gridsync/internal/bus"
	"github.com/gridsync/gridsync/internal/ingest"
	"github.com/gridsync/gridsync/internal/server"
	"github.com/gridsync/gridsync/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// changesMaxLen bounds the Redis change stream; editors only need recent entries.
const changesMaxLen = 10000

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authoritative dataset service",
	Long: `Run the dataset service that owns every dataset, row and undo history.

The service:
1. Serves the HTTP/JSON API used by "gridsync edit" and the other client commands
2. Publishes every mutation to the Redis change stream so open editors refresh
3. Optionally watches a folder and imports workbooks dropped into it
4. Exposes Prometheus metrics on /metrics

Examples:
  # Serve on the default address
  gridsync serve

  # Serve with a bearer token and a watched inbox
  gridsync serve --bind 0.0.0.0:8080 --token s3cret --ingest-dir ./inbox`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("bind", "127.0.0.1:8080", "Bind address for the dataset service")
	serveCmd.Flags().String("token", "", "Bearer token required by the API (optional)")
	serveCmd.Flags().Int("rps", 50, "Max API requests per second (0 disables limiting)")
	serveCmd.Flags().Int("burst", 100, "Burst size for the API rate limiter")
	serveCmd.Flags().Int("undo-limit", 15, "Undo history depth kept per dataset")
	serveCmd.Flags().String("ingest-dir", "", "Directory watched for workbooks to import (disabled when empty)")

	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.token", serveCmd.Flags().Lookup("token"))
	viper.BindPFlag("server.rps", serveCmd.Flags().Lookup("rps"))
	viper.BindPFlag("server.burst", serveCmd.Flags().Lookup("burst"))
	viper.BindPFlag("server.undo_limit", serveCmd.Flags().Lookup("undo-limit"))
	viper.BindPFlag("ingest.dir", serveCmd.Flags().Lookup("ingest-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	logger := newLogger(os.Stderr, "[serve] ", config.Log.Level)

	logger.Println("Starting Gridsync dataset service")

	st, err := openStore(config, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	st.SetUndoLimit(config.Server.UndoLimit)

	logger.Println("Connecting to change bus...")
	eventBus := bus.NewBus(config.Redis.URL, newLogger(os.Stderr, "[bus] ", config.Log.Level))
	defer eventBus.Close()

	if rb, ok := eventBus.(*bus.RedisBus); ok {
		go trimChanges(ctx, rb, logger)
	}

	if config.Ingest.Dir != "" {
		fi := ingest.NewFolderIngestor(st, eventBus, ingest.FolderOptions{
			Dir:         resolvePathRelativeToBase(getWorkingDir(), config.Ingest.Dir),
			Watch:       true,
			DateColumns: config.Columns.Date,
			Logger:      newLogger(os.Stderr, "[ingest-folder] ", config.Log.Level),
		})
		go func() {
			if err := fi.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("folder ingest stopped: %v", err)
			}
		}()
	}

	srv := server.NewServer(st, eventBus, server.Options{
		Bind:        config.Server.Bind,
		Token:       config.Server.Token,
		RPS:         config.Server.RPS,
		Burst:       config.Server.Burst,
		DateColumns: config.Columns.Date,
		Logger:      newLogger(os.Stderr, "[server] ", config.Log.Level),
	})
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dataset service failed: %w", err)
	}

	logger.Println("Gridsync dataset service stopped")
	return nil
}

// openStore opens the SQLite database named by database.path, relative to the working directory.
func openStore(config Config, logger *log.Logger) (*store.Store, error) {
	resolved := resolvePathRelativeToBase(getWorkingDir(), config.Database.Path)
	logger.Printf("Using database at %s", resolved)
	st, err := store.NewStore(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, nil
}

func trimChanges(ctx context.Context, rb *bus.RedisBus, logger *log.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rb.TrimChanges(ctx, changesMaxLen); err != nil {
				logger.Printf("failed to trim change stream: %v", err)
			}
		}
	}
}
