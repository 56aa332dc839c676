package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	dbPath    string
	redisURL  string
	logLevel  string
	serverURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gridsync",
	Short: "Terminal spreadsheet editor backed by an authoritative dataset service",
	Long: `Gridsync loads spreadsheet workbooks into a dataset service and edits them
from a terminal grid. The service owns every row; the grid only renders what
the service reports.

Features:
- Filtered and grouped views with KPI summaries
- Cell edits, row insertion and deletion with a bounded undo history
- Redis Streams change notifications between connected editors
- SQLite storage with a per-mutation audit log
- Workbook import from files or a watched folder, and workbook export`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gridsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/gridsync.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "redis://localhost:6379", "Redis connection URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "Dataset service URL used by client commands")

	// Bind flags to viper
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("client.url", rootCmd.PersistentFlags().Lookup("server"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory and the working directory with name ".gridsync" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".gridsync")
	}

	// GRIDSYNC_SERVER_TOKEN overrides server.token, and so on.
	viper.SetEnvPrefix("gridsync")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Set defaults
	viper.SetDefault("database.path", "./data/gridsync.db")
	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("server.bind", "127.0.0.1:8080")
	viper.SetDefault("server.token", "")
	viper.SetDefault("server.rps", 50)
	viper.SetDefault("server.burst", 100)
	viper.SetDefault("server.undo_limit", 15)
	viper.SetDefault("ingest.dir", "")
	viper.SetDefault("client.url", "http://127.0.0.1:8080")
	viper.SetDefault("client.token", "")
	viper.SetDefault("client.timeout", 10*time.Second)
	viper.SetDefault("client.max_attempts", 3)
	viper.SetDefault("client.highlight", 2*time.Second)
	viper.SetDefault("columns.date", []string{})
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		Server: ServerConfig{
			Bind:      viper.GetString("server.bind"),
			Token:     viper.GetString("server.token"),
			RPS:       viper.GetInt("server.rps"),
			Burst:     viper.GetInt("server.burst"),
			UndoLimit: viper.GetInt("server.undo_limit"),
		},
		Ingest: IngestConfig{
			Dir: viper.GetString("ingest.dir"),
		},
		Client: ClientConfig{
			URL:         viper.GetString("client.url"),
			Token:       viper.GetString("client.token"),
			Timeout:     viper.GetDuration("client.timeout"),
			MaxAttempts: viper.GetInt("client.max_attempts"),
			Highlight:   viper.GetDuration("client.highlight"),
		},
		Columns: ColumnsConfig{
			Date: viper.GetStringSlice("columns.date"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Client   ClientConfig   `mapstructure:"client"`
	Columns  ColumnsConfig  `mapstructure:"columns"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Bind      string `mapstructure:"bind"`
	Token     string `mapstructure:"token"`
	RPS       int    `mapstructure:"rps"`
	Burst     int    `mapstructure:"burst"`
	UndoLimit int    `mapstructure:"undo_limit"`
}

type IngestConfig struct {
	// Dir is watched for dropped workbooks while serving. Empty disables the watcher.
	Dir string `mapstructure:"dir"`
}

type ClientConfig struct {
	URL         string        `mapstructure:"url"`
	Token       string        `mapstructure:"token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Highlight   time.Duration `mapstructure:"highlight"`
}

type ColumnsConfig struct {
	// Date names columns imported as dates in addition to the detected ones.
	Date []string `mapstructure:"date"`
}
