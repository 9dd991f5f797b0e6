// Package main provides the rmap CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/civil"
	"github.com/UditKarth/RoboticsMap/internal/config"
	"github.com/UditKarth/RoboticsMap/internal/observability"
	"github.com/UditKarth/RoboticsMap/internal/storage"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// Global flags.
var (
	humanOutput bool
	configPath  string
	dataDirFlag string
	logLevel    string
	logFormat   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		// This ensures Cobra errors (like missing required flags) are visible
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rmap",
	Short: "Robotics research map ingestion pipeline",
	Long: `rmap ingests robotics papers from OpenAlex into a local SQLite store and
exports the institution map documents (institutions.json, meta.json).

  rmap backfill     Fetch everything since the configured start date
  rmap update       Fetch papers published after the last committed date
  rmap export       Regenerate the exported documents from the store
  rmap status       Show store totals, watermark and recent runs

All commands output JSON by default. Use --human for readable output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Load .env file if present (for RMAP_MAILTO and friends)
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/rmap/config.yml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory holding the database and exports")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")
	rootCmd.Version = Version
}

// resolvedConfigPath returns --config or the default location.
func resolvedConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, err
	}

	if dataDirFlag != "" {
		cfg.DataDir = config.ExpandPath(dataDirFlag)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mustLoadConfig loads configuration, exits on error.
func mustLoadConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	return cfg
}

// mustOpenDatabase opens the SQLite database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(cfg *config.Config) *storage.DB {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		exitWithError(ExitError, "creating data directory: %v", err)
	}
	db, err := storage.OpenDB(config.DBPath(cfg.DataDir))
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return db
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) zerolog.Logger {
	return observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format).
		With().
		Str("component", "rmap").
		Logger()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseDateFlag parses an optional YYYY-MM-DD flag value.
func parseDateFlag(name, value string) (civil.Date, bool, error) {
	if value == "" {
		return civil.Date{}, false, nil
	}
	d, err := civil.ParseDate(value)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", name, value)
	}
	return d, true, nil
}
