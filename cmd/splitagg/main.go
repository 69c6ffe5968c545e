// Package main implements the splitagg command line tool.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arkilian/splitagg/internal/app"
	"github.com/arkilian/splitagg/internal/config"
	"github.com/arkilian/splitagg/internal/logging"
	"github.com/arkilian/splitagg/internal/queue"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	// Global flags
	configFile string
	dataDir    string
	verbose    bool

	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "splitagg",
	Short: "Split large CSV files by key and aggregate them per group",
	Long: `splitagg turns a CSV of plays into per-(key, secondary) totals.

The input is streamed in bounded chunks and split into one spill file per
group key; every spill file is then aggregated on its own and the partial
results are merged into a single output CSV.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(cfg.Log.Mode, level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		loadedConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

// loadedConfig is set by the root pre-run hook.
var loadedConfig *config.Config

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(downloadCmd)
}

func main() {
	// A missing .env file is fine; the environment may be set directly
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Flags have the highest priority
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openApp builds the application from the loaded configuration.
func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	a, err := app.New(ctx, loadedConfig, logger, opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded",
		"data_dir", loadedConfig.DataDir,
		"queue", loadedConfig.Queue.Type,
		"storage", loadedConfig.Storage.Type,
		"chunk_size", loadedConfig.Pipeline.ChunkSize,
	)
	return a, nil
}

// withMemoryQueue keeps commands that never enqueue from dialing Redis.
func withMemoryQueue() app.Option {
	return app.WithQueue(queue.NewMemoryQueue(1))
}
