// Command mindloop drives an external execution agent through judged batches
// of work, backed by a durable, provenance-tracked Thought DB.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"mindloop/internal/config"
	"mindloop/internal/logging"
)

var (
	// Global flags
	homeDir     string
	projectRoot string
	configPath  string
	debugMode   bool

	// Loaded configuration, available to every command after the
	// persistent pre-run.
	cfg config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mindloop",
	Short: "mindloop - a judgment layer over an execution agent",
	Long: `mindloop runs an external coding agent in batches, judging each batch
with a structured-output model and persisting what it learns into an
append-only Thought DB of claims, nodes and edges.

Every durable belief cites the evidence events it came from, so "why is
this true?" is always answerable from disk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if homeDir == "" {
			homeDir = config.DefaultHome()
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, "config.yaml")
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if debugMode {
			cfg.Logging.DebugMode = true
		}

		level := zapcore.InfoLevel
		if cfg.Logging.Level != "" {
			if parsed, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
				level = parsed
			}
		}
		if cfg.Logging.DebugMode {
			level = zapcore.DebugLevel
		}
		return logging.Initialize(homeDir, logging.Options{
			Enabled:    cfg.Logging.DebugMode,
			Level:      level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "mindloop home directory (default ~/.mindloop)")
	rootCmd.PersistentFlags().StringVarP(&projectRoot, "project", "p", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error:")+" "+err.Error())
		os.Exit(1)
	}
}
