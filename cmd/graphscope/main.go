package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"graphscope/internal/config"
	"graphscope/internal/logging"
)

const version = "1.0.0"

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Logger
	logger *zap.Logger

	cfg config.Config
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "graphscope",
	Short: "graphscope - step-debug node-based workflows from the outside",
	Long: `graphscope drives a remote, instrumented execution of a node-based
workflow step by step: breakpoints, pause/resume/step, live state
inspection, and Time Capsule replay of completed runs.

The workflow runs in its own interpreter process and connects back
over a loopback socket; graphscope never executes workflow code
itself.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
			workspace = wd
		}
		if configPath == "" {
			configPath = config.DefaultPath(workspace)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		if err := logging.Configure(logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Dir:        cfg.Logging.Dir,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("configure logging: %w", err)
		}

		zapCfg := zap.NewProductionConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the graphscope version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("graphscope %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
