package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"epmcquery/pkg/config"
	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/logger"
	"epmcquery/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "epmcquery",
	Short: "Resumable Europe PMC harvester",
	Long: `epmcquery pages through a Europe PMC search and writes every page to a
sharded tree of JSON documents.

Progress is checkpointed after each page, so an interrupted or failed run
picks up where the last one stopped. Checkpoints can live in Cloud SQL,
MySQL, SQLite or a local append-only file.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetNoColor(noColor)
		logger.Version = version

		if !quiet && cmd.Name() == runCmd.Name() {
			ui.PrintBanner()
		}
	},
}

// Execute runs the command tree and returns the process exit status.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	code := errs.ExitCode(err)
	switch {
	case err == nil:
	case code == errs.ExitOK:
		// Graceful stop; the next run resumes from the last checkpoint.
		ui.PrintWarning(err.Error())
	default:
		ui.PrintError(err.Error())
	}
	return code
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.epmcquery.yaml or ~/.config/epmcquery/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.SetVersionTemplate(`epmcquery {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetErr(os.Stderr)
}

// loadConfig layers file, environment and the given flags, then starts the
// global logger. Any failure is a configuration error.
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, errs.NewConfigError("failed to load configuration", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, errs.NewConfigError("failed to initialize logger", err)
	}
	return cfg, nil
}

// loadConfigUnchecked reads file and environment without validating, for
// commands that only display or check the configuration.
func loadConfigUnchecked() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		return nil, errs.NewConfigError("failed to load config file", err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, errs.NewConfigError("failed to load environment variables", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
