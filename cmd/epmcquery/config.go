package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"epmcquery/pkg/config"
	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/europepmc"
	"epmcquery/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage epmcquery configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (EPMCQUERY_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create a configuration file holding the default values.

The file is written to .epmcquery.yaml in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the configuration after merging file, environment and defaults.

The database password is never printed.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the merged configuration and report every problem found.

Besides value ranges this checks that the accession types file can be read
and that the output directory can be created.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".epmcquery.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return errs.NewConfigError("configuration file already exists: "+configPath, nil)
	}

	cfg := config.DefaultConfig()
	cfg.Search.AccessionTypesFile = "accession_types.json"
	cfg.Database.Instance = "project:region:instance"
	cfg.Database.Name = "dbname"

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Fprintln(ui.Output, "\nNext steps:")
	fmt.Fprintln(ui.Output, "1. Set search.accession_types_file and the database instance/name")
	fmt.Fprintln(ui.Output, "2. Store database credentials with 'epmcquery auth login'")
	fmt.Fprintln(ui.Output, "3. Run 'epmcquery config validate' to check the configuration")
	fmt.Fprintln(ui.Output, "4. Start harvesting with 'epmcquery run'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigUnchecked()
	if err != nil {
		return err
	}

	// Password has json:"-" but is serialised to YAML
	display := *cfg
	if display.Database.Password != "" {
		display.Database.Password = "********"
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(ui.Output)
	fmt.Fprint(ui.Output, string(data))

	fmt.Fprintln(ui.Output, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(ui.Output, "1. Command line flags")
	fmt.Fprintln(ui.Output, "2. Environment variables (EPMCQUERY_*)")
	if configFile != "" {
		fmt.Fprintf(ui.Output, "3. Configuration file: %s\n", configFile)
	} else {
		fmt.Fprintln(ui.Output, "3. Configuration file: (default locations)")
	}
	fmt.Fprintln(ui.Output, "4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigUnchecked()
	if err != nil {
		return err
	}

	problems := validateForRun(cfg)
	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Fprintf(ui.Output, "  - %v\n", p)
		}
		return errs.NewConfigError(fmt.Sprintf("%d problem(s) found", len(problems)), errors.Join(problems...))
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Fprintln(ui.Output, "\nConfiguration summary:")
	fmt.Fprintf(ui.Output, "  Accession types: %s\n", cfg.Search.AccessionTypesFile)
	fmt.Fprintf(ui.Output, "  Output directory: %s\n", cfg.Output.BaseDirectory)
	fmt.Fprintf(ui.Output, "  Checkpoint store: %s\n", describeStore(&cfg.Database))
	fmt.Fprintf(ui.Output, "  Page size: %d\n", cfg.Search.PageSize)
	fmt.Fprintf(ui.Output, "  Max retries: %d (graceful: %t)\n", cfg.Retry.MaxRetries, cfg.Retry.Graceful)
	fmt.Fprintf(ui.Output, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// validateForRun collects every reason cfg could not start a run
func validateForRun(cfg *config.Config) []error {
	var problems []error

	if err := cfg.Validate(); err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			problems = append(problems, joined.Unwrap()...)
		} else {
			problems = append(problems, err)
		}
	}

	if cfg.Search.AccessionTypesFile == "" {
		problems = append(problems, errors.New("accession types file is not set"))
	} else if _, err := europepmc.LoadAccessionTypes(cfg.Search.AccessionTypesFile); err != nil {
		problems = append(problems, err)
	}

	if cfg.Output.BaseDirectory != "" {
		if err := os.MkdirAll(cfg.Output.BaseDirectory, 0755); err != nil {
			problems = append(problems, fmt.Errorf("cannot create output directory: %w", err))
		}
	}

	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Errorf("cannot create log directory: %w", err))
		}
	}

	return problems
}

func describeStore(db *config.DatabaseConfig) string {
	switch db.Driver {
	case config.DriverMySQL, config.DriverCloudSQL:
		return fmt.Sprintf("%s %s/%s table %s", db.Driver, db.Instance, db.Name, db.Table)
	case config.DriverSQLite:
		return fmt.Sprintf("%s %s table %s", db.Driver, db.Path, db.Table)
	case config.DriverFile:
		return fmt.Sprintf("%s %s", db.Driver, db.Path)
	default:
		return db.Driver
	}
}
