package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"epmcquery/pkg/auth"
	"epmcquery/pkg/checkpoint"
	"epmcquery/pkg/config"
	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/logger"
	"epmcquery/pkg/storage"
	"epmcquery/pkg/ui"
)

var historyLimit int

// checkpointCmd represents the checkpoint command
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect the checkpoint store",
	Long: `Inspect the cursor checkpoints recorded by previous runs.

The newest checkpoint is where the next run resumes. Its sequence is the
number of the next result document to be written.`,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the checkpoint the next run resumes from",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointShow,
}

var checkpointHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded checkpoints, newest first",
	Example: `  # Last ten checkpoints in a local SQLite store
  epmcquery checkpoint history --db-driver sqlite3 --db-path ./checkpoints.db --limit 10`,
	Args: cobra.NoArgs,
	RunE: runCheckpointHistory,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointHistoryCmd)

	addDatabaseFlags(checkpointShowCmd)
	addDatabaseFlags(checkpointHistoryCmd)
	checkpointHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of checkpoints to list (0 lists all)")
}

// openStore resolves database credentials and opens the configured
// checkpoint backend.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (checkpoint.Store, error) {
	var creds *auth.Credentials
	if cfg.Database.IsNetworked() {
		manager, err := auth.NewManager()
		if err != nil {
			log.WithError(err).Warn("credential stores unavailable, using environment only")
			manager = auth.NewManagerWithStores(auth.NewEnvironmentStore())
		}

		var source auth.Source
		creds, source, err = auth.Resolve(auth.Request{
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			File:     cfg.Database.CredentialsFile,
			Profile:  cfg.Database.Profile,
		}, manager)
		if err != nil {
			return nil, errs.NewConfigError("cannot resolve database credentials", err)
		}
		if creds == nil {
			return nil, errs.NewConfigError("no database credentials: use --sqluser/--sqlpass, --dbcreds or 'epmcquery auth login'", nil)
		}
		log.WithFields(map[string]interface{}{
			"source": string(source),
			"user":   creds.User,
		}).Debug("database credentials resolved")
	}

	store, err := checkpoint.Open(ctx, &cfg.Database, creds, log)
	if err != nil {
		var cfgErr *errs.ConfigError
		if errors.As(err, &cfgErr) || errors.Is(err, checkpoint.ErrInvalidTable) {
			return nil, errs.NewConfigError("cannot open checkpoint store", err)
		}
		return nil, &errs.CheckpointError{Op: "open", Err: err}
	}
	return store, nil
}

func storeFromFlags(cmd *cobra.Command) (checkpoint.Store, *config.Config, error) {
	cfg, err := loadConfig(changedFlags(cmd, databaseFlagValues()))
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cmd.Context(), cfg, logger.GetLogger())
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	store, cfg, err := storeFromFlags(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	latest, err := store.Latest(cmd.Context())
	if err != nil {
		return &errs.CheckpointError{Op: "read", Err: err}
	}
	if latest == nil {
		ui.PrintInfo("Checkpoint", "none, the next run starts from the first page")
		return nil
	}

	ui.PrintHighlight("Latest Checkpoint")
	ui.PrintInfo("Sequence", strconv.Itoa(latest.Sequence))
	ui.PrintInfo("Cursor", latest.Cursor)
	ui.PrintInfo("Recorded", latest.Time.Format("2006-01-02 15:04:05.000000 MST"))
	ui.PrintInfo("Next document", storage.FileName(latest.Sequence, cfg.Output.PadWidth))

	if latest.Sequence > 1 {
		path := storage.DocumentPath(cfg.Output.BaseDirectory, latest.Sequence-1, cfg.Output.PadWidth, cfg.Output.ShardDepth)
		doc, err := storage.ReadDocument(path)
		switch {
		case err == nil:
			ui.PrintInfo("Last document", fmt.Sprintf("%s (records: %d)", path, len(doc.Results)))
		case os.IsNotExist(err):
			ui.PrintWarning("Last document not in the output directory", path)
		default:
			ui.PrintWarning("Cannot read last document", err)
		}
	}
	return nil
}

func runCheckpointHistory(cmd *cobra.Command, args []string) error {
	store, _, err := storeFromFlags(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := store.History(cmd.Context(), historyLimit)
	if err != nil {
		return &errs.CheckpointError{Op: "read", Err: err}
	}
	if len(history) == 0 {
		ui.PrintInfo("Checkpoints", "none recorded")
		return nil
	}

	ui.PrintHighlight(fmt.Sprintf("Checkpoints (%d)", len(history)))
	for _, cp := range history {
		fmt.Fprintf(ui.Output, "  %s  %s  %s\n",
			ui.Yellow(fmt.Sprintf("#%-7d", cp.Sequence)),
			ui.Dim(cp.Time.Format("2006-01-02 15:04:05")),
			cp.Cursor)
	}
	return nil
}
