package main

import (
	"fmt"

	"github.com/spf13/cobra"

	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/europepmc"
	"epmcquery/pkg/fetch"
	"epmcquery/pkg/ingest"
	"epmcquery/pkg/logger"
	"epmcquery/pkg/metrics"
	"epmcquery/pkg/ratelimit"
	"epmcquery/pkg/storage"
	"epmcquery/pkg/ui"
)

var (
	// Run command flags
	accessionTypes    string
	outDir            string
	dbTarget          string
	dbDriver          string
	dbPath            string
	dbCreds           string
	sqlUser           string
	sqlPass           string
	profile           string
	pageSize          int
	limit             int
	maxRetries        int
	gracefulExit      bool
	shardDepth        int
	metricsFile       string
	requestsPerMinute int
	baseURL           string
	notify            bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest search results from the last checkpoint",
	Long: `Page through the Europe PMC search for the configured accession types and
write each page to the sharded output tree.

A run starts from the newest checkpoint, or from the first page when there is
none. After every page the next cursor is recorded, so the next invocation
resumes where this one stopped.

Exit status:
  0  results exhausted, record budget spent, or a graceful stop
  1  hard failure or checkpoint store failure
  2  configuration error`,
	Example: `  # Harvest into ./results with checkpoints in Cloud SQL
  epmcquery run --accession-types types.json --outdir ./results \
    --db my-project:europe-west2:harvest/gbc --dbcreds ~/.dbcreds.json

  # Local run with a SQLite checkpoint store and a small budget
  epmcquery run --accession-types types.json --outdir ./results \
    --db-driver sqlite3 --db-path ./checkpoints.db --limit 5000

  # Fail hard when the retries run out
  epmcquery run --accession-types types.json --graceful-exit=false`,
	Args: cobra.NoArgs,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&accessionTypes, "accession-types", "", "JSON file listing accession types to query")
	runCmd.Flags().StringVarP(&outDir, "outdir", "o", "", "base directory for result documents")
	addDatabaseFlags(runCmd)
	runCmd.Flags().IntVar(&pageSize, "page-size", 1000, "results per page")
	runCmd.Flags().IntVar(&limit, "limit", 0, "record budget for this run (0 uses the reported hit count)")
	runCmd.Flags().IntVar(&maxRetries, "max-retries", 10, "retries per page after the first attempt")
	runCmd.Flags().BoolVar(&gracefulExit, "graceful-exit", true, "exit 0 when a page cannot be fetched after all retries")
	runCmd.Flags().IntVar(&shardDepth, "shard-depth", 4, "directory levels used to shard result documents")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile when the run ends")
	runCmd.Flags().IntVar(&requestsPerMinute, "requests-per-minute", 0, "pace search requests (0 disables pacing)")
	runCmd.Flags().StringVar(&baseURL, "base-url", "", "Europe PMC REST service root")
	runCmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the run ends")
}

func runFlags(cmd *cobra.Command) map[string]interface{} {
	values := databaseFlagValues()
	values["accession-types"] = accessionTypes
	values["outdir"] = outDir
	values["page-size"] = pageSize
	values["limit"] = limit
	values["max-retries"] = maxRetries
	values["graceful-exit"] = gracefulExit
	values["shard-depth"] = shardDepth
	values["metrics-file"] = metricsFile
	values["requests-per-minute"] = requestsPerMinute
	values["base-url"] = baseURL
	return changedFlags(cmd, values)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runFlags(cmd))
	if err != nil {
		return err
	}
	log := logger.GetLogger().WithField("command", "run")

	if cfg.Search.AccessionTypesFile == "" {
		return errs.NewConfigError("--accession-types is required", nil)
	}
	types, err := europepmc.LoadAccessionTypes(cfg.Search.AccessionTypesFile)
	if err != nil {
		return errs.NewConfigError("cannot load accession types", err)
	}
	query := europepmc.AccessionQuery(types)

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close checkpoint store")
		}
	}()

	client := europepmc.NewClient(cfg.Search.Timeout, log,
		europepmc.WithBaseURL(cfg.Search.BaseURL),
		europepmc.WithUserAgent(cfg.Search.UserAgent),
		europepmc.WithLimiter(ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute)),
	)

	fetcher := fetch.NewRetryingFetcher(client, fetch.Options{
		Query:      query,
		ResultType: cfg.Search.ResultType,
		MaxRetries: cfg.Retry.MaxRetries,
		Backoff:    fetch.WindowBackoff(cfg.Retry.MinDelay, cfg.Retry.MaxDelay),
		Graceful:   cfg.Retry.Graceful,
		Logger:     log,
	})

	writer, err := storage.NewShardedWriter(cfg.Output.BaseDirectory, storage.Options{
		PadWidth:   cfg.Output.PadWidth,
		ShardDepth: cfg.Output.ShardDepth,
		Indent:     cfg.Output.Indent,
	}, log)
	if err != nil {
		return errs.NewConfigError("invalid output layout", err)
	}

	recorder := metrics.NewRecorder()
	controller, err := ingest.NewController(store, fetcher, writer, ingest.Options{
		PageSize: cfg.Search.PageSize,
		Limit:    cfg.Search.Limit,
		Fields:   cfg.Search.Fields,
		Logger:   log,
		Reporter: ui.NewProgressTracker(ui.Output, quiet),
		Recorder: recorder,
	})
	if err != nil {
		return errs.NewConfigError("invalid run options", err)
	}

	logger.LogComponentStart(log, "harvest", map[string]interface{}{
		"run_id":     controller.RunID(),
		"query":      query,
		"page_size":  cfg.Search.PageSize,
		"limit":      cfg.Search.Limit,
		"driver":     cfg.Database.Driver,
		"output_dir": cfg.Output.BaseDirectory,
	})

	result, runErr := controller.Run(ctx)

	outputFields := map[string]interface{}{
		"files_written": writer.Written(),
		"output_dir":    writer.BaseDir(),
	}
	if result != nil && result.PagesWritten != writer.Written() {
		outputFields["pages_written"] = result.PagesWritten
		log.WarnWithFields("written file count differs from pages written", outputFields)
	} else {
		log.InfoWithFields("output summary", outputFields)
	}

	if cfg.Metrics.TextfilePath != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			log.WithError(err).Warn("failed to write metrics textfile")
		}
	}

	if notify {
		notifyResult(result, runErr)
	}

	reason := "completed"
	if runErr != nil {
		reason = runErr.Error()
	}
	logger.LogComponentStop(log, "harvest", reason)

	return runErr
}

func notifyResult(result *ingest.Result, err error) {
	notifier := ui.NewNotifier()
	if err != nil && errs.ExitCode(err) != errs.ExitOK {
		notifier.SendError("epmcquery run failed", err.Error())
		return
	}
	if result == nil {
		return
	}
	notifier.SendSuccess("epmcquery run finished",
		fmt.Sprintf("%d pages, %d records (%s)", result.PagesWritten, result.RecordsWritten, result.Outcome))
}

// addDatabaseFlags binds the checkpoint store flags shared by run and
// checkpoint commands.
func addDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dbTarget, "db", "", "checkpoint database as INSTANCE/DBNAME")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "checkpoint backend (cloudsql-mysql, mysql, sqlite3, file)")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "database or checkpoint file path for sqlite3 and file backends")
	cmd.Flags().StringVar(&dbCreds, "dbcreds", "", "JSON file with database user and pass")
	cmd.Flags().StringVar(&sqlUser, "sqluser", "", "database user")
	cmd.Flags().StringVar(&sqlPass, "sqlpass", "", "database password")
	cmd.Flags().StringVar(&profile, "profile", "", "stored credential profile")
}

// changedFlags returns only the flags the user set, keyed by flag name, so
// unset flags never override file or environment values.
func changedFlags(cmd *cobra.Command, values map[string]interface{}) map[string]interface{} {
	flags := make(map[string]interface{})
	for name, value := range values {
		if cmd.Flags().Changed(name) {
			flags[name] = value
		}
	}
	return flags
}

func databaseFlagValues() map[string]interface{} {
	return map[string]interface{}{
		"db":        dbTarget,
		"db-driver": dbDriver,
		"db-path":   dbPath,
		"dbcreds":   dbCreds,
		"sqluser":   sqlUser,
		"sqlpass":   sqlPass,
		"profile":   profile,
	}
}
