package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"epmcquery/pkg/checkpoint"
	"epmcquery/pkg/config"
	"epmcquery/pkg/europepmc"
	"epmcquery/pkg/fetch"
	"epmcquery/pkg/ingest"
	"epmcquery/pkg/logger"
	"epmcquery/pkg/storage"
)

// TestHelper assembles a harvest against a mock server the way the run
// command does, with a SQLite checkpoint store in a temp dir.
type TestHelper struct {
	t          *testing.T
	mockServer *MockEuropePMCServer
	tempDir    string
	Config     *config.Config
	Logger     *logger.TestLogger
}

// NewTestHelper creates a helper serving total records
func NewTestHelper(t *testing.T, total int) *TestHelper {
	t.Helper()

	h := &TestHelper{
		t:          t,
		mockServer: NewMockEuropePMCServer(total),
		tempDir:    t.TempDir(),
		Logger:     logger.NewTestLogger(),
	}
	t.Cleanup(h.mockServer.Close)

	cfg := config.DefaultConfig()
	cfg.Search.BaseURL = h.mockServer.GetURL()
	cfg.Search.AccessionTypesFile = h.writeAccessionTypes("pdb", "uniprot")
	cfg.Search.PageSize = 2
	cfg.Search.Timeout = 5 * time.Second
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.Path = filepath.Join(h.tempDir, "checkpoints.db")
	cfg.Output.BaseDirectory = filepath.Join(h.tempDir, "results")
	cfg.Retry.MaxRetries = 2
	cfg.Metrics.TextfilePath = filepath.Join(h.tempDir, "metrics", "epmcquery.prom")
	h.Config = cfg

	return h
}

// Server returns the mock search server
func (h *TestHelper) Server() *MockEuropePMCServer {
	return h.mockServer
}

func (h *TestHelper) writeAccessionTypes(types ...string) string {
	h.t.Helper()
	data, err := json.Marshal(types)
	if err != nil {
		h.t.Fatal(err)
	}
	path := filepath.Join(h.tempDir, "accession_types.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		h.t.Fatalf("Failed to write accession types: %v", err)
	}
	return path
}

// OpenStore opens the configured checkpoint store
func (h *TestHelper) OpenStore() checkpoint.Store {
	h.t.Helper()
	store, err := checkpoint.Open(context.Background(), &h.Config.Database, nil, h.Logger)
	if err != nil {
		h.t.Fatalf("Failed to open checkpoint store: %v", err)
	}
	return store
}

// Writer returns a writer over the configured output tree
func (h *TestHelper) Writer() *storage.ShardedWriter {
	h.t.Helper()
	w, err := storage.NewShardedWriter(h.Config.Output.BaseDirectory, storage.Options{
		PadWidth:   h.Config.Output.PadWidth,
		ShardDepth: h.Config.Output.ShardDepth,
		Indent:     h.Config.Output.Indent,
	}, h.Logger)
	if err != nil {
		h.t.Fatalf("Failed to create writer: %v", err)
	}
	return w
}

// Harvest runs one ingestion with a fresh store handle and returns the
// controller's result and error.
func (h *TestHelper) Harvest(ctx context.Context, opts ...func(*ingest.Options)) (*ingest.Result, error) {
	h.t.Helper()

	if err := h.Config.Validate(); err != nil {
		h.t.Fatalf("Invalid test configuration: %v", err)
	}
	types, err := europepmc.LoadAccessionTypes(h.Config.Search.AccessionTypesFile)
	if err != nil {
		h.t.Fatalf("Failed to load accession types: %v", err)
	}

	store := h.OpenStore()
	defer store.Close()

	client := europepmc.NewClient(h.Config.Search.Timeout, h.Logger,
		europepmc.WithBaseURL(h.Config.Search.BaseURL))
	fetcher := fetch.NewRetryingFetcher(client, fetch.Options{
		Query:      europepmc.AccessionQuery(types),
		ResultType: h.Config.Search.ResultType,
		MaxRetries: h.Config.Retry.MaxRetries,
		Backoff:    fetch.NoDelay,
		Graceful:   h.Config.Retry.Graceful,
		Logger:     h.Logger,
	})

	options := ingest.Options{
		PageSize: h.Config.Search.PageSize,
		Limit:    h.Config.Search.Limit,
		Fields:   h.Config.Search.Fields,
		Logger:   h.Logger,
	}
	for _, opt := range opts {
		opt(&options)
	}

	controller, err := ingest.NewController(store, fetcher, h.Writer(), options)
	if err != nil {
		h.t.Fatalf("Failed to create controller: %v", err)
	}
	return controller.Run(ctx)
}

// Latest returns the newest checkpoint, or nil
func (h *TestHelper) Latest() *checkpoint.Checkpoint {
	h.t.Helper()
	store := h.OpenStore()
	defer store.Close()

	cp, err := store.Latest(context.Background())
	if err != nil {
		h.t.Fatalf("Failed to read checkpoint: %v", err)
	}
	return cp
}

// CountDocuments counts result documents below the output directory
func (h *TestHelper) CountDocuments() int {
	h.t.Helper()
	count := 0
	err := filepath.Walk(h.Config.Output.BaseDirectory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".json" {
			count++
		}
		return nil
	})
	if err != nil {
		h.t.Fatalf("Failed to walk output directory: %v", err)
	}
	return count
}
