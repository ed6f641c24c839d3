package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"epmcquery/pkg/checkpoint"
	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/europepmc"
	"epmcquery/pkg/fetch"
	"epmcquery/pkg/logger"
	"epmcquery/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves pages keyed by the cursor that produces them
type fakeFetcher struct {
	pages map[string]*fetch.Page
	fail  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, cursor string, pageSize int) (*fetch.Page, error) {
	f.calls = append(f.calls, cursor)
	if err, ok := f.fail[cursor]; ok {
		return nil, err
	}
	if page, ok := f.pages[cursor]; ok {
		return page, nil
	}
	return &fetch.Page{Cursor: cursor}, nil
}

func cursorFor(i int) string {
	if i == 0 {
		return ""
	}
	return fmt.Sprintf("C%d", i)
}

// chain builds n linked pages of size records each. The last page's next
// cursor is empty unless open is set.
func chain(n, size, hitCount int, open bool) *fakeFetcher {
	f := &fakeFetcher{pages: map[string]*fetch.Page{}, fail: map[string]error{}}
	id := 0
	for i := 0; i < n; i++ {
		page := &fetch.Page{Cursor: cursorFor(i), NextCursor: cursorFor(i + 1), HitCount: hitCount}
		if i == n-1 && !open {
			page.NextCursor = ""
		}
		for r := 0; r < size; r++ {
			id++
			page.Records = append(page.Records, europepmc.Record{
				"pmid":  json.RawMessage(fmt.Sprintf(`"%d"`, id)),
				"extra": json.RawMessage(`true`),
			})
		}
		f.pages[cursorFor(i)] = page
	}
	return f
}

// recorder captures reporter and recorder callbacks
type recorder struct {
	started  int
	pages    []PageEvent
	recorded []PageEvent
	finished []*Result
	results  []*Result
}

func (r *recorder) Started(runID string, sequence int, cursor string) { r.started++ }
func (r *recorder) PageWritten(e PageEvent)                           { r.pages = append(r.pages, e) }
func (r *recorder) Finished(res *Result)                              { r.finished = append(r.finished, res) }
func (r *recorder) RecordPage(e PageEvent)                            { r.recorded = append(r.recorded, e) }
func (r *recorder) RecordResult(res *Result)                          { r.results = append(r.results, res) }

// failingWriter fails on one sequence
type failingWriter struct {
	Writer
	failOn int
}

func (w *failingWriter) Write(sequence int, cursor string, records []europepmc.ProjectedRecord) (string, error) {
	if sequence == w.failOn {
		return "", errors.New("disk full")
	}
	return w.Writer.Write(sequence, cursor, records)
}

func newWriter(t *testing.T, dir string) *storage.ShardedWriter {
	t.Helper()
	w, err := storage.NewShardedWriter(dir, storage.Options{PadWidth: 7, ShardDepth: 4, Indent: 4}, logger.NewNopLogger())
	require.NoError(t, err)
	return w
}

func newController(t *testing.T, store checkpoint.Store, f fetch.Fetcher, w Writer, pageSize, limit int) *Controller {
	t.Helper()
	c, err := NewController(store, f, w, Options{
		PageSize: pageSize,
		Limit:    limit,
		Fields:   []string{"pmid"},
		Logger:   logger.NewNopLogger(),
	})
	require.NoError(t, err)
	return c
}

// snapshot maps every output file under dir to its content
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		content, err := os.ReadFile(path)
		files[rel] = string(content)
		return err
	})
	require.NoError(t, err)
	return files
}

func sequences(t *testing.T, store checkpoint.Store) []int {
	t.Helper()
	history, err := store.History(context.Background(), 0)
	require.NoError(t, err)
	var seqs []int
	for _, cp := range history {
		seqs = append(seqs, cp.Sequence)
	}
	sort.Ints(seqs)
	return seqs
}

func TestState(t *testing.T) {
	assert.Equal(t, "fetching_page", StateFetchingPage.String())
	assert.Equal(t, "failed_resumable", StateFailedResumable.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestNewControllerValidation(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	f := chain(1, 1, 1, false)
	w := newWriter(t, t.TempDir())

	_, err := NewController(nil, f, w, Options{PageSize: 1})
	assert.Error(t, err)
	_, err = NewController(store, f, w, Options{PageSize: 0})
	assert.Error(t, err)
	_, err = NewController(store, f, w, Options{PageSize: 1, Limit: -1})
	assert.Error(t, err)
}

func TestRunUntilNoNextCursor(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewMemoryStore()
	f := chain(3, 2, 6, false)
	rec := &recorder{}

	c, err := NewController(store, f, newWriter(t, dir), Options{
		PageSize: 2,
		Fields:   []string{"pmid"},
		Logger:   logger.NewNopLogger(),
		Reporter: rec,
		Recorder: rec,
	})
	require.NoError(t, err)

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, result.Outcome)
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, 3, result.PagesWritten)
	assert.Equal(t, 6, result.RecordsWritten)
	assert.Equal(t, 1, result.FirstSequence)
	assert.Equal(t, 3, result.NextSequence)
	assert.Equal(t, c.RunID(), result.RunID)

	// The last page has no continuation and is not checkpointed
	assert.Equal(t, []int{2, 3}, sequences(t, store))
	assert.Equal(t, []string{"", "C1", "C2"}, f.calls)

	assert.Len(t, snapshot(t, dir), 3)
	assert.Equal(t, 1, rec.started)
	assert.Len(t, rec.pages, 3)
	assert.Len(t, rec.recorded, 3)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, result, rec.results[0])

	// Only allow-listed fields are written
	raw, err := os.ReadFile(filepath.Join(dir, storage.ShardPath(1, 7, 4), storage.FileName(1, 7)))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "extra")
	assert.Contains(t, string(raw), `"cursor": null`)
}

// hitCount 5 with page size 2 stops after three pages even though the API
// keeps handing out cursors.
func TestRunBudgetTermination(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	f := chain(10, 2, 5, true)

	result, err := newController(t, store, f, newWriter(t, t.TempDir()), 2, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBudgetSpent, result.Outcome)
	assert.Equal(t, 3, result.PagesWritten)
	assert.Len(t, f.calls, 3)
	assert.Equal(t, []int{2, 3, 4}, sequences(t, store))
}

func TestRunLimitOverridesHitCount(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	f := chain(10, 2, 1000, true)

	result, err := newController(t, store, f, newWriter(t, t.TempDir()), 2, 4).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBudgetSpent, result.Outcome)
	assert.Equal(t, 2, result.PagesWritten)
}

func TestRunResumesFromLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewMemoryStore(checkpoint.Checkpoint{Cursor: "C2", Sequence: 3})
	f := chain(4, 1, 4, false)

	result, err := newController(t, store, f, newWriter(t, dir), 1, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "C2", f.calls[0])
	assert.Equal(t, 3, result.FirstSequence)
	assert.Equal(t, 2, result.PagesWritten)

	files := snapshot(t, dir)
	assert.Contains(t, files, filepath.Join(storage.ShardPath(3, 7, 4), storage.FileName(3, 7)))
	assert.Contains(t, files, filepath.Join(storage.ShardPath(4, 7, 4), storage.FileName(4, 7)))
	assert.NotContains(t, files, filepath.Join(storage.ShardPath(1, 7, 4), storage.FileName(1, 7)))
}

// A run interrupted at any page and rerun produces the same files as one
// uninterrupted run.
func TestResumptionIdempotence(t *testing.T) {
	cleanDir := t.TempDir()
	_, err := newController(t, checkpoint.NewMemoryStore(), chain(5, 2, 10, false), newWriter(t, cleanDir), 2, 0).
		Run(context.Background())
	require.NoError(t, err)
	want := snapshot(t, cleanDir)
	require.Len(t, want, 5)

	for failAt := 0; failAt < 5; failAt++ {
		t.Run(fmt.Sprintf("fail at page %d", failAt+1), func(t *testing.T) {
			dir := t.TempDir()
			store := checkpoint.NewMemoryStore()

			broken := chain(5, 2, 10, false)
			broken.fail[cursorFor(failAt)] = &errs.ResumableFailure{Cursor: cursorFor(failAt), Attempts: 11, Graceful: true}
			result, err := newController(t, store, broken, newWriter(t, dir), 2, 0).Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, OutcomeFailedResumable, result.Outcome)
			assert.Equal(t, errs.ExitOK, errs.ExitCode(err))

			_, err = newController(t, store, chain(5, 2, 10, false), newWriter(t, dir), 2, 0).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want, snapshot(t, dir))
		})
	}
}

// A crash between the write and the append leaves the file behind; the
// rerun rewrites the same sequence and the output converges.
func TestCrashAfterWriteBeforeCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewMemoryStore()

	_, err := newController(t, store, chain(3, 1, 3, false), newWriter(t, dir), 1, 0).Run(context.Background())
	require.NoError(t, err)
	want := snapshot(t, dir)

	crashDir := t.TempDir()
	crashStore := checkpoint.NewMemoryStore()
	crashStore.FailAppend = errors.New("connection lost")

	c := newController(t, crashStore, chain(3, 1, 3, false), newWriter(t, crashDir), 1, 0)
	result, err := c.Run(context.Background())

	var cpErr *errs.CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, 2, cpErr.Sequence)
	assert.Equal(t, errs.ExitFailure, errs.ExitCode(err))
	assert.Equal(t, StateFailedResumable, c.State())
	assert.Equal(t, 0, result.PagesWritten)
	assert.Equal(t, 0, crashStore.Len())
	assert.Len(t, snapshot(t, crashDir), 1, "page 1 was written before the append failed")

	_, err = newController(t, crashStore, chain(3, 1, 3, false), newWriter(t, crashDir), 1, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, snapshot(t, crashDir))
}

func TestEmptyPageOnResume(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewMemoryStore(checkpoint.Checkpoint{Cursor: "C9", Sequence: 10})
	f := &fakeFetcher{pages: map[string]*fetch.Page{}, fail: map[string]error{}}

	result, err := newController(t, store, f, newWriter(t, dir), 10, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, result.Outcome)
	assert.Equal(t, 0, result.PagesWritten)
	assert.Equal(t, 10, result.NextSequence)
	assert.Equal(t, 1, store.Len(), "nothing appended")
	assert.Empty(t, snapshot(t, dir))
}

func TestFetchFailureAppendsNothing(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	f := chain(3, 1, 3, false)
	f.fail["C1"] = &errs.ResumableFailure{Cursor: "C1", Attempts: 11, Graceful: false, Err: errs.ErrMalformedResponse}

	c := newController(t, store, f, newWriter(t, t.TempDir()), 1, 0)
	result, err := c.Run(context.Background())

	var failure *errs.ResumableFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "C1", failure.Cursor)
	assert.Equal(t, errs.ExitFailure, errs.ExitCode(err))
	assert.Equal(t, StateFailedResumable, c.State())
	assert.Equal(t, 1, result.PagesWritten)
	assert.Same(t, failure, result.Failure)
	assert.Equal(t, []int{2}, sequences(t, store))
}

func TestPlainFetchErrorIsHardFailure(t *testing.T) {
	f := chain(1, 1, 1, false)
	f.fail[""] = errors.New("boom")

	_, err := newController(t, checkpoint.NewMemoryStore(), f, newWriter(t, t.TempDir()), 1, 0).Run(context.Background())

	var failure *errs.ResumableFailure
	require.ErrorAs(t, err, &failure)
	assert.False(t, failure.Graceful)
}

func TestWriteFailureIsResumable(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	w := &failingWriter{Writer: newWriter(t, t.TempDir()), failOn: 2}

	result, err := newController(t, store, chain(3, 1, 3, false), w, 1, 0).Run(context.Background())

	var failure *errs.ResumableFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, result.PagesWritten)
	assert.Equal(t, []int{2}, sequences(t, store), "the failed page is not checkpointed")
}

func TestCancelledContextStopsGracefully(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := chain(3, 1, 3, false)

	result, err := newController(t, checkpoint.NewMemoryStore(), f, newWriter(t, t.TempDir()), 1, 0).Run(ctx)

	var failure *errs.ResumableFailure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Graceful)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.calls)
	assert.Equal(t, OutcomeFailedResumable, result.Outcome)
}

func TestRepeatedCursorTerminates(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	f := chain(2, 1, 100, true)
	f.pages["C1"].NextCursor = "C1"

	result, err := newController(t, store, f, newWriter(t, t.TempDir()), 1, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, result.Outcome)
	assert.Equal(t, 2, result.PagesWritten)
	assert.Equal(t, []int{2}, sequences(t, store))
}

func TestSequenceIsMonotonic(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}

	c, err := NewController(store, chain(6, 1, 6, false), newWriter(t, t.TempDir()), Options{
		PageSize: 1,
		Fields:   []string{"pmid"},
		Logger:   logger.NewNopLogger(),
		Reporter: rec,
	})
	require.NoError(t, err)
	_, err = c.Run(context.Background())
	require.NoError(t, err)

	for i, event := range rec.pages {
		assert.Equal(t, i+1, event.Sequence)
	}
	assert.Equal(t, []int{2, 3, 4, 5, 6}, sequences(t, store))
}

func TestCheckpointReadFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.jsonl")
	store, err := checkpoint.NewFileStore(path, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0644))

	_, err = newController(t, store, chain(1, 1, 1, false), newWriter(t, t.TempDir()), 1, 0).Run(context.Background())

	var cpErr *errs.CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "read", cpErr.Op)
}

// ctxStore fails reads the way database/sql does once ctx is done
type ctxStore struct {
	*checkpoint.MemoryStore
}

func (s ctxStore) Latest(ctx context.Context) (*checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Latest(ctx)
}

func TestCancelledBeforeCheckpointRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newController(t, ctxStore{checkpoint.NewMemoryStore()}, chain(1, 1, 1, false), newWriter(t, t.TempDir()), 1, 0).Run(ctx)

	var failure *errs.ResumableFailure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Graceful)
	assert.Equal(t, errs.ExitOK, errs.ExitCode(err))
}
