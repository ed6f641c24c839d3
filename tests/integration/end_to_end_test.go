package integration

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"

	"epmcquery/pkg/config"
	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/ingest"
	"epmcquery/pkg/metrics"
	"epmcquery/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(t *testing.T, h *TestHelper, sequence, index int) []string {
	t.Helper()
	doc, err := storage.ReadDocument(h.Writer().PathFor(sequence))
	require.NoError(t, err)
	require.Greater(t, len(doc.Results), index)

	var out []string
	for _, f := range doc.Results[index] {
		out = append(out, f.Key)
	}
	return out
}

func count(cursors []string, cursor string) int {
	n := 0
	for _, c := range cursors {
		if c == cursor {
			n++
		}
	}
	return n
}

// Five hits in pages of two: the hit count budget stops the run after the
// third page, and the next run finds nothing left.
func TestHarvestUntilBudgetThenExhausted(t *testing.T) {
	h := NewTestHelper(t, 5)
	recorder := metrics.NewRecorder()

	result, err := h.Harvest(context.Background(), func(o *ingest.Options) { o.Recorder = recorder })
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeBudgetSpent, result.Outcome)
	assert.Equal(t, 3, result.PagesWritten)
	assert.Equal(t, 5, result.RecordsWritten)
	assert.Equal(t, 5, result.HitCount)
	assert.Equal(t, 4, result.NextSequence)
	assert.Equal(t, 3, h.CountDocuments())

	cp := h.Latest()
	require.NotNil(t, cp)
	assert.Equal(t, CursorFor(5), cp.Cursor)
	assert.Equal(t, 4, cp.Sequence)

	first, err := storage.ReadDocument(h.Writer().PathFor(1))
	require.NoError(t, err)
	assert.Nil(t, first.Cursor, "first document records a null cursor")
	assert.Len(t, first.Results, 2)

	second, err := storage.ReadDocument(h.Writer().PathFor(2))
	require.NoError(t, err)
	require.NotNil(t, second.Cursor)
	assert.Equal(t, CursorFor(2), *second.Cursor)

	assert.Equal(t,
		[]string{"pmid", "pmcid", "title", "authorString", "citedByCount", "hasTMAccessionNumbers"},
		keys(t, h, 1, 0), "projection keeps allow-listed fields in allow-list order")

	require.NoError(t, recorder.WriteTextfile(h.Config.Metrics.TextfilePath))
	prom, err := os.ReadFile(h.Config.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "epmcquery_records_written_total 5")

	again, err := h.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeExhausted, again.Outcome)
	assert.Equal(t, 0, again.PagesWritten)
	assert.Equal(t, 4, again.FirstSequence)
	assert.Equal(t, 3, h.CountDocuments())

	cursors := h.Server().CursorsRequested()
	assert.Equal(t, CursorFor(5), cursors[len(cursors)-1], "second run resumes at the checkpointed cursor")
}

func TestResumeAfterGracefulFailure(t *testing.T) {
	h := NewTestHelper(t, 5)
	h.Server().FailCursor(CursorFor(4), http.StatusServiceUnavailable, -1)

	result, err := h.Harvest(context.Background())
	require.Error(t, err)

	var failure *errs.ResumableFailure
	require.True(t, errors.As(err, &failure))
	assert.True(t, failure.Graceful)
	assert.Equal(t, CursorFor(4), failure.Cursor)
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, errs.ExitOK, errs.ExitCode(err))

	assert.Equal(t, ingest.OutcomeFailedResumable, result.Outcome)
	assert.Equal(t, 2, result.PagesWritten)
	assert.Equal(t, []string{"*", CursorFor(2), CursorFor(4), CursorFor(4), CursorFor(4)}, h.Server().CursorsRequested())

	cp := h.Latest()
	require.NotNil(t, cp)
	assert.Equal(t, CursorFor(4), cp.Cursor)
	assert.Equal(t, 3, cp.Sequence)

	h.Server().ClearFailures()
	resumed, err := h.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, resumed.FirstSequence)
	assert.Equal(t, 1, resumed.PagesWritten)
	assert.Equal(t, 1, resumed.RecordsWritten)
	assert.Equal(t, ingest.OutcomeExhausted, resumed.Outcome)
	assert.Equal(t, 3, h.CountDocuments())

	doc, err := storage.ReadDocument(h.Writer().PathFor(3))
	require.NoError(t, err)
	require.NotNil(t, doc.Cursor)
	assert.Equal(t, CursorFor(4), *doc.Cursor)
}

func TestHardFailureWhenNotGraceful(t *testing.T) {
	h := NewTestHelper(t, 5)
	h.Config.Retry.Graceful = false
	h.Server().FailCursor("*", http.StatusInternalServerError, -1)

	result, err := h.Harvest(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ExitFailure, errs.ExitCode(err))
	assert.Equal(t, 0, result.PagesWritten)
	assert.Equal(t, 3, h.Server().RequestCount())
	assert.Equal(t, 0, h.CountDocuments())
	assert.Nil(t, h.Latest())
}

func TestBadRequestIsNotRetried(t *testing.T) {
	h := NewTestHelper(t, 5)
	h.Server().FailCursor(CursorFor(2), http.StatusBadRequest, 1)

	_, err := h.Harvest(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ExitFailure, errs.ExitCode(err), "a rejected request needs an operator even in graceful mode")
	assert.Equal(t, 1, count(h.Server().CursorsRequested(), CursorFor(2)))

	cp := h.Latest()
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.Sequence)
}

func TestTransientFailuresRecover(t *testing.T) {
	h := NewTestHelper(t, 5)
	h.Server().FailCursor(CursorFor(2), http.StatusServiceUnavailable, 2)
	h.Server().DropHitCount("*", 1)

	result, err := h.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeBudgetSpent, result.Outcome)
	assert.Equal(t, 3, result.PagesWritten)

	cursors := h.Server().CursorsRequested()
	assert.Equal(t, 2, count(cursors, "*"), "a response without hitCount is retried")
	assert.Equal(t, 3, count(cursors, CursorFor(2)))
}

func TestLimitOverridesHitCount(t *testing.T) {
	h := NewTestHelper(t, 5)
	h.Config.Search.Limit = 2

	result, err := h.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeBudgetSpent, result.Outcome)
	assert.Equal(t, 1, result.PagesWritten)

	cp := h.Latest()
	require.NotNil(t, cp)
	assert.Equal(t, CursorFor(2), cp.Cursor)
	assert.Equal(t, 2, cp.Sequence)
}

func TestZeroHits(t *testing.T) {
	h := NewTestHelper(t, 0)

	result, err := h.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeExhausted, result.Outcome)
	assert.Equal(t, 1, h.Server().RequestCount(), "zero hits is not retried")
	assert.Equal(t, 0, h.CountDocuments())
	assert.Nil(t, h.Latest())
}

func TestCancelledRunIsGraceful(t *testing.T) {
	h := NewTestHelper(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Harvest(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, errs.ExitOK, errs.ExitCode(err))
	assert.Equal(t, 0, h.Server().RequestCount())
}

func TestFileCheckpointBackend(t *testing.T) {
	h := NewTestHelper(t, 3)
	h.Config.Database.Driver = config.DriverFile
	h.Config.Database.Path = strings.TrimSuffix(h.Config.Database.Path, ".db") + ".jsonl"

	result, err := h.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesWritten)

	cp := h.Latest()
	require.NotNil(t, cp)
	assert.Equal(t, CursorFor(3), cp.Cursor)
	assert.Equal(t, 3, cp.Sequence)

	raw, err := os.ReadFile(h.Config.Database.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"), "one line per checkpoint")
}
