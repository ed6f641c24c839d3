package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"epmcquery/pkg/checkpoint"
	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/europepmc"
	"epmcquery/pkg/fetch"
	"epmcquery/pkg/logger"
)

// State is the controller's position in the page loop
type State int

const (
	StateStart State = iota
	StateFetchingPage
	StatePersistingOutput
	StateCheckpointing
	StateDone
	StateFailedResumable
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateFetchingPage:
		return "fetching_page"
	case StatePersistingOutput:
		return "persisting_output"
	case StateCheckpointing:
		return "checkpointing"
	case StateDone:
		return "done"
	case StateFailedResumable:
		return "failed_resumable"
	default:
		return "unknown"
	}
}

// Outcome says why a run stopped
type Outcome string

const (
	OutcomeExhausted       Outcome = "exhausted"
	OutcomeBudgetSpent     Outcome = "budget_spent"
	OutcomeFailedResumable Outcome = "failed_resumable"
)

// Writer persists one page of projected records
type Writer interface {
	Write(sequence int, cursor string, records []europepmc.ProjectedRecord) (string, error)
}

// PageEvent describes a page that was written and checkpointed
type PageEvent struct {
	RunID      string
	Sequence   int
	Cursor     string
	NextCursor string
	Records    int
	Path       string
	HitCount   int
	// Remaining is the budget left after this page
	Remaining int
	Elapsed   time.Duration
}

// Reporter receives progress for display
type Reporter interface {
	Started(runID string, sequence int, cursor string)
	PageWritten(event PageEvent)
	Finished(result *Result)
}

// Recorder receives measurements
type Recorder interface {
	RecordPage(event PageEvent)
	RecordResult(result *Result)
}

// Result summarises a run
type Result struct {
	RunID   string
	Outcome Outcome
	// FirstSequence is the sequence the run started at
	FirstSequence int
	// NextSequence is the sequence the next run will start at
	NextSequence   int
	StartCursor    string
	LastCursor     string
	PagesWritten   int
	RecordsWritten int
	HitCount       int
	Duration       time.Duration
	Failure        *errs.ResumableFailure
}

// Options configures a Controller
type Options struct {
	PageSize int
	// Limit overrides the reported hit count as the record budget when > 0
	Limit int
	// Fields is the projection allow-list
	Fields   []string
	Logger   logger.Logger
	Reporter Reporter
	Recorder Recorder
}

// Controller drives one ingestion run: fetch a page, write it, checkpoint
// the continuation, repeat. It owns no resources; the store, fetcher and
// writer are opened and closed by the caller.
type Controller struct {
	store   checkpoint.Store
	fetcher fetch.Fetcher
	writer  Writer
	opts    Options
	runID   string
	logger  logger.Logger

	mu    sync.RWMutex
	state State
}

// NewController wires a controller
func NewController(store checkpoint.Store, fetcher fetch.Fetcher, writer Writer, opts Options) (*Controller, error) {
	if store == nil || fetcher == nil || writer == nil {
		return nil, errors.New("store, fetcher and writer are required")
	}
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", opts.PageSize)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", opts.Limit)
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	runID := uuid.NewString()
	return &Controller{
		store:   store,
		fetcher: fetcher,
		writer:  writer,
		opts:    opts,
		runID:   runID,
		logger:  log.WithFields(map[string]interface{}{"component": "controller", "run_id": runID}),
		state:   StateStart,
	}, nil
}

// RunID identifies this run in logs and metrics
func (c *Controller) RunID() string {
	return c.runID
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run pages through the search until the results are exhausted, the budget
// is spent, or a page cannot be fetched. A fetch failure or cancellation
// returns the partial result with a *errors.ResumableFailure; a checkpoint
// failure returns a *errors.CheckpointError.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	c.setState(StateStart)

	latest, err := c.store.Latest(ctx)
	if err != nil {
		c.setState(StateFailedResumable)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &errs.ResumableFailure{Graceful: true, Err: ctxErr}
		}
		return nil, &errs.CheckpointError{Op: "read", Err: err}
	}

	sequence, cursor := 1, ""
	if latest != nil {
		sequence, cursor = latest.Sequence, latest.Cursor
	}

	result := &Result{
		RunID:         c.runID,
		FirstSequence: sequence,
		NextSequence:  sequence,
		StartCursor:   cursor,
		LastCursor:    cursor,
	}

	c.logger.InfoWithFields("run starting", map[string]interface{}{
		"sequence": sequence,
		"resumed":  latest != nil,
		"limit":    c.opts.Limit,
	})
	if c.opts.Reporter != nil {
		c.opts.Reporter.Started(c.runID, sequence, cursor)
	}

	budget, budgetSet := 0, false
	if c.opts.Limit > 0 {
		budget, budgetSet = c.opts.Limit, true
	}

	for {
		if err := ctx.Err(); err != nil {
			return c.fail(result, started, &errs.ResumableFailure{Cursor: cursor, Graceful: true, Err: err})
		}

		c.setState(StateFetchingPage)
		pageStart := time.Now()
		page, err := c.fetcher.Fetch(ctx, cursor, c.opts.PageSize)
		if err != nil {
			var failure *errs.ResumableFailure
			if !errors.As(err, &failure) {
				failure = &errs.ResumableFailure{Cursor: cursor, Attempts: 1, Err: err}
			}
			return c.fail(result, started, failure)
		}

		if page.Empty() {
			c.logger.InfoWithFields("no more results", map[string]interface{}{"sequence": sequence})
			return c.finish(result, started, OutcomeExhausted), nil
		}

		if !budgetSet {
			budget, budgetSet = page.HitCount, true
		}
		if page.HitCount > 0 {
			result.HitCount = page.HitCount
		}

		c.setState(StatePersistingOutput)
		records := europepmc.ProjectAll(page.Records, c.opts.Fields)
		path, err := c.writer.Write(sequence, cursor, records)
		if err != nil {
			// Nothing was checkpointed, so the page is retried next run.
			return c.fail(result, started, &errs.ResumableFailure{
				Cursor: cursor,
				Err:    fmt.Errorf("failed to write page %d: %w", sequence, err),
			})
		}

		c.setState(StateCheckpointing)
		// A missing or repeated cursor has no continuation worth recording;
		// the next run re-fetches this page and overwrites it.
		advances := page.NextCursor != "" && page.NextCursor != cursor
		if advances {
			// A signal between write and append must not lose the checkpoint.
			if err := c.store.Append(context.WithoutCancel(ctx), page.NextCursor, sequence+1); err != nil {
				c.setState(StateFailedResumable)
				c.logger.ErrorWithFields("checkpoint append failed", map[string]interface{}{
					"sequence": sequence + 1,
					"error":    err.Error(),
				})
				result.Duration = time.Since(started)
				return result, &errs.CheckpointError{Op: "append", Sequence: sequence + 1, Err: err}
			}
		}

		budget -= c.opts.PageSize
		result.PagesWritten++
		result.RecordsWritten += len(records)

		event := PageEvent{
			RunID:      c.runID,
			Sequence:   sequence,
			Cursor:     cursor,
			NextCursor: page.NextCursor,
			Records:    len(records),
			Path:       path,
			HitCount:   page.HitCount,
			Remaining:  budget,
			Elapsed:    time.Since(pageStart),
		}
		logger.LogPage(c.logger, sequence, len(records), path, budget)
		if c.opts.Reporter != nil {
			c.opts.Reporter.PageWritten(event)
		}
		if c.opts.Recorder != nil {
			c.opts.Recorder.RecordPage(event)
		}

		if advances {
			sequence++
			result.NextSequence = sequence
			result.LastCursor = page.NextCursor
		}

		switch {
		case page.NextCursor == "":
			return c.finish(result, started, OutcomeExhausted), nil
		case page.NextCursor == cursor:
			// Europe PMC repeats the cursor once the results run out
			return c.finish(result, started, OutcomeExhausted), nil
		case budget <= 0:
			return c.finish(result, started, OutcomeBudgetSpent), nil
		}

		cursor = page.NextCursor
	}
}

func (c *Controller) finish(result *Result, started time.Time, outcome Outcome) *Result {
	c.setState(StateDone)
	result.Outcome = outcome
	result.Duration = time.Since(started)

	c.logger.InfoWithFields("run finished", map[string]interface{}{
		"outcome":       string(outcome),
		"pages":         result.PagesWritten,
		"records":       result.RecordsWritten,
		"next_sequence": result.NextSequence,
		"duration_ms":   result.Duration.Milliseconds(),
	})
	c.report(result)
	return result
}

func (c *Controller) fail(result *Result, started time.Time, failure *errs.ResumableFailure) (*Result, error) {
	c.setState(StateFailedResumable)
	result.Outcome = OutcomeFailedResumable
	result.Failure = failure
	result.Duration = time.Since(started)

	c.logger.WarnWithFields("run stopped, resumable from last checkpoint", map[string]interface{}{
		"cursor":        failure.Cursor,
		"attempts":      failure.Attempts,
		"graceful":      failure.Graceful,
		"pages":         result.PagesWritten,
		"next_sequence": result.NextSequence,
		"error":         failure.Error(),
	})
	c.report(result)
	return result, failure
}

func (c *Controller) report(result *Result) {
	if c.opts.Reporter != nil {
		c.opts.Reporter.Finished(result)
	}
	if c.opts.Recorder != nil {
		c.opts.Recorder.RecordResult(result)
	}
}
