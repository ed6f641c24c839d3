package fetch

import (
	"context"
	"errors"
	"time"

	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/europepmc"
	"epmcquery/pkg/logger"
	"epmcquery/pkg/retry"
)

// Searcher issues a single search request
type Searcher interface {
	Search(ctx context.Context, req europepmc.SearchRequest) (*europepmc.SearchResponse, error)
}

// Fetcher returns one page for a cursor
type Fetcher interface {
	Fetch(ctx context.Context, cursor string, pageSize int) (*Page, error)
}

// Page is one batch of records plus its continuation
type Page struct {
	// Cursor produced this page; empty for the start of sequence
	Cursor string
	// NextCursor continues after this page; empty when the API gave none
	NextCursor string
	// HitCount is the total the API reports for the query
	HitCount int
	Records  []europepmc.Record
}

// Empty reports whether the page signals exhaustion
func (p *Page) Empty() bool {
	return p == nil || len(p.Records) == 0
}

// Outcome classifies a decoded search response
type Outcome int

const (
	// OutcomeResults is a well-formed page with hits
	OutcomeResults Outcome = iota
	// OutcomeExhausted is a well-formed response reporting zero hits
	OutcomeExhausted
	// OutcomeMalformed lacks hitCount and must be retried
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResults:
		return "results"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Classify inspects a decoded response
func Classify(resp *europepmc.SearchResponse) Outcome {
	switch {
	case resp == nil || resp.HitCount == nil:
		return OutcomeMalformed
	case *resp.HitCount == 0:
		return OutcomeExhausted
	default:
		return OutcomeResults
	}
}

// Options configures a RetryingFetcher
type Options struct {
	Query      string
	ResultType string
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	Backoff    retry.BackoffStrategy
	// Graceful marks exhaustion failures as success-like
	Graceful bool
	Logger   logger.Logger
}

// RetryingFetcher wraps a Searcher with bounded retries
type RetryingFetcher struct {
	searcher Searcher
	opts     Options
	logger   logger.Logger
}

// NewRetryingFetcher creates a fetcher over searcher
func NewRetryingFetcher(searcher Searcher, opts Options) *RetryingFetcher {
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultRandomBackoff()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return &RetryingFetcher{
		searcher: searcher,
		opts:     opts,
		logger:   log.WithField("component", "fetcher"),
	}
}

// Fetch requests the page at cursor. A zero-hit response yields an empty
// page and no error. Malformed and transient failures are retried up to
// MaxRetries times; after that, or on a failure that cannot be retried,
// Fetch returns a *errors.ResumableFailure.
func (f *RetryingFetcher) Fetch(ctx context.Context, cursor string, pageSize int) (*Page, error) {
	req := europepmc.SearchRequest{
		Query:      f.opts.Query,
		ResultType: f.opts.ResultType,
		PageSize:   pageSize,
		Cursor:     cursor,
	}

	attempts := 0
	cfg := &retry.Config{
		MaxAttempts: f.opts.MaxRetries + 1,
		Backoff:     f.opts.Backoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      f.logger.WithField("cursor", cursor),
	}

	page, err := retry.DoWithResult(func() (*Page, error) {
		attempts++
		resp, err := f.searcher.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		return pageFromResponse(cursor, resp)
	}, cfg)
	if err == nil {
		return page, nil
	}

	// Cancellation is graceful regardless of mode: nothing is wrong upstream.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, &errs.ResumableFailure{Cursor: cursor, Attempts: attempts, Graceful: true, Err: err}
	}

	// Only an exhausted retry budget honours the graceful mode. Anything
	// else (bad request, auth) needs an operator.
	graceful := f.opts.Graceful && errors.Is(err, retry.ErrMaxAttemptsExceeded)

	f.logger.ErrorWithFields("giving up on page", map[string]interface{}{
		"cursor":   cursor,
		"attempts": attempts,
		"graceful": graceful,
		"error":    err.Error(),
	})

	return nil, &errs.ResumableFailure{
		Cursor:   cursor,
		Attempts: attempts,
		Graceful: graceful,
		Err:      err,
	}
}

func pageFromResponse(cursor string, resp *europepmc.SearchResponse) (*Page, error) {
	switch Classify(resp) {
	case OutcomeMalformed:
		return nil, errs.ErrMalformedResponse
	case OutcomeExhausted:
		return &Page{Cursor: cursor}, nil
	}

	return &Page{
		Cursor:     cursor,
		NextCursor: resp.NextCursorMark,
		HitCount:   *resp.HitCount,
		Records:    resp.ResultList.Result,
	}, nil
}

// NoDelay is a zero-wait backoff for tests and dry runs.
var NoDelay retry.BackoffStrategy = &retry.ConstantBackoff{Delay: 0}

// WindowBackoff returns the random retry window [min, max]
func WindowBackoff(min, max time.Duration) retry.BackoffStrategy {
	return &retry.RandomBackoff{Min: min, Max: max}
}
