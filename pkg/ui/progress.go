package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"epmcquery/pkg/ingest"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// ProgressTracker renders run progress. It implements ingest.Reporter.
type ProgressTracker struct {
	mu        sync.Mutex
	out       io.Writer
	quiet     bool
	startTime time.Time

	firstSequence int
	pages         int
	records       int
	hitCount      int
}

// NewProgressTracker writes to out; quiet suppresses per-page lines
func NewProgressTracker(out io.Writer, quiet bool) *ProgressTracker {
	if out == nil {
		out = Output
	}
	return &ProgressTracker{out: out, quiet: quiet, startTime: time.Now()}
}

func (p *ProgressTracker) Started(runID string, sequence int, cursor string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.firstSequence = sequence
	if p.quiet {
		return
	}

	from := "start of results"
	if cursor != "" {
		from = "checkpoint " + Yellow(fmt.Sprintf("#%d", sequence))
	}
	fmt.Fprintf(p.out, "%s run %s from %s\n", Magenta("[HARVEST]"), Dim(runID), from)
}

func (p *ProgressTracker) PageWritten(event ingest.PageEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pages++
	p.records += event.Records
	if event.HitCount > 0 {
		p.hitCount = event.HitCount
	}
	if p.quiet {
		return
	}

	fmt.Fprintf(p.out, "%s page %s %s %d records • %.1f pages/min\n",
		Green("[WRITTEN]"),
		Yellow(fmt.Sprintf("#%d", event.Sequence)),
		p.bar(),
		event.Records,
		p.rate())
}

func (p *ProgressTracker) Finished(result *ingest.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, Summary(result))
}

// bar shows records seen against the reported hit count. Resumed runs count
// only their own pages, so the bar starts from the resume point.
func (p *ProgressTracker) bar() string {
	if p.hitCount <= 0 {
		return "[" + strings.Repeat(ProgressEmpty, barWidth) + "]"
	}
	progress := float64(p.records) / float64(p.hitCount)
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(barWidth))
	return "[" + strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled) + "]"
}

func (p *ProgressTracker) rate() float64 {
	elapsed := time.Since(p.startTime).Minutes()
	if elapsed == 0 {
		return 0
	}
	return float64(p.pages) / elapsed
}

// Pages returns the number of pages reported so far
func (p *ProgressTracker) Pages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages
}

// Summary renders a finished run as a panel
func Summary(result *ingest.Result) string {
	if result == nil {
		return ""
	}

	var status string
	switch result.Outcome {
	case ingest.OutcomeExhausted:
		status = Green("all results harvested")
	case ingest.OutcomeBudgetSpent:
		status = Green("record budget spent")
	default:
		if result.Failure != nil && result.Failure.Graceful {
			status = Yellow("stopped, resumable")
		} else {
			status = Red("failed, resumable")
		}
	}

	lines := []string{
		status,
		fmt.Sprintf("%s %d", Cyan("pages:"), result.PagesWritten),
		fmt.Sprintf("%s %d", Cyan("records:"), result.RecordsWritten),
		fmt.Sprintf("%s %d → %d", Cyan("sequence:"), result.FirstSequence, result.NextSequence),
		fmt.Sprintf("%s %s", Cyan("duration:"), FormatDuration(result.Duration)),
	}
	if result.Failure != nil {
		lines = append(lines, fmt.Sprintf("%s %v", Cyan("reason:"), result.Failure.Err))
	}
	return Panel(strings.Join(lines, "\n"))
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
