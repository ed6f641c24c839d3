// Package metrics collects run measurements in a private Prometheus
// registry and exports them to a node_exporter textfile at the end of a
// run. Batch jobs have no scrape endpoint, so the textfile is the interface.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"epmcquery/pkg/ingest"
)

const namespace = "epmcquery"

// Recorder implements ingest.Recorder
type Recorder struct {
	registry *prometheus.Registry

	pages         prometheus.Counter
	records       prometheus.Counter
	pageSeconds   prometheus.Histogram
	nextSequence  prometheus.Gauge
	hitCount      prometheus.Gauge
	lastRun       *prometheus.GaugeVec
	runDuration   prometheus.Gauge
	lastRunUnixTS prometheus.Gauge
}

// NewRecorder registers all collectors on a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_written_total",
			Help:      "Result pages written to disk.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records written to disk.",
		}),
		pageSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_duration_seconds",
			Help:      "Time from fetch start to checkpoint for one page.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		nextSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_sequence",
			Help:      "Sequence number the next run starts at.",
		}),
		hitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hit_count",
			Help:      "Total hits reported by the search API.",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_outcome",
			Help:      "1 for the outcome of the last run, 0 otherwise.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRunUnixTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}

	r.registry.MustRegister(
		r.pages, r.records, r.pageSeconds, r.nextSequence,
		r.hitCount, r.lastRun, r.runDuration, r.lastRunUnixTS,
	)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordPage(event ingest.PageEvent) {
	r.pages.Inc()
	r.records.Add(float64(event.Records))
	r.pageSeconds.Observe(event.Elapsed.Seconds())
	if event.HitCount > 0 {
		r.hitCount.Set(float64(event.HitCount))
	}
}

func (r *Recorder) RecordResult(result *ingest.Result) {
	for _, outcome := range []ingest.Outcome{
		ingest.OutcomeExhausted, ingest.OutcomeBudgetSpent, ingest.OutcomeFailedResumable,
	} {
		v := 0.0
		if result.Outcome == outcome {
			v = 1
		}
		r.lastRun.WithLabelValues(string(outcome)).Set(v)
	}
	r.nextSequence.Set(float64(result.NextSequence))
	r.runDuration.Set(result.Duration.Seconds())
	r.lastRunUnixTS.SetToCurrentTime()
}

// WriteTextfile writes the registry in text exposition format. The write
// is atomic, so node_exporter never reads a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
