// Package metrics exposes the prometheus collectors of ingestion, views, QC
// annotation and pruning. A nil *Collector records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "biodb"

// Batch outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeDryRun    = "dry_run"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

type Collector struct {
	IngestedRows     *prometheus.CounterVec
	IngestBatches    *prometheus.CounterVec
	IngestDuration   prometheus.Histogram
	CompensatedFiles prometheus.Counter

	ViewUpdates *prometheus.CounterVec

	Annotations *prometheus.CounterVec

	PrunedOrphans prometheus.Counter
}

// NewCollector registers every collector with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		IngestedRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "entities_total",
			Help:      "Entities written by committed ingestion batches, by entity type.",
		}, []string{"entity"}),

		IngestBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Ingestion batches by outcome.",
		}, []string{"outcome"}),

		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Ingestion batch latency distribution.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		CompensatedFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "compensated_files_total",
			Help:      "Artifact files deleted after a failed or dry-run batch.",
		}),

		ViewUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "views",
			Name:      "updates_total",
			Help:      "View updates by view and outcome.",
		}, []string{"view", "outcome"}),

		Annotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qc",
			Name:      "annotations_total",
			Help:      "QC annotator runs by annotator and outcome.",
		}, []string{"annotator", "outcome"}),

		PrunedOrphans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "orphans_deleted_total",
			Help:      "Orphaned artifact files deleted.",
		}),
	}
}

// ObserveBatch records one ingestion batch.
func (c *Collector) ObserveBatch(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.IngestBatches.WithLabelValues(outcome).Inc()
	c.IngestDuration.Observe(elapsed.Seconds())
}

// AddEntities counts committed entities of one type.
func (c *Collector) AddEntities(entity string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.IngestedRows.WithLabelValues(entity).Add(float64(n))
}

// AddCompensated counts deleted artifact files.
func (c *Collector) AddCompensated(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.CompensatedFiles.Add(float64(n))
}

// ObserveView records one view update.
func (c *Collector) ObserveView(view, outcome string) {
	if c == nil {
		return
	}
	c.ViewUpdates.WithLabelValues(view, outcome).Inc()
}

// ObserveAnnotation records one annotator run.
func (c *Collector) ObserveAnnotation(annotator, outcome string) {
	if c == nil {
		return
	}
	c.Annotations.WithLabelValues(annotator, outcome).Inc()
}

// AddPruned counts deleted orphans.
func (c *Collector) AddPruned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PrunedOrphans.Add(float64(n))
}

// WriteTextfile writes the gathered metrics in the text exposition format,
// for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
