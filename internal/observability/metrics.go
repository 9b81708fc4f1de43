package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "scholartab"

// Metrics holds the pipeline and API metrics. All collectors are registered
// on Registry so tests and separate runs do not share state.
type Metrics struct {
	Registry *prometheus.Registry

	// FilesLoaded counts raw documents flattened successfully.
	FilesLoaded prometheus.Counter

	// FilesFailed counts raw documents skipped because of a per-file failure.
	FilesFailed prometheus.Counter

	// LoadDuration observes per-shard load duration in seconds.
	LoadDuration prometheus.Histogram

	// TableRows reports the row count of each normalized table.
	TableRows *prometheus.GaugeVec

	// DroppedRows counts rows dropped during normalization, by table.
	DroppedRows *prometheus.CounterVec

	// StageDuration observes pipeline stage durations in seconds.
	StageDuration *prometheus.HistogramVec

	// PredictRequests counts classifier calls by outcome.
	PredictRequests *prometheus.CounterVec

	// HTTPRequests counts API requests by route and status.
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		FilesLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "files_loaded_total",
			Help:      "Total number of raw documents loaded",
		}),
		FilesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "files_failed_total",
			Help:      "Total number of raw documents skipped after a failure",
		}),
		LoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "load_shard_duration_seconds",
			Help:      "Duration of loading one shard",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		TableRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "table_rows",
			Help:      "Row count of each normalized table",
		}, []string{"table"}),
		DroppedRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dropped_rows_total",
			Help:      "Rows dropped during normalization",
		}, []string{"table"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		PredictRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "predict_requests_total",
			Help:      "Classifier requests by status",
		}, []string{"status"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// WriteTextfile writes the current metric values in the node-exporter
// textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
