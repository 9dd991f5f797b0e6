package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters for one pipeline invocation. The process is
// short-lived, so values are dumped to a node_exporter textfile rather than
// served.
type Metrics struct {
	registry *prometheus.Registry

	// PagesFetched counts works pages received from OpenAlex.
	PagesFetched prometheus.Counter

	// RecordsFetched counts raw work records received.
	RecordsFetched prometheus.Counter

	// PapersWritten counts papers committed to the store.
	PapersWritten prometheus.Counter

	// RecordsMalformed counts records skipped by the normalizer.
	RecordsMalformed prometheus.Counter

	// InstitutionsDropped counts affiliation entries dropped for missing geo or id.
	InstitutionsDropped prometheus.Counter

	// FetchRetries counts retried page requests.
	FetchRetries prometheus.Counter

	// Runs counts finished runs by terminal state.
	Runs *prometheus.CounterVec

	// RunDuration is the wall time of the last run in seconds.
	RunDuration prometheus.Gauge

	// LastSuccess is the unix time of the last run that reached Done.
	LastSuccess prometheus.Gauge

	// Watermark is the committed watermark as a unix timestamp (midnight UTC).
	Watermark prometheus.Gauge
}

// NewMetrics creates metrics on a private registry.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Works pages received from OpenAlex",
		}),
		RecordsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Raw work records received from OpenAlex",
		}),
		PapersWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_written_total",
			Help:      "Papers committed to the store",
		}),
		RecordsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_malformed_total",
			Help:      "Work records skipped because they could not be normalized",
		}),
		InstitutionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "institutions_dropped_total",
			Help:      "Affiliation entries dropped for missing geo or identity",
		}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Retried OpenAlex requests",
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal state",
		}, []string{"mode", "state"}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
		Watermark: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Committed publication date watermark",
		}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the Prometheus text format.
// WriteToTextfile renames into place, so collectors never read a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
