package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "me_compute"

// Event release outcomes recorded by EventsAggregated.
const (
	OutcomeComplete = "complete"
	OutcomeTimeout  = "timeout"
	OutcomeDrained  = "drained"
	OutcomeEmpty    = "empty"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// magnitude pipeline.
type Metrics struct {
	WaveformsConsumed    prometheus.Counter
	MeasurementsProduced prometheus.Counter
	DecodeErrors         prometheus.Counter
	Rejections           *prometheus.CounterVec // labels: reason
	EventsAggregated     *prometheus.CounterVec // labels: outcome={complete,timeout,drained,empty}
	PipelineRunning      prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
	EstimateDuration        prometheus.Histogram

	// Anomaly scoring metrics.
	ScorerRequests    *prometheus.CounterVec // labels: outcome={success,error}
	ScorerCache       *prometheus.CounterVec // labels: result={hit,miss}
	ScorerAPIDuration prometheus.Histogram
	ScorerEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		WaveformsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waveforms_consumed_total",
			Help:      "Total waveform messages read from the source.",
		}),
		MeasurementsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_produced_total",
			Help:      "Total station measurements loaded, rejections included.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total waveform messages that could not be decoded.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Waveforms rejected by the estimator, by reason.",
		}, []string{"reason"}),
		EventsAggregated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_aggregated_total",
			Help:      "Events released for aggregation, by release outcome.",
		}, []string{"outcome"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of waveforms per extracted batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete extract, estimate, aggregate and load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EstimateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimate_duration_seconds",
			Help:      "Duration of a single station magnitude estimate.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		ScorerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scorer_requests_total",
			Help:      "Anomaly scorer requests by outcome.",
		}, []string{"outcome"}),
		ScorerCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scorer_cache_total",
			Help:      "Anomaly score cache lookups by result.",
		}, []string{"result"}),
		ScorerAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scorer_api_duration_seconds",
			Help:      "Anomaly scorer request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ScorerEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scorer_enabled",
			Help:      "1 when anomaly scoring is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.WaveformsConsumed,
		m.MeasurementsProduced,
		m.DecodeErrors,
		m.Rejections,
		m.EventsAggregated,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.EstimateDuration,
		m.ScorerRequests,
		m.ScorerCache,
		m.ScorerAPIDuration,
		m.ScorerEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		WaveformsConsumed:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "waveforms_consumed_total"}),
		MeasurementsProduced:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "measurements_produced_total"}),
		DecodeErrors:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "decode_errors_total"}),
		Rejections:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "rejections_total"}, []string{"reason"}),
		EventsAggregated:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_aggregated_total"}, []string{"outcome"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_processing_duration_seconds"}),
		EstimateDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "estimate_duration_seconds"}),
		ScorerRequests:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "scorer_requests_total"}, []string{"outcome"}),
		ScorerCache:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "scorer_cache_total"}, []string{"result"}),
		ScorerAPIDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "scorer_api_duration_seconds"}),
		ScorerEnabled:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "scorer_enabled"}),
	}
}
