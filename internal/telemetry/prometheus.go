package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports query events on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	queriesTotal     *prometheus.CounterVec
	zeroResultsTotal prometheus.Counter
	droppedTotal     prometheus.Counter
	denseUnavailable prometheus.Counter
	numericReranked  prometheus.Counter
	duration         *prometheus.HistogramVec
	candidates       prometheus.Histogram
	results          prometheus.Histogram
}

var _ Recorder = (*PrometheusRecorder)(nil)

func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	p := &PrometheusRecorder{
		registry: registry,
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Completed searches by query intent and kind.",
		}, []string{"intent", "kind"}),
		zeroResultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "search",
			Name:      "zero_results_total",
			Help:      "Searches that returned no chunks.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "search",
			Name:      "contaminated_dropped_total",
			Help:      "Chunks hard-dropped by the contamination filter.",
		}),
		denseUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "search",
			Name:      "dense_unavailable_total",
			Help:      "Searches ranked without the dense signal.",
		}),
		numericReranked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "search",
			Name:      "numeric_reranked_total",
			Help:      "Searches that applied numeric constraint reranking.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"intent"}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "search",
			Name:      "candidates",
			Help:      "Chunks scored per search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "search",
			Name:      "results",
			Help:      "Chunks returned per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
	}

	registry.MustRegister(
		p.queriesTotal,
		p.zeroResultsTotal,
		p.droppedTotal,
		p.denseUnavailable,
		p.numericReranked,
		p.duration,
		p.candidates,
		p.results,
	)
	return p
}

func (p *PrometheusRecorder) RecordQuery(ev QueryEvent) {
	p.queriesTotal.WithLabelValues(ev.Intent, ev.Kind).Inc()
	if ev.IsZeroResult() {
		p.zeroResultsTotal.Inc()
	}
	p.droppedTotal.Add(float64(ev.Dropped))
	if ev.DenseUnavailable {
		p.denseUnavailable.Inc()
	}
	if ev.NumericReranked {
		p.numericReranked.Inc()
	}
	p.duration.WithLabelValues(ev.Intent).Observe(ev.Latency.Seconds())
	p.candidates.Observe(float64(ev.Candidates))
	p.results.Observe(float64(ev.Results))
}

// Registry exposes the private registry for tests and extra collectors.
func (p *PrometheusRecorder) Registry() *prometheus.Registry { return p.registry }

func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
