package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragflow_pipeline"

// Collector records pipeline activity on its own Prometheus registry.
// All methods are safe to call on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	turns            *prometheus.CounterVec
	turnsInProgress  prometheus.Gauge
	turnDuration     prometheus.Histogram
	sessionLookups   *prometheus.CounterVec
	fragments        *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	decodeErrors     prometheus.Counter
}

// NewCollector creates a collector with the Go runtime and process
// collectors registered alongside the pipeline metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns piped to the backend, by outcome.",
		}, []string{"outcome"}),
		turnsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_in_progress",
			Help:      "Turns currently streaming from the backend.",
		}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time from completion request to end of stream.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		sessionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_lookups_total",
			Help:      "Session resolutions, by result (hit or created).",
		}, []string{"result"}),
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Fragments emitted to the front-end, by kind.",
		}, []string{"kind"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Completion calls rejected by the backend, by status code.",
		}, []string{"code"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_decode_errors_total",
			Help:      "Stream lines skipped because they were not valid JSON.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requests, c.turns, c.turnsInProgress, c.turnDuration,
		c.sessionLookups, c.fragments, c.upstreamFailures, c.decodeErrors,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one HTTP request.
func (c *Collector) RecordRequest(endpoint string, status int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// RecordSessionHit counts a cache hit in the session resolver.
func (c *Collector) RecordSessionHit() {
	if c == nil {
		return
	}
	c.sessionLookups.WithLabelValues("hit").Inc()
}

// RecordSessionCreated counts a backend session creation.
func (c *Collector) RecordSessionCreated() {
	if c == nil {
		return
	}
	c.sessionLookups.WithLabelValues("created").Inc()
}

// RecordFragment counts one emitted fragment of the given kind.
func (c *Collector) RecordFragment(kind string) {
	if c == nil {
		return
	}
	c.fragments.WithLabelValues(kind).Inc()
}

// RecordUpstreamFailure counts a rejected completion call.
func (c *Collector) RecordUpstreamFailure(status int) {
	if c == nil {
		return
	}
	c.upstreamFailures.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordDecodeErrors adds n skipped stream lines.
func (c *Collector) RecordDecodeErrors(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.decodeErrors.Add(float64(n))
}

// TurnStarted marks a turn as in flight.
func (c *Collector) TurnStarted() {
	if c == nil {
		return
	}
	c.turnsInProgress.Inc()
}

// TurnFinished records the outcome and duration of a turn started with TurnStarted.
func (c *Collector) TurnFinished(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsInProgress.Dec()
	c.turns.WithLabelValues(outcome).Inc()
	c.turnDuration.Observe(duration.Seconds())
}
