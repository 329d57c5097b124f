package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service exports. All methods are safe on a nil
// receiver so components can run without metrics in tests.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge
	RateLimited     prometheus.Counter

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	VersionConflicts  prometheus.Counter

	CacheRequests *prometheus.CounterVec

	NoShowSweeps *prometheus.CounterVec
	NoShowMarked prometheus.Counter
}

func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),

		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "operations_total",
			Help:      "Scheduling operations by operation and outcome kind.",
		}, []string{"operation", "outcome"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "operation_duration_seconds",
			Help:      "Scheduling operation latency, including persistence.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"operation"}),

		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "version_conflicts_total",
			Help:      "Writes rejected because the caller held a stale version.",
		}),

		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Schedule cache lookups by result (hit, miss, error).",
		}, []string{"result"}),

		NoShowSweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "noshow_sweeps_total",
			Help:      "No-show sweep runs by result (ok, error, skipped).",
		}, []string{"result"}),

		NoShowMarked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "noshow_marked_total",
			Help:      "Appointments automatically marked as no-show.",
		}),
	}
}

func (c *Collector) ObserveRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, status).Inc()
	c.RequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

func (c *Collector) ObserveOperation(operation, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	c.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
	if outcome == "version_conflict" {
		c.VersionConflicts.Inc()
	}
}

func (c *Collector) CacheResult(result string) {
	if c == nil {
		return
	}
	c.CacheRequests.WithLabelValues(result).Inc()
}

func (c *Collector) Sweep(result string, marked int) {
	if c == nil {
		return
	}
	c.NoShowSweeps.WithLabelValues(result).Inc()
	c.NoShowMarked.Add(float64(marked))
}

func (c *Collector) TrackInFlight() func() {
	if c == nil {
		return func() {}
	}
	c.InFlightGauge.Inc()
	return c.InFlightGauge.Dec
}

func (c *Collector) RateLimitHit() {
	if c == nil {
		return
	}
	c.RateLimited.Inc()
}

// Handler serves the given gatherer, or the default registry when nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
