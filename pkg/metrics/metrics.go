package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the process-local Prometheus view of what this worker has
// recorded. The cluster-wide numbers live in the coordination store; these
// series let a scraper see per-process contributions.
type Registry struct {
	// HTTP metrics
	Requests        *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	Accepted        prometheus.Counter
	RequestDuration *prometheus.HistogramVec
	Connections     prometheus.Gauge

	// Coordination metrics
	StoreUp        prometheus.Gauge
	Throughput     prometheus.Gauge
	RecordsDropped prometheus.Counter

	// Rate limiting metrics
	RateLimitChecks *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	cfg := DefaultConfig()
	cfg.Registry = reg
	return NewRegistryWithConfig(cfg)
}

// NewRegistryWithConfig creates a registry honoring the namespace and
// constant labels in cfg. It returns nil when cfg.Enabled is false; every
// method on Registry accepts a nil receiver.
func NewRegistryWithConfig(cfg Config) *Registry {
	if !cfg.Enabled {
		return nil
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "clusterflow"
	}
	factory := promauto.With(reg)

	return &Registry{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "http",
				Name:        "requests_total",
				Help:        "Total number of requests recorded by this process",
				ConstLabels: cfg.Labels,
			},
			[]string{"endpoint"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "http",
				Name:        "errors_total",
				Help:        "Total number of responses with status >= 400",
				ConstLabels: cfg.Labels,
			},
			[]string{"endpoint"},
		),

		Accepted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "http",
				Name:        "accepted_total",
				Help:        "Total number of responses with status < 400",
				ConstLabels: cfg.Labels,
			},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "http",
				Name:        "request_duration_seconds",
				Help:        "Time spent serving requests",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: cfg.Labels,
			},
			[]string{"endpoint"},
		),

		Connections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "http",
				Name:        "connections",
				Help:        "Number of open client connections on this process",
				ConstLabels: cfg.Labels,
			},
		),

		StoreUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "store",
				Name:        "up",
				Help:        "Whether the coordination store is reachable (1) or not (0)",
				ConstLabels: cfg.Labels,
			},
		),

		Throughput: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "cluster",
				Name:        "throughput_rps",
				Help:        "Last sampled cluster-wide requests per second",
				ConstLabels: cfg.Labels,
			},
		),

		RecordsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "recorder",
				Name:        "dropped_total",
				Help:        "Recording tasks dropped because the recorder queue was full",
				ConstLabels: cfg.Labels,
			},
		),

		RateLimitChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "ratelimit",
				Name:        "checks_total",
				Help:        "Rate limit checks by limiter and outcome",
				ConstLabels: cfg.Labels,
			},
			[]string{"limiter", "result"},
		),
	}
}

// ObserveRequest counts n requests for endpoint.
func (r *Registry) ObserveRequest(endpoint string, n int64) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(endpoint).Add(float64(n))
}

// ObserveOutcome records the status class and latency of a finished request.
func (r *Registry) ObserveOutcome(endpoint string, status int, d time.Duration) {
	if r == nil {
		return
	}
	if status >= 400 {
		r.Errors.WithLabelValues(endpoint).Inc()
	} else {
		r.Accepted.Inc()
	}
	r.RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRateLimit counts one limiter decision. result is one of
// "allowed", "rejected" or "degraded".
func (r *Registry) ObserveRateLimit(limiter, result string) {
	if r == nil {
		return
	}
	r.RateLimitChecks.WithLabelValues(limiter, result).Inc()
}

// SetStoreUp mirrors the store readiness state.
func (r *Registry) SetStoreUp(ready bool) {
	if r == nil {
		return
	}
	if ready {
		r.StoreUp.Set(1)
	} else {
		r.StoreUp.Set(0)
	}
}

// SetConnections records the live connection count of this process.
func (r *Registry) SetConnections(n int64) {
	if r == nil {
		return
	}
	r.Connections.Set(float64(n))
}

// SetThroughput records the last sampled throughput.
func (r *Registry) SetThroughput(v float64) {
	if r == nil {
		return
	}
	r.Throughput.Set(v)
}

// IncDropped counts one dropped recording task.
func (r *Registry) IncDropped() {
	if r == nil {
		return
	}
	r.RecordsDropped.Inc()
}
