// Package metrics exposes scheduler and HTTP instrumentation to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a registry and the scheduler's metric families. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	lockTimeouts  prometheus.Counter
	operations    *prometheus.HistogramVec
	events        *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers all metric families under namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "scheduler"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_decisions_total",
			Help:      "Admission decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Per-resource conflicts reported on rejected admissions.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Committed lifecycle transitions by target status.",
		}, []string{"status"}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Commits abandoned because resource locks were not acquired in time.",
		}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of booking service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Event deliveries by sink, type and result.",
		}, []string{"sink", "type", "result"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded because the dispatch queue was full or closed.",
		}, []string{"type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.decisions,
		c.conflicts,
		c.transitions,
		c.lockTimeouts,
		c.operations,
		c.events,
		c.eventsDropped,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
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

// Decision records an admission outcome and the kinds of any conflicts.
func (c *Collector) Decision(operation string, admitted bool, conflictKinds []string) {
	if c == nil {
		return
	}
	outcome := "admitted"
	if !admitted {
		outcome = "rejected"
	}
	c.decisions.WithLabelValues(operation, outcome).Inc()
	for _, kind := range conflictKinds {
		c.conflicts.WithLabelValues(kind).Inc()
	}
}

// Transition records a committed lifecycle move.
func (c *Collector) Transition(status string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(status).Inc()
}

// LockTimeout records a lock acquisition timeout.
func (c *Collector) LockTimeout() {
	if c == nil {
		return
	}
	c.lockTimeouts.Inc()
}

// ObserveOperation records service latency labelled by result.
func (c *Collector) ObserveOperation(operation, result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}

// EventDelivered implements events.Recorder.
func (c *Collector) EventDelivered(sink, kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.events.WithLabelValues(sink, kind, result).Inc()
}

// EventDropped implements events.Recorder.
func (c *Collector) EventDropped(kind string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(kind).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
