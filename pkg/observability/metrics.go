package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Scene metrics
	WishesAdded    *prometheus.CounterVec
	FlightsStarted prometheus.Counter
	PersistResults *prometheus.CounterVec
	ActiveScenes   prometheus.Gauge

	// Store metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec

	// Realtime metrics
	Subscribers prometheus.Gauge
	Dropped     prometheus.Counter
}

// NewCollector creates a new metrics collector with the given namespace.
// Each collector owns its registry, so tests can create as many as they need.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		WishesAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scene_wishes_added_total",
				Help:      "Wishes merged into a scene, by origin",
			},
			[]string{"origin"},
		),
		FlightsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scene_flights_started_total",
				Help:      "Total number of wish flights launched",
			},
		),
		PersistResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scene_persist_total",
				Help:      "Background wish inserts, by result",
			},
			[]string{"result"},
		),
		ActiveScenes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scene_active",
				Help:      "Live scene sessions currently running",
			},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of wish store operations",
			},
			[]string{"operation", "status"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Wish store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_subscribers",
				Help:      "Active realtime insert subscriptions",
			},
		),
		Dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_dropped_total",
				Help:      "Realtime subscribers dropped for falling behind",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.WishesAdded,
		c.FlightsStarted,
		c.PersistResults,
		c.ActiveScenes,
		c.StoreOperations,
		c.StoreDuration,
		c.BreakerState,
		c.Subscribers,
		c.Dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordHTTPRequest records an HTTP request metric
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStoreOperation records a store call and its outcome.
func (c *Collector) RecordStoreOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.StoreOperations.WithLabelValues(operation, status).Inc()
	c.StoreDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// WishAdded counts a wish merged into a scene.
func (c *Collector) WishAdded(origin string) {
	c.WishesAdded.WithLabelValues(origin).Inc()
}

// FlightStarted counts a launched flight.
func (c *Collector) FlightStarted() {
	c.FlightsStarted.Inc()
}

// Persisted counts the result of a background insert.
func (c *Collector) Persisted(err error) {
	if err != nil {
		c.PersistResults.WithLabelValues("error").Inc()
		return
	}
	c.PersistResults.WithLabelValues("ok").Inc()
}

// SubscriberAdded counts a new realtime subscription.
func (c *Collector) SubscriberAdded() {
	c.Subscribers.Inc()
}

// SubscriberRemoved counts a cancelled realtime subscription.
func (c *Collector) SubscriberRemoved() {
	c.Subscribers.Dec()
}

// SubscriberDropped counts a subscriber removed for falling behind.
func (c *Collector) SubscriberDropped() {
	c.Subscribers.Dec()
	c.Dropped.Inc()
}

// BreakerStateChanged exports the new state of a circuit breaker.
func (c *Collector) BreakerStateChanged(name string, state gobreaker.State) {
	c.BreakerState.WithLabelValues(name).Set(float64(state))
}

// SessionStarted counts a live scene session.
func (c *Collector) SessionStarted() {
	c.ActiveScenes.Inc()
}

// SessionEnded counts a finished live scene session.
func (c *Collector) SessionEnded() {
	c.ActiveScenes.Dec()
}
