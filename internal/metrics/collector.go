// Package metrics accumulates hub counters and derives health status.
//
// The Collector is constructed once at startup and passed by reference to
// every component that records into it; there is no package-level state.
// Recording calls are fire-and-forget: they never block, fail or panic
// the hot path.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxLatencySamples bounds the rolling latency window.
const maxLatencySamples = 1000

// Health statuses derived from the snapshot.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Thresholds for health derivation. The worst of the three independent
// signals wins.
const (
	errorRateDegraded    = 0.01
	errorRateUnhealthy   = 0.05
	avgLatencyDegraded   = 250 * time.Millisecond
	avgLatencyUnhealthy  = time.Second
	connFailureDegraded  = 0.05
	connFailureUnhealthy = 0.20
)

// Collector is the process-wide metrics accumulator.
type Collector struct {
	connectionsTotal       atomic.Int64
	connectionsActive      atomic.Int64
	connectionsFailed      atomic.Int64
	connectionsReconnected atomic.Int64

	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	eventsPublished  atomic.Int64
	eventsDelivered  atomic.Int64
	eventsFailed     atomic.Int64

	roomsActive         atomic.Int64
	subscriptionsActive atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	latencyAt int
	errors    map[string]int64

	registry *prometheus.Registry
	prom     promMetrics
}

// promMetrics mirrors the counters into a private Prometheus registry for
// the /metrics exposition.
type promMetrics struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	connectionsFailed prometheus.Counter
	messagesReceived  prometheus.Counter
	messagesSent      prometheus.Counter
	eventsPublished   prometheus.Counter
	eventsDelivered   prometheus.Counter
	eventsFailed      prometheus.Counter
	roomsActive       prometheus.Gauge
	subscriptions     prometheus.Gauge
	latency           prometheus.Histogram
	errorsTotal       *prometheus.CounterVec
}

// NewCollector creates the collector and its Prometheus registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		latencies: make([]time.Duration, 0, maxLatencySamples),
		errors:    make(map[string]int64),
		registry:  registry,
		prom: promMetrics{
			connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
				Name: "chathub_connections_total",
				Help: "Total client connections accepted",
			}),
			connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
				Name: "chathub_connections_active",
				Help: "Currently active client connections",
			}),
			connectionsFailed: factory.NewCounter(prometheus.CounterOpts{
				Name: "chathub_connections_failed_total",
				Help: "Total failed connection attempts",
			}),
			messagesReceived: factory.NewCounter(prometheus.CounterOpts{
				Name: "chathub_messages_received_total",
				Help: "Total client commands received",
			}),
			messagesSent: factory.NewCounter(prometheus.CounterOpts{
				Name: "chathub_messages_sent_total",
				Help: "Total envelopes written to client sockets",
			}),
			eventsPublished: factory.NewCounter(prometheus.CounterOpts{
				Name: "chathub_events_published_total",
				Help: "Total envelopes published to the bus",
			}),
			eventsDelivered: factory.NewCounter(prometheus.CounterOpts{
				Name: "chathub_events_delivered_total",
				Help: "Total envelope deliveries to subscribed handlers",
			}),
			eventsFailed: factory.NewCounter(prometheus.CounterOpts{
				Name: "chathub_events_failed_total",
				Help: "Total envelopes dropped or failed",
			}),
			roomsActive: factory.NewGauge(prometheus.GaugeOpts{
				Name: "chathub_rooms_active",
				Help: "Rooms with at least one subscriber",
			}),
			subscriptions: factory.NewGauge(prometheus.GaugeOpts{
				Name: "chathub_subscriptions_active",
				Help: "Active room subscriptions",
			}),
			latency: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "chathub_operation_latency_seconds",
				Help:    "Hub operation latency",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
			errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "chathub_errors_total",
				Help: "Total errors by category",
			}, []string{"category"}),
		},
	}
	return c
}

// Handler returns the Prometheus exposition handler for /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) IncrementConnections() {
	c.connectionsTotal.Add(1)
	c.connectionsActive.Add(1)
	c.prom.connectionsTotal.Inc()
	c.prom.connectionsActive.Inc()
}

func (c *Collector) DecrementConnections() {
	c.connectionsActive.Add(-1)
	c.prom.connectionsActive.Dec()
}

func (c *Collector) IncrementConnectionFailures() {
	c.connectionsFailed.Add(1)
	c.prom.connectionsFailed.Inc()
}

func (c *Collector) IncrementReconnections() {
	c.connectionsReconnected.Add(1)
}

func (c *Collector) IncrementMessagesReceived() {
	c.messagesReceived.Add(1)
	c.prom.messagesReceived.Inc()
}

func (c *Collector) IncrementMessagesSent() {
	c.messagesSent.Add(1)
	c.prom.messagesSent.Inc()
}

func (c *Collector) IncrementEventsPublished() {
	c.eventsPublished.Add(1)
	c.prom.eventsPublished.Inc()
}

func (c *Collector) IncrementEventsDelivered() {
	c.eventsDelivered.Add(1)
	c.prom.eventsDelivered.Inc()
}

func (c *Collector) IncrementEventsFailed() {
	c.eventsFailed.Add(1)
	c.prom.eventsFailed.Inc()
}

func (c *Collector) SetRooms(n int) {
	c.roomsActive.Store(int64(n))
	c.prom.roomsActive.Set(float64(n))
}

func (c *Collector) AddSubscriptions(delta int) {
	c.subscriptionsActive.Add(int64(delta))
	c.prom.subscriptions.Add(float64(delta))
}

// RecordLatency stores one sample in the bounded rolling window.
func (c *Collector) RecordLatency(d time.Duration) {
	c.prom.latency.Observe(d.Seconds())
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.latencies) < maxLatencySamples {
		c.latencies = append(c.latencies, d)
		return
	}
	c.latencies[c.latencyAt] = d
	c.latencyAt = (c.latencyAt + 1) % maxLatencySamples
}

// RecordError tallies one error under a category.
func (c *Collector) RecordError(category string) {
	c.prom.errorsTotal.WithLabelValues(category).Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[category]++
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	ConnectionsTotal       int64            `json:"connectionsTotal"`
	ConnectionsActive      int64            `json:"connectionsActive"`
	ConnectionsFailed      int64            `json:"connectionsFailed"`
	ConnectionsReconnected int64            `json:"connectionsReconnected"`
	MessagesReceived       int64            `json:"messagesReceived"`
	MessagesSent           int64            `json:"messagesSent"`
	EventsPublished        int64            `json:"eventsPublished"`
	EventsDelivered        int64            `json:"eventsDelivered"`
	EventsFailed           int64            `json:"eventsFailed"`
	RoomsActive            int64            `json:"roomsActive"`
	SubscriptionsActive    int64            `json:"subscriptionsActive"`
	AvgLatencyMs           float64          `json:"avgLatencyMs"`
	MaxLatencyMs           float64          `json:"maxLatencyMs"`
	Errors                 map[string]int64 `json:"errors"`
}

// Snapshot copies the current counters.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		ConnectionsTotal:       c.connectionsTotal.Load(),
		ConnectionsActive:      c.connectionsActive.Load(),
		ConnectionsFailed:      c.connectionsFailed.Load(),
		ConnectionsReconnected: c.connectionsReconnected.Load(),
		MessagesReceived:       c.messagesReceived.Load(),
		MessagesSent:           c.messagesSent.Load(),
		EventsPublished:        c.eventsPublished.Load(),
		EventsDelivered:        c.eventsDelivered.Load(),
		EventsFailed:           c.eventsFailed.Load(),
		RoomsActive:            c.roomsActive.Load(),
		SubscriptionsActive:    c.subscriptionsActive.Load(),
		Errors:                 make(map[string]int64),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var total, max time.Duration
	for _, d := range c.latencies {
		total += d
		if d > max {
			max = d
		}
	}
	if n := len(c.latencies); n > 0 {
		s.AvgLatencyMs = float64(total.Microseconds()) / float64(n) / 1000
	}
	s.MaxLatencyMs = float64(max.Microseconds()) / 1000
	for k, v := range c.errors {
		s.Errors[k] = v
	}
	return s
}

// HealthStatus derives the process health from error rate, average
// latency and connection-failure rate, taking the worst of the three.
func (c *Collector) HealthStatus() string {
	s := c.Snapshot()

	var totalErrors int64
	for _, v := range s.Errors {
		totalErrors += v
	}
	totalOps := s.MessagesReceived + s.MessagesSent + s.EventsPublished
	status := StatusHealthy

	if totalOps > 0 {
		rate := float64(totalErrors) / float64(totalOps)
		status = worst(status, rateStatus(rate, errorRateDegraded, errorRateUnhealthy))
	}
	avg := time.Duration(s.AvgLatencyMs * float64(time.Millisecond))
	if avg >= avgLatencyUnhealthy {
		status = worst(status, StatusUnhealthy)
	} else if avg >= avgLatencyDegraded {
		status = worst(status, StatusDegraded)
	}
	if s.ConnectionsTotal > 0 {
		rate := float64(s.ConnectionsFailed) / float64(s.ConnectionsTotal+s.ConnectionsFailed)
		status = worst(status, rateStatus(rate, connFailureDegraded, connFailureUnhealthy))
	}
	return status
}

func rateStatus(rate, degraded, unhealthy float64) string {
	switch {
	case rate >= unhealthy:
		return StatusUnhealthy
	case rate >= degraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func worst(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Reset clears all counters. Test harnesses only.
func (c *Collector) Reset() {
	c.connectionsTotal.Store(0)
	c.connectionsActive.Store(0)
	c.connectionsFailed.Store(0)
	c.connectionsReconnected.Store(0)
	c.messagesReceived.Store(0)
	c.messagesSent.Store(0)
	c.eventsPublished.Store(0)
	c.eventsDelivered.Store(0)
	c.eventsFailed.Store(0)
	c.roomsActive.Store(0)
	c.subscriptionsActive.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = c.latencies[:0]
	c.latencyAt = 0
	c.errors = make(map[string]int64)
}
