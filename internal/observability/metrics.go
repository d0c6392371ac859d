// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the feed.
// Every Record* method is safe to call on a nil *Metrics.
type Metrics struct {
	// Subscriber metrics
	LogsReceived    *prometheus.CounterVec
	LogsDropped     *prometheus.CounterVec
	WSReconnects    prometheus.Counter
	WSConnected     prometheus.Gauge
	HighestSlotSeen prometheus.Gauge

	// Classification metrics
	EventsClassified *prometheus.CounterVec
	EventsEmitted    *prometheus.CounterVec
	EventsUnresolved *prometheus.CounterVec

	// Resolver metrics
	ResolverRequests  *prometheus.CounterVec
	ResolverBatchSize prometheus.Histogram
	RPCCallLatency    *prometheus.HistogramVec

	// Enrichment metrics
	EnrichmentRequests *prometheus.CounterVec
	EnrichmentLatency  prometheus.Histogram

	// Rate limiting metrics
	RateLimited  *prometheus.CounterVec
	RateWaits    *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec

	// Store metrics
	TrackedTokens   prometheus.Gauge
	Broadcasts      prometheus.Counter
	SubscriberDrops prometheus.Counter
	CacheEvictions  *prometheus.CounterVec

	// Sink metrics
	SinkWrites      *prometheus.CounterVec
	SinkErrors      *prometheus.CounterVec
	SinkDropped     *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "solana_token_feed"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		LogsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "logs_received_total",
			Help:      "Total number of log notifications received by program",
		}, []string{"program"}),
		LogsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "logs_dropped_total",
			Help:      "Total number of log notifications dropped by reason",
		}, []string{"reason"}),
		WSReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts",
		}),
		WSConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_connected",
			Help:      "1 when the WebSocket subscription is connected",
		}),
		HighestSlotSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		EventsClassified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "candidates_total",
			Help:      "Total number of classified candidates by kind",
		}, []string{"kind"}),
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_emitted_total",
			Help:      "Total number of typed chain events applied to the store",
		}, []string{"kind"}),
		EventsUnresolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_unresolved_total",
			Help:      "Candidates discarded because details could not be resolved",
		}, []string{"kind"}),

		ResolverRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "requests_total",
			Help:      "Transaction detail lookups by outcome",
		}, []string{"path"}),
		ResolverBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "batch_size",
			Help:      "Number of signatures per enhanced batch request",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		EnrichmentRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "requests_total",
			Help:      "Enrichment attempts by result",
		}, []string{"result"}),
		EnrichmentLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "latency_seconds",
			Help:      "Market-data request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rate_limited_total",
			Help:      "Upstream rate-limit responses by service",
		}, []string{"service"}),
		RateWaits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "waits_total",
			Help:      "Local admission waits by service and outcome",
		}, []string{"service", "outcome"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "breaker_state",
			Help:      "Circuit breaker state by service (0 closed, 1 open, 2 half-open)",
		}, []string{"service"}),

		TrackedTokens: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "tracked_tokens",
			Help:      "Number of token records held in memory",
		}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "broadcasts_total",
			Help:      "Total number of record broadcasts to subscribers",
		}),
		SubscriberDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "subscriber_drops_total",
			Help:      "Broadcasts dropped because a subscriber buffer was full",
		}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "swept_entries_total",
			Help:      "Expired cache entries reclaimed by periodic sweeps",
		}, []string{"cache"}),

		SinkWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "writes_total",
			Help:      "Records written to external sinks",
		}, []string{"sink"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Failed writes to external sinks",
		}, []string{"sink"}),
		SinkDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "dropped_total",
			Help:      "Records dropped because a write-behind buffer was full",
		}, []string{"sink"}),
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
	}
}

// NewTestMetrics returns metrics bound to a private registry.
func NewTestMetrics() *Metrics {
	return NewMetrics("test", prometheus.NewRegistry())
}

// RecordLogReceived counts a raw notification for program.
func (m *Metrics) RecordLogReceived(program string, slot int64) {
	if m == nil {
		return
	}
	m.LogsReceived.WithLabelValues(program).Inc()
	m.HighestSlotSeen.Set(float64(slot))
}

// RecordLogDropped counts a notification discarded before classification.
func (m *Metrics) RecordLogDropped(reason string) {
	if m == nil {
		return
	}
	m.LogsDropped.WithLabelValues(reason).Inc()
}

// RecordReconnect counts a WebSocket reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.WSReconnects.Inc()
}

// SetConnected updates the connection gauge.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.WSConnected.Set(1)
		return
	}
	m.WSConnected.Set(0)
}

// RecordClassified counts a classified candidate.
func (m *Metrics) RecordClassified(kind string) {
	if m == nil {
		return
	}
	m.EventsClassified.WithLabelValues(kind).Inc()
}

// RecordEmitted counts a typed event applied to the store.
func (m *Metrics) RecordEmitted(kind string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(kind).Inc()
}

// RecordUnresolved counts a candidate discarded for lack of details.
func (m *Metrics) RecordUnresolved(kind string) {
	if m == nil {
		return
	}
	m.EventsUnresolved.WithLabelValues(kind).Inc()
}

// RecordResolver counts a resolver lookup by path (cache, batch, rpc, breaker_open, miss).
func (m *Metrics) RecordResolver(path string) {
	if m == nil {
		return
	}
	m.ResolverRequests.WithLabelValues(path).Inc()
}

// RecordBatch observes the size of a flushed batch.
func (m *Metrics) RecordBatch(size int) {
	if m == nil {
		return
	}
	m.ResolverBatchSize.Observe(float64(size))
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordEnrichment counts an enrichment attempt by result.
func (m *Metrics) RecordEnrichment(result string, seconds float64) {
	if m == nil {
		return
	}
	m.EnrichmentRequests.WithLabelValues(result).Inc()
	if seconds > 0 {
		m.EnrichmentLatency.Observe(seconds)
	}
}

// RecordRateLimited counts an upstream 429 for service.
func (m *Metrics) RecordRateLimited(service string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(service).Inc()
}

// RecordWait counts a local admission wait.
func (m *Metrics) RecordWait(service, outcome string) {
	if m == nil {
		return
	}
	m.RateWaits.WithLabelValues(service, outcome).Inc()
}

// SetBreakerState updates the breaker gauge for service.
func (m *Metrics) SetBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(service).Set(float64(state))
}

// SetTrackedTokens updates the store size gauge.
func (m *Metrics) SetTrackedTokens(n int) {
	if m == nil {
		return
	}
	m.TrackedTokens.Set(float64(n))
}

// RecordBroadcast counts a record broadcast.
func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

// RecordSubscriberDrop counts a broadcast dropped for a slow subscriber.
func (m *Metrics) RecordSubscriberDrop() {
	if m == nil {
		return
	}
	m.SubscriberDrops.Inc()
}

// RecordSweep counts entries reclaimed from cache.
func (m *Metrics) RecordSweep(cache string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheEvictions.WithLabelValues(cache).Add(float64(n))
}

// RecordSinkWrite records a sink write outcome.
func (m *Metrics) RecordSinkWrite(sink string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SinkErrors.WithLabelValues(sink).Inc()
		return
	}
	m.SinkWrites.WithLabelValues(sink).Inc()
}

// RecordSinkDrop counts a record dropped by a full write-behind buffer.
func (m *Metrics) RecordSinkDrop(sink string) {
	if m == nil {
		return
	}
	m.SinkDropped.WithLabelValues(sink).Inc()
}

// RecordDBQuery records database query duration.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
}
