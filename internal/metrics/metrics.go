// Package metrics holds the Prometheus registry and the counters/gauges
// emitted across the gateway, presence registry, data access layer, and
// replica lag monitor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric this system exports, grouped by the
// component that owns them.
type Registry struct {
	registry *prometheus.Registry

	PresenceWrites       *prometheus.CounterVec
	HeartbeatExtensions  *prometheus.CounterVec
	DedupeHits           prometheus.Counter

	PoolSaturation *prometheus.GaugeVec

	ReplicaLagSeconds *prometheus.GaugeVec
	ReplicaLagBytes   *prometheus.GaugeVec
	ReplicaHealthy    *prometheus.GaugeVec

	ConsumerLagMessages *prometheus.GaugeVec
	DeadLettered        *prometheus.CounterVec
}

// New constructs a Registry with every metric registered against a fresh
// prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		PresenceWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatcore",
				Subsystem: "presence",
				Name:      "writes_total",
				Help:      "Total number of presence registry writes, by outcome.",
			},
			[]string{"op", "outcome"},
		),
		HeartbeatExtensions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatcore",
				Subsystem: "presence",
				Name:      "heartbeat_extensions_total",
				Help:      "Total number of presence TTL heartbeat extensions, by outcome.",
			},
			[]string{"outcome"},
		),
		DedupeHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatcore",
				Subsystem: "gateway",
				Name:      "dedupe_hits_total",
				Help:      "Total number of outbound deliveries suppressed by the per-session dedupe set.",
			},
		),

		PoolSaturation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chatcore",
				Subsystem: "database",
				Name:      "pool_saturation_ratio",
				Help:      "Fraction of the connection pool currently in use, by pool name.",
			},
			[]string{"pool"},
		),

		ReplicaLagSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chatcore",
				Subsystem: "replica",
				Name:      "lag_seconds",
				Help:      "Observed replication lag in seconds, by replica.",
			},
			[]string{"replica"},
		),
		ReplicaLagBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chatcore",
				Subsystem: "replica",
				Name:      "lag_bytes",
				Help:      "Observed replication lag in bytes, by replica.",
			},
			[]string{"replica"},
		),
		ReplicaHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chatcore",
				Subsystem: "replica",
				Name:      "healthy",
				Help:      "1 if the replica is considered healthy for read routing, 0 otherwise.",
			},
			[]string{"replica"},
		),

		ConsumerLagMessages: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chatcore",
				Subsystem: "consumer",
				Name:      "pending_messages",
				Help:      "Number of pending, unacknowledged messages, by partition.",
			},
			[]string{"partition"},
		),
		DeadLettered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatcore",
				Subsystem: "consumer",
				Name:      "dead_lettered_total",
				Help:      "Total number of messages moved to the dead-letter stream, by partition.",
			},
			[]string{"partition"},
		),
	}

	reg.MustRegister(
		r.PresenceWrites,
		r.HeartbeatExtensions,
		r.DedupeHits,
		r.PoolSaturation,
		r.ReplicaLagSeconds,
		r.ReplicaLagBytes,
		r.ReplicaHealthy,
		r.ConsumerLagMessages,
		r.DeadLettered,
	)

	return r
}

// Handler returns the HTTP handler that serves this registry in Prometheus
// text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
