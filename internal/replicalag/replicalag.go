// Package replicalag polls a read replica's replication status on an
// interval and reports lag and health to the metrics registry, following
// the ticker/context-cancellation shape used for the other background
// routines in this system.
package replicalag

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"chatcore/internal/metrics"
)

// HealthSink receives this replica's health verdict so a consumer such as
// the replica's circuit breaker can stop routing reads to it without
// waiting for query calls to start failing on their own.
type HealthSink interface {
	SetLagHealthy(healthy bool)
}

// Monitor polls one connection's last-replayed-transaction age
// (pg_last_xact_replay_timestamp) and received-vs-replayed WAL distance, and feeds
// the result into the replica-lag gauges. Three consecutive poll failures,
// or lag at or above criticalLag, mark the replica unhealthy and propagate
// that to sink.
type Monitor struct {
	name         string
	conn         *sql.DB
	pollInterval time.Duration
	criticalLag  time.Duration
	metrics      *metrics.Registry
	sink         HealthSink

	consecutiveFailures int
}

// New constructs a Monitor for one named replica connection. sink may be
// nil, in which case the monitor still reports the Prometheus gauges but
// nothing consults its verdict for routing.
func New(name string, conn *sql.DB, pollInterval, criticalLag time.Duration, reg *metrics.Registry, sink HealthSink) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if criticalLag <= 0 {
		criticalLag = 10 * time.Second
	}
	return &Monitor{name: name, conn: conn, pollInterval: pollInterval, criticalLag: criticalLag, metrics: reg, sink: sink}
}

// Run polls until ctx is cancelled. Intended to be started as a background
// goroutine from bootstrap.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("starting replica lag monitor", "replica", m.name, "interval", m.pollInterval)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.poll(ctx)
		case <-ctx.Done():
			slog.Info("replica lag monitor stopped", "replica", m.name)
			return
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	var lagSeconds sql.NullFloat64
	var lagBytes sql.NullInt64

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	row := m.conn.QueryRowContext(queryCtx, `
		SELECT
			EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp())) AS lag_seconds,
			pg_wal_lsn_diff(pg_last_wal_receive_lsn(), pg_last_wal_replay_lsn()) AS lag_bytes`)

	if err := row.Scan(&lagSeconds, &lagBytes); err != nil {
		m.consecutiveFailures++
		slog.Warn("replica lag poll failed", "replica", m.name, "error", err, "consecutive_failures", m.consecutiveFailures)
		if m.consecutiveFailures >= 3 {
			m.setHealthy(false)
		}
		return
	}

	m.consecutiveFailures = 0

	critical := lagSeconds.Valid && lagSeconds.Float64 >= m.criticalLag.Seconds()
	if critical {
		slog.Warn("replica lag exceeds critical threshold", "replica", m.name, "lag_seconds", lagSeconds.Float64, "critical_threshold_seconds", m.criticalLag.Seconds())
	}
	m.setHealthy(!critical)

	if m.metrics == nil {
		return
	}
	if lagSeconds.Valid {
		m.metrics.ReplicaLagSeconds.WithLabelValues(m.name).Set(lagSeconds.Float64)
	}
	if lagBytes.Valid {
		m.metrics.ReplicaLagBytes.WithLabelValues(m.name).Set(float64(lagBytes.Int64))
	}
}

func (m *Monitor) setHealthy(healthy bool) {
	if m.sink != nil {
		m.sink.SetLagHealthy(healthy)
	}
	if m.metrics == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.metrics.ReplicaHealthy.WithLabelValues(m.name).Set(v)
}
