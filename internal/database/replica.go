package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker/v2"

	"chatcore/internal/metrics"
)

// errReplicaLagUnhealthy is returned by Execute when the lag monitor has
// marked the replica unhealthy, short-circuiting before the breaker sees
// the call at all.
var errReplicaLagUnhealthy = errors.New("replica lag exceeds critical threshold")

// replicaRouter holds one read replica behind a circuit breaker. Reads are
// routed to the replica while its breaker is CLOSED or HALF_OPEN and the
// replication lag monitor reports it healthy; the primary is used whenever
// the breaker is OPEN, the lag monitor reports it unhealthy, or the
// replica call fails.
type replicaRouter struct {
	name       string
	conn       *sqlx.DB
	breaker    *gobreaker.CircuitBreaker[struct{}]
	metrics    *metrics.Registry
	lagHealthy atomic.Bool
}

// ReplicaConfig configures the breaker governing one replica.
type ReplicaConfig struct {
	Name             string
	FailureThreshold uint32
	OpenDuration     time.Duration
}

// NewReplicaRouter connects to a replica and wraps it with a breaker. The
// breaker trips OPEN after FailureThreshold consecutive failures, then
// allows one probe request after OpenDuration (HALF_OPEN); a single
// successful probe closes it again.
func NewReplicaRouter(replicaURL string, cfg ReplicaConfig, reg *metrics.Registry) (*replicaRouter, error) {
	conn, err := sqlx.Connect("postgres", replicaURL)
	if err != nil {
		return nil, err
	}

	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 15 * time.Second
	}

	name := cfg.Name
	if name == "" {
		name = "replica"
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || err == sql.ErrNoRows
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("replica circuit breaker state change", "replica", name, "from", from.String(), "to", to.String())
		},
	}

	r := &replicaRouter{
		name:    name,
		conn:    conn,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		metrics: reg,
	}
	r.lagHealthy.Store(true)
	r.reportHealth()
	return r, nil
}

// Execute runs fetch against the replica connection through the breaker.
// sql.ErrNoRows does not count as a breaker failure; any other error does.
// A replica the lag monitor has marked unhealthy is rejected before the
// breaker is consulted at all, so a lagging replica cannot keep reporting
// query successes that mask its staleness.
func (r *replicaRouter) Execute(fetch func(q sqlx.QueryerContext) error) error {
	if !r.lagHealthy.Load() {
		return errReplicaLagUnhealthy
	}
	_, err := r.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fetch(r.conn)
	})
	r.reportHealth()
	return err
}

// SetLagHealthy is called by the replication lag monitor to report whether
// this replica's lag is within bounds. It implements replicalag.HealthSink.
func (r *replicaRouter) SetLagHealthy(healthy bool) {
	r.lagHealthy.Store(healthy)
	r.reportHealth()
}

func (r *replicaRouter) reportHealth() {
	if r.metrics == nil {
		return
	}
	healthy := r.breaker.State() != gobreaker.StateOpen && r.lagHealthy.Load()
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.metrics.ReplicaHealthy.WithLabelValues(r.name).Set(v)
}

// Ping checks primary reachability; used by the health handler.
func Ping(ctx context.Context, db *sqlx.DB) error {
	return db.PingContext(ctx)
}
