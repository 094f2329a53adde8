// Package presence tracks which sockets, on which instances, are alive for
// each user, backed by a Redis hash keyspace with a TTL that the gateway
// refreshes on every heartbeat.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatcore/internal/metrics"
	"chatcore/internal/models"
)

// Registry is the Redis-backed presence keyspace.
type Registry struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Registry
}

// New constructs a Registry. ttl must exceed the gateway's heartbeat
// interval so a connected session's entry never expires between
// heartbeats; configuration validation enforces that invariant.
func New(client *redis.Client, ttl time.Duration, reg *metrics.Registry) *Registry {
	return &Registry{client: client, ttl: ttl, metrics: reg}
}

func key(userID string) string {
	return fmt.Sprintf("chatcore:presence:%s", userID)
}

// RegisterConnection adds a socket binding for a user, creating the user's
// presence hash if absent and (re)setting its TTL.
func (r *Registry) RegisterConnection(ctx context.Context, userID string, binding models.SessionBinding) error {
	payload, err := json.Marshal(binding)
	if err != nil {
		r.recordWrite("register", "error")
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key(userID), binding.SocketID, payload)
	pipe.Expire(ctx, key(userID), r.ttl)
	_, err = pipe.Exec(ctx)
	r.recordWrite("register", outcome(err))
	return err
}

// ExtendHeartbeat refreshes a socket's LastHeartbeatAt and the user's
// presence-key TTL. Returns false if the socket binding no longer exists
// (e.g. it was already evicted), signalling the caller to treat the
// session as disconnected.
func (r *Registry) ExtendHeartbeat(ctx context.Context, userID, socketID string) (bool, error) {
	raw, err := r.client.HGet(ctx, key(userID), socketID).Result()
	if err == redis.Nil {
		r.recordHeartbeat("missing")
		return false, nil
	}
	if err != nil {
		r.recordHeartbeat("error")
		return false, err
	}

	var binding models.SessionBinding
	if err := json.Unmarshal([]byte(raw), &binding); err != nil {
		r.recordHeartbeat("error")
		return false, err
	}
	binding.LastHeartbeatAt = time.Now().UTC()

	payload, err := json.Marshal(binding)
	if err != nil {
		r.recordHeartbeat("error")
		return false, err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key(userID), socketID, payload)
	pipe.Expire(ctx, key(userID), r.ttl)
	_, err = pipe.Exec(ctx)
	r.recordHeartbeat(outcome(err))
	return err == nil, err
}

// Unregister removes a single socket binding for a user.
func (r *Registry) Unregister(ctx context.Context, userID, socketID string) error {
	err := r.client.HDel(ctx, key(userID), socketID).Err()
	r.recordWrite("unregister", outcome(err))
	return err
}

// WhoIs returns every live socket binding for a user.
func (r *Registry) WhoIs(ctx context.Context, userID string) ([]models.SessionBinding, error) {
	raw, err := r.client.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.SessionBinding, 0, len(raw))
	for _, v := range raw {
		var binding models.SessionBinding
		if err := json.Unmarshal([]byte(v), &binding); err != nil {
			continue
		}
		out = append(out, binding)
	}
	return out, nil
}

// IsOnline reports whether a user currently has any live socket binding.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.HLen(ctx, key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Registry) recordWrite(op, result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.PresenceWrites.WithLabelValues(op, result).Inc()
}

func (r *Registry) recordHeartbeat(result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.HeartbeatExtensions.WithLabelValues(result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
