// Package idempotency implements the ingress dedupe flow shared by the
// producer and consumer: a short-TTL cache absorbs rapid duplicate
// submissions, backed by a persistence-layer check for anything that
// outlives the cache window.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"chatcore/internal/models"
)

// PersistenceStore is the subset of the data access layer idempotency
// needs: a lookup by key and an insert that is a no-op on conflict.
type PersistenceStore interface {
	MessageByIdempotencyKey(ctx context.Context, key string) (*models.Message, error)
	InsertMessage(ctx context.Context, msg *models.Message) (inserted bool, err error)
}

// Service coordinates the short-TTL cache and the persistence store.
type Service struct {
	redis *redis.Client
	store PersistenceStore
	ttl   time.Duration
}

// New constructs a Service. ttl bounds how long a key is remembered purely
// in Redis before falling back to the slower persistence-store check.
func New(client *redis.Client, store PersistenceStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{redis: client, store: store, ttl: ttl}
}

func cacheKey(idempotencyKey string) string {
	return "chatcore:idem:" + idempotencyKey
}

// CachedAck is the ack value held under an idempotency key for the
// duration of the short-TTL cache window, so a retry within that window
// can be answered without waiting on the asynchronous persistence path.
type CachedAck struct {
	MessageID     string `json:"messageId"`
	CorrelationID string `json:"correlationId"`
}

// CheckAndReserve attempts to claim idempotencyKey for ack. If the key is
// unclaimed, it caches ack under the key and returns (nil, nil): the
// caller is the owner of this attempt and should proceed with ack's
// messageId. If the key is already claimed, it returns the ack cached by
// the original attempt so the caller can return the same messageId
// instead of minting a new one.
func (s *Service) CheckAndReserve(ctx context.Context, idempotencyKey string, ack CachedAck) (existing *CachedAck, err error) {
	payload, merr := json.Marshal(ack)
	if merr != nil {
		return nil, nil
	}

	ok, err := s.redis.SetNX(ctx, cacheKey(idempotencyKey), payload, s.ttl).Result()
	if err != nil {
		// Redis is optional insurance on top of the persistence store's
		// unique constraint; a cache error should not block ingestion.
		return nil, nil
	}
	if ok {
		return nil, nil
	}

	raw, gerr := s.redis.Get(ctx, cacheKey(idempotencyKey)).Result()
	if gerr != nil {
		// Includes redis.Nil: the key expired between the failed SetNX and
		// this Get. Either way, treat it as a fresh attempt rather than
		// blocking the sender.
		return nil, nil
	}

	var cached CachedAck
	if uerr := json.Unmarshal([]byte(raw), &cached); uerr != nil {
		return nil, nil
	}
	return &cached, nil
}

// PersistIfNew inserts msg if no row with its idempotency key exists yet,
// returning whether this call was the one that created it.
func (s *Service) PersistIfNew(ctx context.Context, msg *models.Message) (created bool, err error) {
	return s.store.InsertMessage(ctx, msg)
}

// ResolveExisting returns the already-persisted message for an
// idempotency key, or (nil, nil) when none exists. The producer consults it
// before CheckAndReserve so a retry whose cache entry has expired still gets
// the original ack.
func (s *Service) ResolveExisting(ctx context.Context, idempotencyKey string) (*models.Message, error) {
	return s.store.MessageByIdempotencyKey(ctx, idempotencyKey)
}
