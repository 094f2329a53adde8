// Package consumer runs the per-partition read loop that drains the
// durable log, persists each envelope idempotently, and hands delivery off
// to the fanout stage via a bounded worker pool.
package consumer

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/alitto/pond"

	"chatcore/internal/apperrors"
	"chatcore/internal/idempotency"
	"chatcore/internal/idgen"
	"chatcore/internal/metrics"
	"chatcore/internal/models"
	"chatcore/internal/streamlog"
)

const (
	defaultBatchSize = 10
	defaultBlock     = 2 * time.Second
	maxRetries       = 3
)

// Fanout is the subset of the fanout stage the consumer hands delivered
// envelopes to.
type Fanout interface {
	Dispatch(ctx context.Context, env models.Envelope)
}

// Log is the subset of the durable log a partition worker reads from.
type Log interface {
	ReadBatch(ctx context.Context, partition int, consumerName string, count int64, block time.Duration) ([]streamlog.Entry, error)
	Ack(ctx context.Context, partition int, ids ...string) error
	DeadLetter(ctx context.Context, partition int, env models.Envelope, reason string) error
	Pending(ctx context.Context, partition int) (int64, error)
}

// Worker drains a single partition.
type Worker struct {
	partition   int
	log         Log
	idempotency *idempotency.Service
	fanout      Fanout
	pool        *pond.WorkerPool
	metrics     *metrics.Registry

	retries map[string]int
}

// NewWorker constructs a partition worker with its own fanout-dispatch
// pool, sized small since dispatch itself is a cheap handoff.
func NewWorker(partition int, log Log, idem *idempotency.Service, fanout Fanout, reg *metrics.Registry) *Worker {
	return &Worker{
		partition:   partition,
		log:         log,
		idempotency: idem,
		fanout:      fanout,
		pool:        pond.New(4, 64, pond.MinWorkers(1), pond.IdleTimeout(30*time.Second)),
		metrics:     reg,
		retries:     make(map[string]int),
	}
}

// Run drains the partition until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	consumerName := idgen.ConsumerName(w.partition)
	slog.Info("starting consumer worker", "partition", w.partition, "consumer", consumerName)

	for {
		select {
		case <-ctx.Done():
			w.pool.StopAndWait()
			slog.Info("consumer worker stopped", "partition", w.partition)
			return
		default:
		}

		entries, err := w.log.ReadBatch(ctx, w.partition, consumerName, defaultBatchSize, defaultBlock)
		if err != nil {
			slog.Warn("partition read failed", "partition", w.partition, "error", err)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		var toAck []string
		for _, entry := range entries {
			if w.process(ctx, entry) {
				toAck = append(toAck, entry.ID)
			}
		}
		if len(toAck) > 0 {
			if err := w.log.Ack(ctx, w.partition, toAck...); err != nil {
				slog.Warn("partition ack failed", "partition", w.partition, "error", err)
			}
		}

		if w.metrics != nil {
			if pending, perr := w.log.Pending(ctx, w.partition); perr == nil {
				w.metrics.ConsumerLagMessages.WithLabelValues(partitionLabel(w.partition)).Set(float64(pending))
			}
		}
	}
}

// process persists one entry and hands it to fanout, returning whether it
// should be acknowledged (either it succeeded, or it was dead-lettered —
// both cases are done with this entry; only a transient failure under the
// retry cap leaves it unacknowledged for redelivery).
func (w *Worker) process(ctx context.Context, entry streamlog.Entry) bool {
	env := entry.Envelope

	created, err := w.idempotency.PersistIfNew(ctx, envelopeToMessage(env))
	if err != nil {
		appErr, _ := apperrors.As(err)
		if appErr != nil && appErr.Code == apperrors.CodePersistencePermanent {
			w.deadLetter(ctx, env, err.Error())
			return true
		}
		return w.retryOrDeadLetter(ctx, entry.ID, env, err)
	}

	if created {
		w.pool.Submit(func() {
			w.fanout.Dispatch(ctx, env)
		})
	}
	delete(w.retries, entry.ID)
	return true
}

func (w *Worker) retryOrDeadLetter(ctx context.Context, entryID string, env models.Envelope, cause error) bool {
	w.retries[entryID]++
	if w.retries[entryID] >= maxRetries {
		w.deadLetter(ctx, env, cause.Error())
		delete(w.retries, entryID)
		return true
	}
	slog.Warn("transient persistence failure, will retry", "partition", w.partition, "message_id", env.MessageID, "attempt", w.retries[entryID])
	return false
}

func (w *Worker) deadLetter(ctx context.Context, env models.Envelope, reason string) {
	if err := w.log.DeadLetter(ctx, w.partition, env, reason); err != nil {
		slog.Error("failed to dead-letter envelope", "partition", w.partition, "message_id", env.MessageID, "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.DeadLettered.WithLabelValues(partitionLabel(w.partition)).Inc()
	}
}

func envelopeToMessage(env models.Envelope) *models.Message {
	return &models.Message{
		MessageID:      env.MessageID,
		ConversationID: env.ConversationID,
		SenderID:       env.SenderID,
		Content:        env.Metadata.Content,
		ContentType:    env.Metadata.ContentType,
		MediaURL:       env.Metadata.MediaURL,
		Attachments:    env.Metadata.Attachments,
		CreatedAt:      env.CreatedAt,
		IdempotencyKey: env.IdempotencyKey,
		CorrelationID:  env.CorrelationID,
		Flags:          env.Metadata.Flags,
	}
}

func partitionLabel(partition int) string {
	return strconv.Itoa(partition)
}
