// Package streamlog is the durable, partitioned log sitting between the
// producer and the consumer workers. It is backed by Redis Streams: one
// stream per partition, a shared consumer group per partition, and a
// parallel dead-letter stream for envelopes that exhaust their retries.
package streamlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chatcore/internal/apperrors"
	"chatcore/internal/idgen"
	"chatcore/internal/models"
)

const consumerGroup = "chatcore-consumers"

// Log is the durable partitioned append log.
type Log struct {
	client         *redis.Client
	partitionCount int
}

// New constructs a Log over partitionCount Redis Streams, one per
// partition, and ensures the shared consumer group exists on each.
func New(ctx context.Context, client *redis.Client, partitionCount int) (*Log, error) {
	if partitionCount <= 0 {
		partitionCount = 16
	}
	l := &Log{client: client, partitionCount: partitionCount}
	for p := 0; p < partitionCount; p++ {
		stream := l.streamKey(p)
		if err := client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err(); err != nil && !isBusyGroupErr(err) {
			return nil, fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
		}
	}
	return l, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func (l *Log) streamKey(partition int) string {
	return fmt.Sprintf("chatcore:log:%d", partition)
}

func (l *Log) deadLetterKey(partition int) string {
	return fmt.Sprintf("chatcore:dlq:%d", partition)
}

// PartitionCount reports how many partitions this log was constructed with.
func (l *Log) PartitionCount() int { return l.partitionCount }

// PartitionFor computes the partition a conversation's traffic is assigned
// to, exposed so producer and consumer agree on placement.
func (l *Log) PartitionFor(conversationID string) int {
	return idgen.PartitionFor(conversationID, l.partitionCount)
}

// Append writes one envelope to its partition's stream and returns the
// stream-assigned entry id.
func (l *Log) Append(ctx context.Context, env models.Envelope) (string, error) {
	partition := l.PartitionFor(env.ConversationID)
	payload, err := json.Marshal(env)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeEnqueueFailed)
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.streamKey(partition),
		Values: map[string]interface{}{"envelope": payload},
	}).Result()
	if err != nil {
		return "", apperrors.New(apperrors.CodeEnqueueFailed, err.Error())
	}
	return id, nil
}

// Entry is one durable-log record delivered to a consumer.
type Entry struct {
	ID       string
	Envelope models.Envelope
}

// ReadBatch blocks (up to block) for up to count new entries on a
// partition's stream for the given consumer name, claiming them under the
// shared consumer group.
func (l *Log) ReadBatch(ctx context.Context, partition int, consumerName string, count int64, block time.Duration) ([]Entry, error) {
	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumerName,
		Streams:  []string{l.streamKey(partition), ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["envelope"].(string)
			if !ok {
				continue
			}
			var env models.Envelope
			if jerr := json.Unmarshal([]byte(raw), &env); jerr != nil {
				continue
			}
			entries = append(entries, Entry{ID: msg.ID, Envelope: env})
		}
	}
	return entries, nil
}

// Ack acknowledges a batch of entry ids on a partition, removing them from
// the pending-entries list.
func (l *Log) Ack(ctx context.Context, partition int, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return l.client.XAck(ctx, l.streamKey(partition), consumerGroup, ids...).Err()
}

// Pending reports the number of unacknowledged entries on a partition,
// used to feed the consumer-lag gauge.
func (l *Log) Pending(ctx context.Context, partition int) (int64, error) {
	res, err := l.client.XPending(ctx, l.streamKey(partition), consumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// DeadLetter appends an envelope that exhausted its retries to the
// partition's dead-letter stream, alongside the reason it failed.
func (l *Log) DeadLetter(ctx context.Context, partition int, env models.Envelope, reason string) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.deadLetterKey(partition),
		Values: map[string]interface{}{"envelope": payload, "reason": reason},
	}).Err()
}
