// Package fanout resolves an envelope's recipients and hands delivery off
// to whichever session host currently owns each recipient's connections.
// Deliberately decoupled from the transport layer: this package never
// touches a websocket hub directly, only a delivery queue the gateway
// package drains.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"chatcore/internal/models"
)

// ReceiptRecorder is the subset of the data access layer fanout writes
// receipts through.
type ReceiptRecorder interface {
	RecordReceipt(ctx context.Context, r models.Receipt) error
}

// ReplayRecorder buffers a conversation's recent arrivals so a
// reconnecting session can replay the gap without re-reading the durable
// log or the database.
type ReplayRecorder interface {
	Append(conversationID string, entry models.ReplayEntry)
}

// Delivery is one recipient-scoped unit of work handed to the session
// hosts, carrying just enough to route and record outcome.
type Delivery struct {
	RecipientID string
	Envelope    models.Envelope
}

// Queue is the decoupling point between fanout and transport: fanout
// writes, the gateway's per-instance dispatcher reads.
type Queue chan Delivery

// Fanout resolves recipients (every member but the sender) and pushes one
// Delivery per recipient onto the queue, recording a `sent` receipt for
// each as it goes.
type Fanout struct {
	queue    Queue
	receipts ReceiptRecorder
	replay   ReplayRecorder
}

// New constructs a Fanout over an existing queue, sized by the caller to
// bound how much undelivered backlog is tolerated before Dispatch starts
// dropping deliveries.
func New(queue Queue, receipts ReceiptRecorder) *Fanout {
	return &Fanout{queue: queue, receipts: receipts}
}

// WithReplay attaches the conversation replay buffer. Optional: a Fanout
// without one simply skips buffering (resume_messages then always misses
// and the client falls back to history pagination).
func (f *Fanout) WithReplay(r ReplayRecorder) *Fanout {
	f.replay = r
	return f
}

// Dispatch pushes one Delivery per recipient (excluding the sender) onto
// the queue. A full queue logs and drops rather than blocking the
// consumer's read loop indefinitely.
func (f *Fanout) Dispatch(ctx context.Context, env models.Envelope) {
	now := time.Now().UTC()

	if f.replay != nil {
		if raw, err := json.Marshal(env); err == nil {
			f.replay.Append(env.ConversationID, models.ReplayEntry{
				MessageID:        env.MessageID,
				Envelope:         raw,
				ArrivalTimestamp: now,
			})
		}
	}

	for _, recipientID := range env.Metadata.RecipientIDs {
		if recipientID == env.SenderID {
			continue
		}

		if f.receipts != nil {
			if err := f.receipts.RecordReceipt(ctx, models.Receipt{
				MessageID:   env.MessageID,
				RecipientID: recipientID,
				State:       models.ReceiptSent,
				Timestamp:   now,
			}); err != nil {
				slog.Warn("failed to record sent receipt", "message_id", env.MessageID, "recipient", recipientID, "error", err)
			}
		}

		select {
		case f.queue <- Delivery{RecipientID: recipientID, Envelope: env}:
		default:
			slog.Error("delivery queue full, dropping delivery", "message_id", env.MessageID, "recipient", recipientID)
		}
	}
}

// RecordDelivered records a `delivered` receipt once the gateway confirms
// a recipient's session actually received the envelope.
func (f *Fanout) RecordDelivered(ctx context.Context, messageID, recipientID string) {
	if f.receipts == nil {
		return
	}
	if err := f.receipts.RecordReceipt(ctx, models.Receipt{
		MessageID:   messageID,
		RecipientID: recipientID,
		State:       models.ReceiptDelivered,
		Timestamp:   time.Now().UTC(),
	}); err != nil {
		slog.Warn("failed to record delivered receipt", "message_id", messageID, "recipient", recipientID, "error", err)
	}
}
