// Package producer implements the fast ingress path: validate, authorize,
// assign an idempotency key, build the durable-log envelope, enqueue it,
// and acknowledge the sender.
package producer

import (
	"context"
	"time"

	"chatcore/internal/apperrors"
	"chatcore/internal/idempotency"
	"chatcore/internal/idgen"
	"chatcore/internal/models"
)

const maxPayloadBytes = 10000

// ConversationStore is the subset of the data access layer the producer
// needs for its authorization check.
type ConversationStore interface {
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error)
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
}

// Log is the subset of the durable log the producer writes to.
type Log interface {
	Append(ctx context.Context, env models.Envelope) (string, error)
}

// Request is one inbound send-message attempt.
type Request struct {
	ConversationID  string
	SenderID        string
	ClientMessageID string
	Content         string
	ContentType     models.MessageType
	MediaURL        *string
	Attachments     []string
	Client          *models.ClientMeta
	ReplyToID       *string
}

// Ack is returned to the sender on successful enqueue.
type Ack struct {
	MessageID      string `json:"messageId"`
	CorrelationID  string `json:"correlationId"`
	IdempotencyKey string `json:"idempotencyKey"`
	IdempotentHit  bool   `json:"idempotentHit"`
}

// Producer validates, authorizes, and enqueues inbound messages.
type Producer struct {
	store       ConversationStore
	idempotency *idempotency.Service
	log         Log
}

// New constructs a Producer.
func New(store ConversationStore, idem *idempotency.Service, log Log) *Producer {
	return &Producer{store: store, idempotency: idem, log: log}
}

// Send runs the full fast path for one request.
func (p *Producer) Send(ctx context.Context, req Request) (*Ack, *apperrors.AppError) {
	if err := validate(req); err != nil {
		return nil, err
	}

	conv, err := p.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok {
			return nil, appErr
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	if !conv.IsActive {
		return nil, apperrors.New(apperrors.CodeConversationInactive, "conversation is not active")
	}

	isMember, err := p.store.IsActiveMember(ctx, req.ConversationID, req.SenderID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	if !isMember {
		return nil, apperrors.New(apperrors.CodeNotMember, "sender is not a member of this conversation")
	}

	now := time.Now().UTC()
	idempotencyKey := deriveIdempotencyKey(req, now)

	// Mint the identifiers this attempt would use before consulting the
	// cache, so the winning attempt (reserver or retrier) always resolves
	// to a single, stable messageId for this idempotency key.
	messageID := idgen.NewMessageID()
	correlationID := idgen.NewCorrelationID()

	if p.idempotency != nil {
		// A retry arriving after the cache window has lapsed is answered
		// from the already-persisted row, keeping its messageId stable.
		if existing, rerr := p.idempotency.ResolveExisting(ctx, idempotencyKey); rerr == nil && existing != nil {
			return &Ack{
				MessageID:      existing.MessageID,
				CorrelationID:  existing.CorrelationID,
				IdempotencyKey: idempotencyKey,
				IdempotentHit:  true,
			}, nil
		}

		cached, cerr := p.idempotency.CheckAndReserve(ctx, idempotencyKey, idempotency.CachedAck{
			MessageID:     messageID,
			CorrelationID: correlationID,
		})
		if cerr == nil && cached != nil {
			return &Ack{
				MessageID:      cached.MessageID,
				CorrelationID:  cached.CorrelationID,
				IdempotencyKey: idempotencyKey,
				IdempotentHit:  true,
			}, nil
		}
	}

	recipients, err := p.store.MemberIDs(ctx, req.ConversationID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}

	env := models.Envelope{
		MessageID:      messageID,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		CreatedAt:      now,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
		Metadata: models.EnvelopeMeta{
			Content:      &req.Content,
			ContentType:  req.ContentType,
			MediaURL:     req.MediaURL,
			Attachments:  req.Attachments,
			Priority:     models.PriorityNormal,
			RecipientIDs: recipients,
			Client:       req.Client,
			Flags:        models.MessageFlags{ReplyToID: req.ReplyToID},
		},
	}

	if _, err := p.log.Append(ctx, env); err != nil {
		if appErr, ok := apperrors.As(err); ok {
			return nil, appErr
		}
		return nil, apperrors.New(apperrors.CodeEnqueueFailed, err.Error())
	}

	return &Ack{MessageID: messageID, CorrelationID: correlationID, IdempotencyKey: idempotencyKey}, nil
}

func deriveIdempotencyKey(req Request, now time.Time) string {
	if req.ClientMessageID != "" {
		return idgen.IdempotencyKeyFromClientID(req.ClientMessageID)
	}
	return idgen.IdempotencyKeyFromContent(req.ConversationID, req.SenderID, req.Content, now)
}

func validate(req Request) *apperrors.AppError {
	if req.ConversationID == "" || req.SenderID == "" {
		return apperrors.New(apperrors.CodeInvalidSchema, "conversationId and senderId are required")
	}
	if req.Content == "" && req.MediaURL == nil && len(req.Attachments) == 0 {
		return apperrors.New(apperrors.CodeInvalidSchema, "message must carry content, media, or an attachment")
	}
	if len(req.Content) > maxPayloadBytes {
		return apperrors.New(apperrors.CodePayloadTooLarge, "message content exceeds the maximum allowed size")
	}
	switch req.ContentType {
	case models.MessageText, models.MessageImage, models.MessageFile, models.MessageVoice:
	default:
		return apperrors.New(apperrors.CodeInvalidSchema, "unrecognized message type")
	}
	return nil
}
