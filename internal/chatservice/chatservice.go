// Package chatservice is the thin orchestration layer the REST facade
// calls into: methods that read a conversation's contents or change its
// roster check the caller's membership or role first; creation, listing,
// pin/archive toggles and conversation search delegate straight to the
// data access layer without a check. No transport concerns of its own.
package chatservice

import (
	"context"
	"time"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
	"chatcore/internal/producer"
)

// Store is the subset of the data access layer the service composes.
type Store interface {
	CreateDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	CreateGroupConversation(ctx context.Context, ownerID, title string, memberIDs []string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error)
	MemberRoleOf(ctx context.Context, conversationID, userID string) (models.MemberRole, error)
	ListConversations(ctx context.Context, userID string, cursor *time.Time, limit int) ([]models.ConversationSummary, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	AddMember(ctx context.Context, conversationID, userID string, role models.MemberRole) error
	RemoveMember(ctx context.Context, conversationID, userID string) error
	UpdateMemberRole(ctx context.Context, conversationID, targetUserID string, actorRole, newRole models.MemberRole) error
	SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error
	SearchConversations(ctx context.Context, userID, query string, limit int) ([]models.Conversation, error)

	GetMessages(ctx context.Context, conversationID string, before *string, limit int) ([]models.Message, error)
	SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]models.Message, error)
	RecordReceipt(ctx context.Context, r models.Receipt) error
}

// Producer is the subset of the ingress pipeline the REST send alternative
// delegates to.
type Producer interface {
	Send(ctx context.Context, req producer.Request) (*producer.Ack, *apperrors.AppError)
}

// Service wires the data access layer and producer behind the operations
// the REST surface exposes.
type Service struct {
	store    Store
	producer Producer
}

// New constructs a Service.
func New(store Store, prod Producer) *Service {
	return &Service{store: store, producer: prod}
}

// CreateDirectConversation opens (or returns the existing) direct
// conversation between two users.
func (s *Service) CreateDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	return s.store.CreateDirectConversation(ctx, userA, userB)
}

// CreateGroupConversation opens a new group conversation owned by ownerID.
func (s *Service) CreateGroupConversation(ctx context.Context, ownerID, title string, memberIDs []string) (*models.Conversation, error) {
	return s.store.CreateGroupConversation(ctx, ownerID, title, memberIDs)
}

// ListConversations returns a user's conversation listing, cursor-paginated
// by last-activity time.
func (s *Service) ListConversations(ctx context.Context, userID string, cursor *time.Time, limit int) ([]models.ConversationSummary, error) {
	return s.store.ListConversations(ctx, userID, cursor, limit)
}

// ConversationDetails returns one conversation, but only to an active
// member.
func (s *Service) ConversationDetails(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	isMember, err := s.store.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, apperrors.New(apperrors.CodeForbidden, "not a member of this conversation")
	}
	return s.store.GetConversation(ctx, conversationID)
}

// SendMessage is the request/reply alternative to the session protocol's
// send_message event, running the identical producer path.
func (s *Service) SendMessage(ctx context.Context, req producer.Request) (*producer.Ack, *apperrors.AppError) {
	return s.producer.Send(ctx, req)
}

// GetMessages returns a cursor-paginated page of history, restricted to
// active members.
func (s *Service) GetMessages(ctx context.Context, conversationID, userID string, before *string, limit int) ([]models.Message, error) {
	isMember, err := s.store.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, apperrors.New(apperrors.CodeForbidden, "not a member of this conversation")
	}
	return s.store.GetMessages(ctx, conversationID, before, limit)
}

// MarkRead records a read receipt transition for every message id given,
// idempotent per message.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	isMember, err := s.store.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return apperrors.New(apperrors.CodeForbidden, "not a member of this conversation")
	}
	now := time.Now().UTC()
	for _, messageID := range messageIDs {
		if err := s.store.RecordReceipt(ctx, models.Receipt{
			MessageID:   messageID,
			RecipientID: userID,
			State:       models.ReceiptRead,
			Timestamp:   now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// UnreadCount returns a user's total unread message count across every
// conversation they belong to.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// SearchMessages returns a conversation's messages matching a query, newest
// first, restricted to active members.
func (s *Service) SearchMessages(ctx context.Context, conversationID, userID, query string, limit int) ([]models.Message, error) {
	isMember, err := s.store.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, apperrors.New(apperrors.CodeForbidden, "not a member of this conversation")
	}
	return s.store.SearchMessages(ctx, conversationID, query, limit)
}

// AddParticipant adds a member; only an existing owner or admin may invite.
func (s *Service) AddParticipant(ctx context.Context, conversationID, actorID, targetID string, role models.MemberRole) error {
	actorRole, err := s.store.MemberRoleOf(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if actorRole != models.RoleOwner && actorRole != models.RoleAdmin {
		return apperrors.New(apperrors.CodeForbidden, "only an owner or admin may add participants")
	}
	return s.store.AddMember(ctx, conversationID, targetID, role)
}

// RemoveParticipant deactivates a member's row.
func (s *Service) RemoveParticipant(ctx context.Context, conversationID, actorID, targetID string) error {
	if actorID != targetID {
		actorRole, err := s.store.MemberRoleOf(ctx, conversationID, actorID)
		if err != nil {
			return err
		}
		if actorRole != models.RoleOwner && actorRole != models.RoleAdmin {
			return apperrors.New(apperrors.CodeForbidden, "only an owner or admin may remove another participant")
		}
	}
	return s.store.RemoveMember(ctx, conversationID, targetID)
}

// UpdateRole transitions a member's role, enforcing the ownership-transfer
// restriction at the data access layer.
func (s *Service) UpdateRole(ctx context.Context, conversationID, actorID, targetID string, newRole models.MemberRole) error {
	actorRole, err := s.store.MemberRoleOf(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	return s.store.UpdateMemberRole(ctx, conversationID, targetID, actorRole, newRole)
}

// SetPinned toggles a conversation's pinned flag for a user.
func (s *Service) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	return s.store.SetPinned(ctx, conversationID, userID, pinned)
}

// SetArchived toggles a conversation's archived flag for a user.
func (s *Service) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	return s.store.SetArchived(ctx, conversationID, userID, archived)
}

// SearchConversations ranks a user's conversations against a query.
func (s *Service) SearchConversations(ctx context.Context, userID, query string, limit int) ([]models.Conversation, error) {
	return s.store.SearchConversations(ctx, userID, query, limit)
}
