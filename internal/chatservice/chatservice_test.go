package chatservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
	"chatcore/internal/producer"
)

type fakeStore struct {
	isMember     bool
	role         models.MemberRole
	receipts     []models.Receipt
	addedMembers []string
	removed      []string
}

func (f *fakeStore) CreateDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	return &models.Conversation{ID: "conv-1"}, nil
}
func (f *fakeStore) CreateGroupConversation(ctx context.Context, ownerID, title string, memberIDs []string) (*models.Conversation, error) {
	return &models.Conversation{ID: "conv-1"}, nil
}
func (f *fakeStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return &models.Conversation{ID: conversationID}, nil
}
func (f *fakeStore) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	return f.isMember, nil
}
func (f *fakeStore) MemberRoleOf(ctx context.Context, conversationID, userID string) (models.MemberRole, error) {
	return f.role, nil
}
func (f *fakeStore) ListConversations(ctx context.Context, userID string, cursor *time.Time, limit int) ([]models.ConversationSummary, error) {
	return nil, nil
}
func (f *fakeStore) UnreadCount(ctx context.Context, userID string) (int, error) { return 3, nil }
func (f *fakeStore) AddMember(ctx context.Context, conversationID, userID string, role models.MemberRole) error {
	f.addedMembers = append(f.addedMembers, userID)
	return nil
}
func (f *fakeStore) RemoveMember(ctx context.Context, conversationID, userID string) error {
	f.removed = append(f.removed, userID)
	return nil
}
func (f *fakeStore) UpdateMemberRole(ctx context.Context, conversationID, targetUserID string, actorRole, newRole models.MemberRole) error {
	return nil
}
func (f *fakeStore) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	return nil
}
func (f *fakeStore) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	return nil
}
func (f *fakeStore) SearchConversations(ctx context.Context, userID, query string, limit int) ([]models.Conversation, error) {
	return nil, nil
}
func (f *fakeStore) GetMessages(ctx context.Context, conversationID string, before *string, limit int) ([]models.Message, error) {
	return nil, nil
}
func (f *fakeStore) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]models.Message, error) {
	return nil, nil
}
func (f *fakeStore) RecordReceipt(ctx context.Context, r models.Receipt) error {
	f.receipts = append(f.receipts, r)
	return nil
}

type fakeProducer struct{}

func (f *fakeProducer) Send(ctx context.Context, req producer.Request) (*producer.Ack, *apperrors.AppError) {
	return &producer.Ack{MessageID: "m1"}, nil
}

func TestConversationDetailsRejectsNonMember(t *testing.T) {
	svc := New(&fakeStore{isMember: false}, &fakeProducer{})
	_, err := svc.ConversationDetails(context.Background(), "conv-1", "u1")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeForbidden, appErr.Code)
}

func TestMarkReadRecordsOneReceiptPerMessage(t *testing.T) {
	store := &fakeStore{isMember: true}
	svc := New(store, &fakeProducer{})
	err := svc.MarkRead(context.Background(), "conv-1", "u1", []string{"m1", "m2", "m3"})
	require.NoError(t, err)
	assert.Len(t, store.receipts, 3)
}

func TestAddParticipantRejectsNonAdminActor(t *testing.T) {
	store := &fakeStore{role: models.RoleMember}
	svc := New(store, &fakeProducer{})
	err := svc.AddParticipant(context.Background(), "conv-1", "u1", "u2", models.RoleMember)
	require.Error(t, err)
	assert.Empty(t, store.addedMembers)
}

func TestAddParticipantAllowsAdminActor(t *testing.T) {
	store := &fakeStore{role: models.RoleAdmin}
	svc := New(store, &fakeProducer{})
	err := svc.AddParticipant(context.Background(), "conv-1", "u1", "u2", models.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, store.addedMembers)
}

func TestRemoveParticipantAllowsSelfRemovalWithoutAdminCheck(t *testing.T) {
	store := &fakeStore{role: models.RoleMember}
	svc := New(store, &fakeProducer{})
	err := svc.RemoveParticipant(context.Background(), "conv-1", "u1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, store.removed)
}

func TestUnreadCountDelegatesToStore(t *testing.T) {
	svc := New(&fakeStore{}, &fakeProducer{})
	count, err := svc.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
