package producer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

type fakeStore struct {
	conv      *models.Conversation
	isMember  bool
	members   []string
	getErr    error
}

func (f *fakeStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.conv, nil
}

func (f *fakeStore) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	return f.isMember, nil
}

func (f *fakeStore) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	return f.members, nil
}

type fakeLog struct {
	appended []models.Envelope
	err      error
}

func (f *fakeLog) Append(ctx context.Context, env models.Envelope) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.appended = append(f.appended, env)
	return "stream-id-1", nil
}

func baseRequest() Request {
	return Request{
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Content:        "hello",
		ContentType:    models.MessageText,
	}
}

func TestSendSucceedsForActiveMember(t *testing.T) {
	store := &fakeStore{conv: &models.Conversation{ID: "conv-1", IsActive: true}, isMember: true, members: []string{"user-1", "user-2"}}
	log := &fakeLog{}
	p := New(store, nil, log)

	ack, appErr := p.Send(context.Background(), baseRequest())
	require.Nil(t, appErr)
	require.NotNil(t, ack)
	assert.Len(t, log.appended, 1)
	assert.Equal(t, []string{"user-1", "user-2"}, log.appended[0].Metadata.RecipientIDs)
}

func TestSendRejectsNonMember(t *testing.T) {
	store := &fakeStore{conv: &models.Conversation{ID: "conv-1", IsActive: true}, isMember: false}
	p := New(store, nil, &fakeLog{})

	_, appErr := p.Send(context.Background(), baseRequest())
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeNotMember, appErr.Code)
}

func TestSendRejectsInactiveConversation(t *testing.T) {
	store := &fakeStore{conv: &models.Conversation{ID: "conv-1", IsActive: false}, isMember: true}
	p := New(store, nil, &fakeLog{})

	_, appErr := p.Send(context.Background(), baseRequest())
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeConversationInactive, appErr.Code)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	store := &fakeStore{conv: &models.Conversation{ID: "conv-1", IsActive: true}, isMember: true}
	p := New(store, nil, &fakeLog{})

	req := baseRequest()
	req.Content = ""
	_, appErr := p.Send(context.Background(), req)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeInvalidSchema, appErr.Code)
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	store := &fakeStore{conv: &models.Conversation{ID: "conv-1", IsActive: true}, isMember: true}
	p := New(store, nil, &fakeLog{})

	req := baseRequest()
	req.Content = string(make([]byte, maxPayloadBytes+1))
	_, appErr := p.Send(context.Background(), req)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodePayloadTooLarge, appErr.Code)
}
