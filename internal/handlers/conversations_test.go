package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/apperrors"
	"chatcore/internal/middleware"
	"chatcore/internal/models"
	"chatcore/internal/producer"
)

type fakeConversationService struct {
	conv          *models.Conversation
	summaries     []models.ConversationSummary
	messages      []models.Message
	unreadCount   int
	ack           *producer.Ack
	sendErr       *apperrors.AppError
	forbidden     bool
	markReadCalls [][]string
}

func (f *fakeConversationService) CreateDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	return f.conv, nil
}

func (f *fakeConversationService) CreateGroupConversation(ctx context.Context, ownerID, title string, memberIDs []string) (*models.Conversation, error) {
	return f.conv, nil
}

func (f *fakeConversationService) ListConversations(ctx context.Context, userID string, cursor *time.Time, limit int) ([]models.ConversationSummary, error) {
	return f.summaries, nil
}

func (f *fakeConversationService) ConversationDetails(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	if f.forbidden {
		return nil, apperrors.New(apperrors.CodeForbidden, "not a member of this conversation")
	}
	return f.conv, nil
}

func (f *fakeConversationService) SendMessage(ctx context.Context, req producer.Request) (*producer.Ack, *apperrors.AppError) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.ack, nil
}

func (f *fakeConversationService) GetMessages(ctx context.Context, conversationID, userID string, before *string, limit int) ([]models.Message, error) {
	return f.messages, nil
}

func (f *fakeConversationService) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	f.markReadCalls = append(f.markReadCalls, messageIDs)
	return nil
}

func (f *fakeConversationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return f.unreadCount, nil
}

func (f *fakeConversationService) SearchMessages(ctx context.Context, conversationID, userID, query string, limit int) ([]models.Message, error) {
	return f.messages, nil
}

func (f *fakeConversationService) SearchConversations(ctx context.Context, userID, query string, limit int) ([]models.Conversation, error) {
	return nil, nil
}

func (f *fakeConversationService) AddParticipant(ctx context.Context, conversationID, actorID, targetID string, role models.MemberRole) error {
	return nil
}

func (f *fakeConversationService) RemoveParticipant(ctx context.Context, conversationID, actorID, targetID string) error {
	return nil
}

func (f *fakeConversationService) UpdateRole(ctx context.Context, conversationID, actorID, targetID string, newRole models.MemberRole) error {
	return nil
}

func (f *fakeConversationService) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	return nil
}

func (f *fakeConversationService) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	return nil
}

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateConversationRejectsUnknownKind(t *testing.T) {
	h := NewConversations(&fakeConversationService{})
	body := strings.NewReader(`{"kind":"carrier-pigeon"}`)
	r := withUser(httptest.NewRequest(http.MethodPost, "/api/conversations", body), "u1")
	w := httptest.NewRecorder()

	h.Create(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetConversationReturnsForbiddenForNonMember(t *testing.T) {
	svc := &fakeConversationService{}
	h := NewConversations(svc)
	r := withUser(httptest.NewRequest(http.MethodGet, "/api/conversations/c1", nil), "u1")
	r = withChiParam(r, "conversationID", "c1")
	w := httptest.NewRecorder()

	svc.forbidden = true
	h.Get(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSendMessagePropagatesProducerAck(t *testing.T) {
	svc := &fakeConversationService{ack: &producer.Ack{MessageID: "m1", CorrelationID: "corr1"}}
	h := NewConversations(svc)
	body := strings.NewReader(`{"content":"hi","messageType":"TEXT"}`)
	r := withUser(httptest.NewRequest(http.MethodPost, "/api/conversations/c1/messages", body), "u1")
	r = withChiParam(r, "conversationID", "c1")
	w := httptest.NewRecorder()

	h.SendMessage(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	var ack producer.Ack
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
	assert.Equal(t, "m1", ack.MessageID)
}

func TestMarkReadRejectsEmptyMessageIDs(t *testing.T) {
	svc := &fakeConversationService{}
	h := NewConversations(svc)
	body := strings.NewReader(`{"messageIds":[]}`)
	r := withUser(httptest.NewRequest(http.MethodPut, "/api/conversations/c1/read", body), "u1")
	r = withChiParam(r, "conversationID", "c1")
	w := httptest.NewRecorder()

	h.MarkRead(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.markReadCalls)
}

func TestMarkReadRecordsGivenMessageIDs(t *testing.T) {
	svc := &fakeConversationService{}
	h := NewConversations(svc)
	body := strings.NewReader(`{"messageIds":["m1","m2"]}`)
	r := withUser(httptest.NewRequest(http.MethodPut, "/api/conversations/c1/read", body), "u1")
	r = withChiParam(r, "conversationID", "c1")
	w := httptest.NewRecorder()

	h.MarkRead(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, svc.markReadCalls, 1)
	assert.Equal(t, []string{"m1", "m2"}, svc.markReadCalls[0])
}

func TestUnreadCountReturnsServiceValue(t *testing.T) {
	svc := &fakeConversationService{unreadCount: 7}
	h := NewConversations(svc)
	r := withUser(httptest.NewRequest(http.MethodGet, "/api/unread-count", nil), "u1")
	w := httptest.NewRecorder()

	h.UnreadCount(w, r)

	var payload map[string]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&payload))
	assert.Equal(t, 7, payload["unreadCount"])
}

func TestParseLimitRejectsOverMax(t *testing.T) {
	n, err := parseLimit("101", 50, 100)
	assert.Equal(t, 0, n)
	require.NotNil(t, err)
	assert.Equal(t, apperrors.CodeBadRequest, err.Code)
}

func TestParseLimitDefaultsOnEmptyOrInvalid(t *testing.T) {
	n, err := parseLimit("", 50, 100)
	require.Nil(t, err)
	assert.Equal(t, 50, n)

	n, err = parseLimit("not-a-number", 50, 100)
	require.Nil(t, err)
	assert.Equal(t, 50, n)
}

func TestParseLimitAllowsWithinBounds(t *testing.T) {
	n, err := parseLimit("10", 50, 100)
	require.Nil(t, err)
	assert.Equal(t, 10, n)
}

func TestGetMessagesRejectsLimitOverMax(t *testing.T) {
	svc := &fakeConversationService{}
	h := NewConversations(svc)
	r := withUser(httptest.NewRequest(http.MethodGet, "/api/conversations/c1/messages?limit=201", nil), "u1")
	r = withChiParam(r, "conversationID", "c1")
	w := httptest.NewRecorder()

	h.GetMessages(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

