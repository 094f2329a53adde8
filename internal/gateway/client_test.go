package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
	"chatcore/internal/producer"
)

type fakeConversationStore struct {
	isMember bool
	receipts []models.Receipt
}

func (f *fakeConversationStore) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	return f.isMember, nil
}

func (f *fakeConversationStore) RecordReceipt(ctx context.Context, r models.Receipt) error {
	f.receipts = append(f.receipts, r)
	return nil
}

type fakeProducer struct {
	ack *producer.Ack
	err *apperrors.AppError
}

func (f *fakeProducer) Send(ctx context.Context, req producer.Request) (*producer.Ack, *apperrors.AppError) {
	return f.ack, f.err
}

func newTestClientWithDeps(store *fakeConversationStore, prod *fakeProducer) *Client {
	return &Client{
		userID:   "u1",
		socketID: "sock-1",
		rooms:    make(map[string]bool),
		dedupe:   newSessionDedupe(200),
		send:     make(chan []byte, 16),
		store:    store,
		producer: prod,
		hub:      NewHub(nil, nil),
	}
}

func decodeFrame(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestHandleJoinRejectsNonMember(t *testing.T) {
	c := newTestClientWithDeps(&fakeConversationStore{isMember: false}, nil)
	c.handleJoin(context.Background(), []byte(`{"type":"join_conversation","conversationId":"conv-1"}`))

	require.Len(t, c.send, 1)
	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "error", frame["type"])
}

func TestHandleJoinAddsToRoomOnSuccess(t *testing.T) {
	c := newTestClientWithDeps(&fakeConversationStore{isMember: true}, nil)
	c.handleJoin(context.Background(), []byte(`{"type":"join_conversation","conversationId":"conv-1"}`))

	require.Len(t, c.send, 1)
	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "conversation_joined", frame["type"])
	assert.True(t, c.rooms["conv-1"])
}

func TestHandleSendMessageRejectsIdentityMismatch(t *testing.T) {
	c := newTestClientWithDeps(&fakeConversationStore{isMember: true}, &fakeProducer{})
	c.handleSendMessage(context.Background(), []byte(`{"type":"send_message","conversationId":"conv-1","content":"hi","userId":"u2"}`))

	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, string(apperrors.CodeUnauthorized), frame["data"].(map[string]interface{})["code"])
}

func TestHandleSendMessageRejectsOversizedContent(t *testing.T) {
	c := newTestClientWithDeps(&fakeConversationStore{isMember: true}, &fakeProducer{})
	c.cfg.MaxMessageContentBytes = 5
	c.handleSendMessage(context.Background(), []byte(`{"type":"send_message","conversationId":"conv-1","content":"too long for the limit"}`))

	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "error", frame["type"])
}

func TestHandleSendMessageEmitsAckOnSuccess(t *testing.T) {
	prod := &fakeProducer{ack: &producer.Ack{MessageID: "m1", CorrelationID: "c1", IdempotencyKey: "idem-1"}}
	c := newTestClientWithDeps(&fakeConversationStore{isMember: true}, prod)
	c.handleSendMessage(context.Background(), []byte(`{"type":"send_message","conversationId":"conv-1","content":"hi"}`))

	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "message_sent", frame["type"])
	assert.True(t, c.dedupe.seen("m1"))
	assert.Equal(t, false, frame["data"].(map[string]interface{})["idempotentHit"])
}

func TestHandleSendMessageSurfacesIdempotentHit(t *testing.T) {
	prod := &fakeProducer{ack: &producer.Ack{MessageID: "m1", CorrelationID: "c1", IdempotencyKey: "idem-1", IdempotentHit: true}}
	c := newTestClientWithDeps(&fakeConversationStore{isMember: true}, prod)
	c.handleSendMessage(context.Background(), []byte(`{"type":"send_message","conversationId":"conv-1","content":"hi"}`))

	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, true, frame["data"].(map[string]interface{})["idempotentHit"])
}

func TestHandleJoinRejectsIdentityMismatch(t *testing.T) {
	c := newTestClientWithDeps(&fakeConversationStore{isMember: true}, nil)
	c.handleJoin(context.Background(), []byte(`{"type":"join_conversation","conversationId":"conv-1","userId":"u2"}`))

	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, string(apperrors.CodeUnauthorized), frame["data"].(map[string]interface{})["code"])
	assert.False(t, c.rooms["conv-1"])
}

func TestHandleLeaveRejectsIdentityMismatch(t *testing.T) {
	c := newTestClientWithDeps(&fakeConversationStore{isMember: true}, nil)
	c.rooms["conv-1"] = true
	c.handleLeave(context.Background(), []byte(`{"type":"leave_conversation","conversationId":"conv-1","userId":"u2"}`))

	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "error", frame["type"])
	assert.True(t, c.rooms["conv-1"])
}

func TestHandleMarkAsReadRecordsReceiptsPerMessage(t *testing.T) {
	store := &fakeConversationStore{isMember: true}
	c := newTestClientWithDeps(store, nil)
	c.handleMarkAsRead(context.Background(), []byte(`{"type":"mark_as_read","conversationId":"conv-1","messageIds":["m1","m2"]}`))

	require.Len(t, store.receipts, 2)
	assert.Equal(t, models.ReceiptRead, store.receipts[0].State)
}

func TestHandleMarkAsReadRejectsIdentityMismatch(t *testing.T) {
	store := &fakeConversationStore{isMember: true}
	c := newTestClientWithDeps(store, nil)
	c.handleMarkAsRead(context.Background(), []byte(`{"type":"mark_as_read","conversationId":"conv-1","messageIds":["m1"],"userId":"u2"}`))

	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "error", frame["type"])
	assert.Empty(t, store.receipts)
}

func TestHandleResumeMessagesRejectsIdentityMismatch(t *testing.T) {
	c := newTestClientWithDeps(&fakeConversationStore{isMember: true}, nil)
	c.handleResumeMessages([]byte(`{"type":"resume_messages","conversationId":"conv-1","userId":"u2"}`))

	frame := decodeFrame(t, <-c.send)
	assert.Equal(t, "resume_messages_ack", frame["type"])
	assert.Equal(t, false, frame["data"].(map[string]interface{})["ok"])
}
