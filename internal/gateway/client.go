package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
	"chatcore/internal/producer"
	"chatcore/internal/replay"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// ConversationStore is the subset of the data access layer a client needs
// to enforce membership and persist receipts.
type ConversationStore interface {
	IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error)
	RecordReceipt(ctx context.Context, r models.Receipt) error
}

// Producer is the subset of the ingress pipeline the client delegates
// send_message to.
type Producer interface {
	Send(ctx context.Context, req producer.Request) (*producer.Ack, *apperrors.AppError)
}

// HeartbeatExtender is the subset of the presence registry a client
// refreshes on every pong it receives.
type HeartbeatExtender interface {
	ExtendHeartbeat(ctx context.Context, userID, socketID string) (bool, error)
}

// Config holds the per-connection tunables sourced from application
// configuration.
type Config struct {
	HeartbeatInterval    time.Duration
	HeartbeatGrace       time.Duration
	MaxMessageContentBytes int
	PerSessionDedupeSize int
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID      string
	socketID    string
	instanceID  string
	connectedAt time.Time

	rooms  map[string]bool
	dedupe *sessionDedupe

	store       ConversationStore
	producer    Producer
	replay      *replay.Cache
	presence    HeartbeatExtender

	cfg Config

	connMutex sync.Mutex
}

// NewClient constructs a Client bound to an already-upgraded connection
// and an already-verified identity.
func NewClient(hub *Hub, conn *websocket.Conn, userID, instanceID string, store ConversationStore, prod Producer, replayCache *replay.Cache, presence HeartbeatExtender, cfg Config) *Client {
	if cfg.PerSessionDedupeSize <= 0 {
		cfg.PerSessionDedupeSize = 200
	}
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		userID:      userID,
		socketID:    uuid.NewString(),
		instanceID:  instanceID,
		connectedAt: time.Now().UTC(),
		rooms:       make(map[string]bool),
		dedupe:      newSessionDedupe(cfg.PerSessionDedupeSize),
		store:       store,
		producer:    prod,
		replay:      replayCache,
		presence:    presence,
		cfg:         cfg,
	}
}

// ExtractToken pulls a bearer token out of the handshake per the accepted
// channels: auth payload, query parameter, or Authorization header.
func ExtractToken(r *http.Request, authPayloadToken string) string {
	if authPayloadToken != "" {
		return authPayloadToken
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ExtractResumeCursor pulls the optional resume cursor out of the
// handshake, preferring the auth-payload value over the query parameter.
func ExtractResumeCursor(r *http.Request, authPayloadCursor string) *string {
	if authPayloadCursor != "" {
		return &authPayloadCursor
	}
	if cursor := r.URL.Query().Get("lastReceivedMessageId"); cursor != "" {
		return &cursor
	}
	return nil
}

// Run registers the client, starts its pumps, and blocks until the
// connection closes. Call as a goroutine per connection.
func (c *Client) Run(ctx context.Context) {
	c.hub.register(ctx, c)
	defer c.hub.unregister(ctx, c)

	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.conn.Close()
		close(c.send)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	grace := c.cfg.HeartbeatInterval + c.cfg.HeartbeatGrace
	if grace <= 0 {
		grace = 35 * time.Second
	}
	c.conn.SetReadDeadline(time.Now().Add(grace))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(grace))
		if c.presence != nil {
			hbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			c.presence.ExtendHeartbeat(hbCtx, c.userID, c.socketID)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Info("session read error", "user_id", c.userID, "error", err)
			}
			return
		}
		c.handleIncoming(ctx, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(func() time.Duration {
		if c.cfg.HeartbeatInterval > 0 {
			return c.cfg.HeartbeatInterval
		}
		return 25 * time.Second
	}())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				slog.Warn("session write failed", "user_id", c.userID, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// emit marshals and non-blockingly enqueues an event for delivery. A full
// send buffer means a catastrophically slow client; it is dropped rather
// than blocking the hub.
func (c *Client) emit(eventType string, payload interface{}) {
	frame := map[string]interface{}{"type": eventType, "data": payload}
	raw, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to marshal outbound event", "type", eventType, "error", err)
		return
	}
	select {
	case c.send <- raw:
	default:
		slog.Warn("session send buffer full, dropping event", "user_id", c.userID, "type", eventType)
	}
}

func (c *Client) emitError(message, code, event string) {
	c.emit(outError, errorPayload(message, code, event))
}

func (c *Client) handleIncoming(ctx context.Context, message []byte) {
	var base inboundEnvelope
	if err := json.Unmarshal(message, &base); err != nil {
		c.emitError("invalid JSON frame", "", "")
		return
	}

	switch base.Type {
	case eventJoinConversation:
		c.handleJoin(ctx, message)
	case eventLeaveConversation:
		c.handleLeave(ctx, message)
	case eventSendMessage:
		c.handleSendMessage(ctx, message)
	case eventTypingIndicator, eventTypingStart, eventTypingStop:
		c.handleTyping(base.Type, message)
	case eventMarkAsRead, eventMarkMessageRead:
		c.handleMarkAsRead(ctx, message)
	case eventResumeMessages:
		c.handleResumeMessages(message)
	default:
		c.emitError("unknown event type: "+base.Type, "", base.Type)
	}
}

func (c *Client) handleJoin(ctx context.Context, raw []byte) {
	var p joinConversationPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		c.emitError("conversationId is required", "", eventJoinConversation)
		return
	}
	if p.UserID != "" && p.UserID != c.userID {
		c.emitError("sender identity mismatch", string(apperrors.CodeUnauthorized), eventJoinConversation)
		return
	}

	isMember, err := c.store.IsActiveMember(ctx, p.ConversationID, c.userID)
	if err != nil {
		c.emitError("membership check failed", "internal_error", eventJoinConversation)
		return
	}
	if !isMember {
		c.emitError("not a member of this conversation", string(apperrors.CodeNotMember), eventJoinConversation)
		return
	}

	c.hub.joinRoom(p.ConversationID, c)
	c.emit(outConversationJoined, conversationJoinedPayload(p.ConversationID, c.userID))
	c.hub.broadcastToRoom(p.ConversationID, c, outUserJoined, userRoomEventPayload(p.ConversationID, c.userID, c.socketID))
}

func (c *Client) handleLeave(ctx context.Context, raw []byte) {
	var p joinConversationPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		c.emitError("conversationId is required", "", eventLeaveConversation)
		return
	}
	if p.UserID != "" && p.UserID != c.userID {
		c.emitError("sender identity mismatch", string(apperrors.CodeUnauthorized), eventLeaveConversation)
		return
	}

	c.hub.leaveRoom(p.ConversationID, c)
	c.emit(outConversationLeft, conversationLeftPayload(p.ConversationID, c.userID))
	c.hub.broadcastToRoom(p.ConversationID, c, outUserLeft, userRoomEventPayload(p.ConversationID, c.userID, c.socketID))
}

func (c *Client) handleSendMessage(ctx context.Context, raw []byte) {
	var p sendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.emitError("invalid send_message payload", "", eventSendMessage)
		return
	}
	if p.UserID != "" && p.UserID != c.userID {
		c.emitError("sender identity mismatch", string(apperrors.CodeUnauthorized), eventSendMessage)
		return
	}
	maxBytes := c.cfg.MaxMessageContentBytes
	if maxBytes <= 0 {
		maxBytes = 10000
	}
	if len(p.Content) == 0 && p.MediaURL == nil && len(p.Attachments) == 0 {
		c.emitError("message is empty", string(apperrors.CodeInvalidSchema), eventSendMessage)
		return
	}
	if len(p.Content) > maxBytes {
		c.emitError("message content is too long", string(apperrors.CodePayloadTooLarge), eventSendMessage)
		return
	}

	ack, appErr := c.producer.Send(ctx, producer.Request{
		ConversationID:  p.ConversationID,
		SenderID:        c.userID,
		ClientMessageID: p.ClientMessageID,
		Content:         p.Content,
		ContentType:     p.MessageType,
		MediaURL:        p.MediaURL,
		Attachments:     p.Attachments,
		ReplyToID:       p.ReplyToID,
	})
	if appErr != nil {
		c.emitError(appErr.Message, string(appErr.Code), eventSendMessage)
		return
	}

	now := time.Now().UTC()
	c.dedupe.record(ack.MessageID)
	c.emit(outMessageSent, messageAckPayload(p.ConversationID, c.userID, p, ack.MessageID, now, ack.IdempotentHit))
}

func (c *Client) handleTyping(eventType string, raw []byte) {
	var p typingIndicatorPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		return
	}
	if p.UserID != "" && p.UserID != c.userID {
		return
	}
	switch eventType {
	case eventTypingStart:
		p.IsTyping = true
	case eventTypingStop:
		p.IsTyping = false
	}
	c.hub.broadcastToRoom(p.ConversationID, c, outUserTyping, userTypingPayload(p.ConversationID, c.userID, p.IsTyping))
}

func (c *Client) handleMarkAsRead(ctx context.Context, raw []byte) {
	var p markAsReadPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" || len(p.MessageIDs) == 0 {
		c.emitError("conversationId and messageIds are required", "", eventMarkAsRead)
		return
	}
	if p.UserID != "" && p.UserID != c.userID {
		c.emitError("sender identity mismatch", string(apperrors.CodeUnauthorized), eventMarkAsRead)
		return
	}

	for _, messageID := range p.MessageIDs {
		if err := c.store.RecordReceipt(ctx, models.Receipt{
			MessageID:   messageID,
			RecipientID: c.userID,
			State:       models.ReceiptRead,
			Timestamp:   time.Now().UTC(),
		}); err != nil {
			slog.Warn("failed to record read receipt", "message_id", messageID, "user_id", c.userID, "error", err)
		}
	}
	c.hub.broadcastToRoom(p.ConversationID, c, outMessagesRead, messagesReadPayload(p.ConversationID, c.userID, p.MessageIDs))
}

func (c *Client) handleResumeMessages(raw []byte) {
	var p resumeMessagesPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		c.emitAck(false, 0, "conversationId is required")
		return
	}
	if p.UserID != "" && p.UserID != c.userID {
		c.emitAck(false, 0, "sender identity mismatch")
		return
	}
	if c.replay == nil {
		c.emitAck(false, 0, "replay cache unavailable")
		return
	}

	entries := c.replay.FetchSince(p.ConversationID, p.LastReceivedMsgID)
	messages := make([]interface{}, 0, len(entries))
	replayedCount := 0
	for _, entry := range entries {
		if c.dedupe.seen(entry.MessageID) {
			continue
		}
		var env models.Envelope
		if err := json.Unmarshal(entry.Envelope, &env); err != nil {
			continue
		}
		c.dedupe.record(entry.MessageID)
		messages = append(messages, messagePayload(env))
		replayedCount++
	}

	c.emit(outReplayedMessages, replayedMessagesPayload(p.ConversationID, messages))
	c.emitAck(true, replayedCount, "")
}

// emitAck sends the ack-callback-shaped response resume_messages promises
// the caller: {ok, replayed?} or {ok:false, reason}.
func (c *Client) emitAck(ok bool, replayed int, reason string) {
	payload := map[string]interface{}{"ok": ok}
	if ok {
		payload["replayed"] = replayed
	} else {
		payload["reason"] = reason
	}
	c.emit("resume_messages_ack", payload)
}
