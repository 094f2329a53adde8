package gateway

import (
	"time"

	"chatcore/internal/models"
)

// Inbound event type names, as sent on the wire.
const (
	eventJoinConversation  = "join_conversation"
	eventLeaveConversation = "leave_conversation"
	eventSendMessage       = "send_message"
	eventTypingIndicator   = "typing_indicator"
	eventTypingStart       = "typing_start"
	eventTypingStop        = "typing_stop"
	eventMarkAsRead        = "mark_as_read"
	eventMarkMessageRead   = "mark_message_read"
	eventResumeMessages    = "resume_messages"
)

// Outbound event type names.
const (
	outConversationJoined = "conversation_joined"
	outConversationLeft   = "conversation_left"
	outUserJoined         = "user_joined"
	outUserLeft           = "user_left"
	outMessageSent        = "message_sent"
	outNewMessage         = "new_message"
	outMessagesRead       = "messages_read"
	outUserTyping         = "user_typing"
	outReplayedMessages   = "replayed_messages"
	outError              = "error"
)

// inboundEnvelope is the shape every inbound frame is first decoded into,
// type-tagged for dispatch.
type inboundEnvelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"` // client-supplied correlation id for the ack callback, if any
}

type joinConversationPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"` // present only on impersonation attempts; must match the session's identity
}

type sendMessagePayload struct {
	ConversationID  string             `json:"conversationId"`
	Content         string             `json:"content"`
	MessageType     models.MessageType `json:"messageType"`
	Attachments     []string           `json:"attachments,omitempty"`
	MediaURL        *string            `json:"mediaUrl,omitempty"`
	ClientMessageID string             `json:"clientMessageId,omitempty"`
	ReplyToID       *string            `json:"replyToId,omitempty"`
	UserID          string             `json:"userId,omitempty"` // present only on impersonation attempts; must match the session's identity
}

type typingIndicatorPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
	UserID         string `json:"userId,omitempty"` // present only on impersonation attempts; must match the session's identity
}

type markAsReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	UserID         string   `json:"userId,omitempty"` // present only on impersonation attempts; must match the session's identity
}

type resumeMessagesPayload struct {
	ConversationID    string  `json:"conversationId"`
	LastReceivedMsgID *string `json:"lastReceivedMessageId,omitempty"`
	UserID            string  `json:"userId,omitempty"` // present only on impersonation attempts; must match the session's identity
}

func conversationJoinedPayload(conversationID, userID string) map[string]interface{} {
	return map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"joinedAt":       time.Now().UTC(),
	}
}

func conversationLeftPayload(conversationID, userID string) map[string]interface{} {
	return map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"timestamp":      time.Now().UTC(),
	}
}

func userRoomEventPayload(conversationID, userID, socketID string) map[string]interface{} {
	return map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"socketId":       socketID,
		"timestamp":      time.Now().UTC(),
	}
}

func messageAckPayload(conversationID, senderID string, req sendMessagePayload, messageID string, createdAt time.Time, idempotentHit bool) map[string]interface{} {
	return map[string]interface{}{
		"id":             messageID,
		"conversationId": conversationID,
		"senderId":       senderID,
		"content":        req.Content,
		"messageType":    req.MessageType,
		"createdAt":      createdAt,
		"idempotentHit":  idempotentHit,
	}
}

func messagePayload(env models.Envelope) map[string]interface{} {
	return map[string]interface{}{
		"id":             env.MessageID,
		"conversationId": env.ConversationID,
		"senderId":       env.SenderID,
		"content":        env.Metadata.Content,
		"messageType":    env.Metadata.ContentType,
		"createdAt":      env.CreatedAt,
		"correlationId":  env.CorrelationID,
	}
}

func messagesReadPayload(conversationID, userID string, messageIDs []string) map[string]interface{} {
	return map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"messageIds":     messageIDs,
		"timestamp":      time.Now().UTC(),
	}
}

func userTypingPayload(conversationID, userID string, isTyping bool) map[string]interface{} {
	return map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"isTyping":       isTyping,
		"timestamp":      time.Now().UTC(),
	}
}

func replayedMessagesPayload(conversationID string, messages []interface{}) map[string]interface{} {
	return map[string]interface{}{
		"conversationId": conversationID,
		"messages":       messages,
		"cursor":         cursorOf(messages),
		"replayedAt":     time.Now().UTC(),
	}
}

func cursorOf(messages []interface{}) string {
	if len(messages) == 0 {
		return ""
	}
	last, ok := messages[len(messages)-1].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := last["id"].(string)
	return id
}

func errorPayload(message, code, event string) map[string]interface{} {
	p := map[string]interface{}{"message": message}
	if code != "" {
		p["code"] = code
	}
	if event != "" {
		p["event"] = event
	}
	return p
}
