// Package models defines the core data structures shared across the
// session gateway, delivery pipeline, presence registry, and chat service.
package models

import "time"

// ConversationKind distinguishes a two-party direct conversation from a
// multi-party group conversation.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// MemberRole is a conversation membership's authorization level. Only the
// current owner may transition ownership, and the sole owner cannot be
// removed from the conversation.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// MessageType is the client-declared content kind of a message.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageFile  MessageType = "FILE"
	MessageVoice MessageType = "VOICE"
)

// Priority is carried on the durable-log envelope; all producer traffic in
// this system uses Normal.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ReceiptState is a monotone per-(message,recipient) progression:
// sent -> delivered -> read. No backward transitions are permitted.
type ReceiptState string

const (
	ReceiptSent      ReceiptState = "sent"
	ReceiptDelivered ReceiptState = "delivered"
	ReceiptRead      ReceiptState = "read"
)

// receiptRank orders states for monotonicity checks; Rank reports a state's
// position, used to reject backward transitions.
var receiptRank = map[ReceiptState]int{
	ReceiptSent:      0,
	ReceiptDelivered: 1,
	ReceiptRead:      2,
}

// Rank returns the ordinal position of a receipt state in the monotone
// sequence sent < delivered < read.
func (s ReceiptState) Rank() int { return receiptRank[s] }

// Conversation is a chat thread between two (direct) or more (group) users.
type Conversation struct {
	ID             string           `db:"id" json:"id"`
	Kind           ConversationKind `db:"kind" json:"kind"`
	Title          *string          `db:"title" json:"title,omitempty"`
	Description    *string          `db:"description" json:"description,omitempty"`
	IsActive       bool             `db:"is_active" json:"isActive"`
	LastMessageID  *string          `db:"last_message_id" json:"lastMessageId,omitempty"`
	LastMessageAt  *time.Time       `db:"last_message_at" json:"lastMessageAt,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
	DirectKey      *string          `db:"direct_key" json:"-"` // unordered-pair uniqueness key for direct conversations
}

// ConversationMember binds a user to a conversation with a role. A single
// membership vocabulary is used throughout rather than splitting it across
// separate user/participant types.
type ConversationMember struct {
	ConversationID string     `db:"conversation_id" json:"conversationId"`
	UserID         string     `db:"user_id" json:"userId"`
	Role           MemberRole `db:"role" json:"role"`
	IsActive       bool       `db:"is_active" json:"isActive"`
	JoinedAt       time.Time  `db:"joined_at" json:"joinedAt"`
	IsPinned       bool       `db:"is_pinned" json:"isPinned"`
	IsArchived     bool       `db:"is_archived" json:"isArchived"`
}

// MessageFlags carries the boolean/optional modifiers on a message.
type MessageFlags struct {
	IsEdited        bool    `json:"isEdited"`
	IsDeleted       bool    `json:"isDeleted"`
	RequiresReceipt bool    `json:"requiresReceipt"`
	ReplyToID       *string `json:"replyToId,omitempty"`
	ThreadID        *string `json:"threadId,omitempty"`
}

// Message is a single persisted chat message. MessageID is a monotone,
// time-ordered identifier so that (conversationId, messageId) ordering and
// cursor pagination need no secondary sort key.
type Message struct {
	MessageID      string      `db:"message_id" json:"id"`
	ConversationID string      `db:"conversation_id" json:"conversationId"`
	SenderID       string      `db:"sender_id" json:"senderId"`
	Content        *string     `db:"content" json:"content,omitempty"`
	PayloadKey     *string     `db:"payload_key" json:"payloadKey,omitempty"`
	ContentType    MessageType `db:"content_type" json:"messageType"`
	MediaURL       *string     `db:"media_url" json:"mediaUrl,omitempty"`
	Attachments    []string    `db:"-" json:"attachments,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	IdempotencyKey string      `db:"idempotency_key" json:"-"`
	CorrelationID  string      `db:"correlation_id" json:"correlationId,omitempty"`
	Flags          MessageFlags `db:"-" json:"flags"`
	DeletedBy      *string     `db:"deleted_by" json:"-"`
}

// Receipt is a monotone record of one (message, recipient) state
// transition. Unique per (messageId, recipientUserId, state).
type Receipt struct {
	MessageID     string       `db:"message_id" json:"messageId"`
	RecipientID   string       `db:"recipient_user_id" json:"recipientUserId"`
	State         ReceiptState `db:"state" json:"state"`
	Timestamp     time.Time    `db:"timestamp" json:"timestamp"`
}

// Envelope is the flat, on-log record carrying a message from producer to
// consumer.
type Envelope struct {
	MessageID      string       `json:"messageId"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	CreatedAt      time.Time    `json:"createdAt"`
	PayloadKey     *string      `json:"payloadKey,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey"`
	CorrelationID  string       `json:"correlationId"`
	Metadata       EnvelopeMeta `json:"metadata"`
}

// EnvelopeMeta is the envelope's `metadata` sub-object.
type EnvelopeMeta struct {
	Content       *string      `json:"content,omitempty"`
	ContentType   MessageType  `json:"contentType"`
	MediaURL      *string      `json:"mediaUrl,omitempty"`
	Attachments   []string     `json:"attachments,omitempty"`
	Priority      Priority     `json:"priority"`
	RetryCount    int          `json:"retryCount"`
	RecipientIDs  []string     `json:"recipientIds"`
	Client        *ClientMeta  `json:"client,omitempty"`
	Flags         MessageFlags `json:"flags,omitempty"`
}

// ClientMeta is the session's connection metadata, attached at handshake.
type ClientMeta struct {
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// SessionBinding is one (userId, socketId) pair alive on one instance.
type SessionBinding struct {
	SocketID        string    `json:"socketId"`
	InstanceID      string    `json:"instanceId"`
	Agent           string    `json:"agent,omitempty"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// ReplayEntry is one buffered message in a conversation's replay cache.
type ReplayEntry struct {
	MessageID        string    `json:"messageId"`
	Envelope         []byte    `json:"envelope"`
	ArrivalTimestamp time.Time `json:"arrivalTimestamp"`
}

// ConversationSummary is the listing-oriented projection of a conversation,
// carrying the batched aggregates (unread count, participant count)
// alongside the row itself.
type ConversationSummary struct {
	Conversation      Conversation `json:"conversation"`
	UnreadCount       int          `json:"unreadCount"`
	ParticipantCount  int          `json:"participantCount"`
}
