// Package handlers exposes the REST facade and the WebSocket upgrade
// endpoint over internal/chatservice and internal/gateway.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chatcore/internal/apperrors"
	"chatcore/internal/middleware"
	"chatcore/internal/models"
	"chatcore/internal/producer"
)

// ConversationService is the subset of chatservice.Service the REST
// facade calls into.
type ConversationService interface {
	CreateDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	CreateGroupConversation(ctx context.Context, ownerID, title string, memberIDs []string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, cursor *time.Time, limit int) ([]models.ConversationSummary, error)
	ConversationDetails(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	SendMessage(ctx context.Context, req producer.Request) (*producer.Ack, *apperrors.AppError)
	GetMessages(ctx context.Context, conversationID, userID string, before *string, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
	SearchMessages(ctx context.Context, conversationID, userID, query string, limit int) ([]models.Message, error)
	SearchConversations(ctx context.Context, userID, query string, limit int) ([]models.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, actorID, targetID string, role models.MemberRole) error
	RemoveParticipant(ctx context.Context, conversationID, actorID, targetID string) error
	UpdateRole(ctx context.Context, conversationID, actorID, targetID string, newRole models.MemberRole) error
	SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error
}

// Conversations bundles the REST handlers backed by a ConversationService.
type Conversations struct {
	svc ConversationService
}

// NewConversations constructs the Conversations handler group.
func NewConversations(svc ConversationService) *Conversations {
	return &Conversations{svc: svc}
}

type createConversationRequest struct {
	Kind      string   `json:"kind"`
	PeerID    string   `json:"peerId,omitempty"`
	Title     string   `json:"title,omitempty"`
	MemberIDs []string `json:"memberIds,omitempty"`
}

// Create handles POST /conversations, dispatching on the requested kind.
func (h *Conversations) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "malformed request body"))
		return
	}

	var (
		conv *models.Conversation
		err  error
	)
	switch req.Kind {
	case "direct":
		if req.PeerID == "" {
			middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "peerId is required for a direct conversation"))
			return
		}
		conv, err = h.svc.CreateDirectConversation(r.Context(), userID, req.PeerID)
	case "group":
		if req.Title == "" {
			middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "title is required for a group conversation"))
			return
		}
		conv, err = h.svc.CreateGroupConversation(r.Context(), userID, req.Title, req.MemberIDs)
	default:
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "kind must be \"direct\" or \"group\""))
		return
	}
	if err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	middleware.RespondJSON(w, http.StatusCreated, conv)
}

// List handles GET /conversations, cursor-paginated by last activity.
func (h *Conversations) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	cursor := parseTimeCursor(r.URL.Query().Get("cursor"))
	limit, limitErr := parseLimit(r.URL.Query().Get("limit"), 30, 100)
	if limitErr != nil {
		middleware.RespondError(w, r, limitErr)
		return
	}

	summaries, err := h.svc.ListConversations(r.Context(), userID, cursor, limit)
	if err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, summaries)
}

// Get handles GET /conversations/{conversationID}.
func (h *Conversations) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := h.svc.ConversationDetails(r.Context(), conversationID, userID)
	if err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, conv)
}

// SearchConversations handles GET /conversations/search.
func (h *Conversations) SearchConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	query := r.URL.Query().Get("q")
	if query == "" {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "q is required"))
		return
	}
	limit, limitErr := parseLimit(r.URL.Query().Get("limit"), 20, 50)
	if limitErr != nil {
		middleware.RespondError(w, r, limitErr)
		return
	}

	results, err := h.svc.SearchConversations(r.Context(), userID, query, limit)
	if err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, results)
}

type sendMessageRequest struct {
	ClientMessageID string             `json:"clientMessageId"`
	Content         string             `json:"content,omitempty"`
	ContentType     models.MessageType `json:"messageType"`
	MediaURL        *string            `json:"mediaUrl,omitempty"`
	Attachments     []string           `json:"attachments,omitempty"`
	ReplyToID       *string            `json:"replyToId,omitempty"`
}

// SendMessage handles POST /conversations/{conversationID}/messages, the
// request/reply alternative to the session protocol's send_message event.
func (h *Conversations) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "malformed request body"))
		return
	}

	ack, appErr := h.svc.SendMessage(r.Context(), producer.Request{
		ConversationID:  conversationID,
		SenderID:        userID,
		ClientMessageID: req.ClientMessageID,
		Content:         req.Content,
		ContentType:     req.ContentType,
		MediaURL:        req.MediaURL,
		Attachments:     req.Attachments,
		Client:          &models.ClientMeta{IP: r.RemoteAddr, UserAgent: r.UserAgent()},
		ReplyToID:       req.ReplyToID,
	})
	if appErr != nil {
		middleware.RespondError(w, r, appErr)
		return
	}
	middleware.RespondJSON(w, http.StatusAccepted, ack)
}

// GetMessages handles GET /conversations/{conversationID}/messages.
func (h *Conversations) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	var before *string
	if b := r.URL.Query().Get("before"); b != "" {
		before = &b
	}
	limit, limitErr := parseLimit(r.URL.Query().Get("limit"), 50, 200)
	if limitErr != nil {
		middleware.RespondError(w, r, limitErr)
		return
	}

	messages, err := h.svc.GetMessages(r.Context(), conversationID, userID, before, limit)
	if err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, messages)
}

// SearchMessages handles GET /conversations/{conversationID}/messages/search.
func (h *Conversations) SearchMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")
	query := r.URL.Query().Get("q")
	if query == "" {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "q is required"))
		return
	}
	limit, limitErr := parseLimit(r.URL.Query().Get("limit"), 20, 100)
	if limitErr != nil {
		middleware.RespondError(w, r, limitErr)
		return
	}

	messages, err := h.svc.SearchMessages(r.Context(), conversationID, userID, query, limit)
	if err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, messages)
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// MarkRead handles PUT /conversations/{conversationID}/read.
func (h *Conversations) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "malformed request body"))
		return
	}
	if len(req.MessageIDs) == 0 {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "messageIds must not be empty"))
		return
	}

	if err := h.svc.MarkRead(r.Context(), conversationID, userID, req.MessageIDs); err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnreadCount handles GET /unread-count.
func (h *Conversations) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	count, err := h.svc.UnreadCount(r.Context(), userID)
	if err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]int{"unreadCount": count})
}

type participantRequest struct {
	UserID string          `json:"userId"`
	Role   models.MemberRole `json:"role,omitempty"`
}

// AddParticipant handles POST /conversations/{conversationID}/participants.
func (h *Conversations) AddParticipant(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "malformed request body"))
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleMember
	}

	if err := h.svc.AddParticipant(r.Context(), conversationID, actorID, req.UserID, role); err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveParticipant handles DELETE /conversations/{conversationID}/participants/{userID}.
func (h *Conversations) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")
	targetID := chi.URLParam(r, "userID")

	if err := h.svc.RemoveParticipant(r.Context(), conversationID, actorID, targetID); err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateParticipantRole handles PUT /conversations/{conversationID}/participants/{userID}/role.
func (h *Conversations) UpdateParticipantRole(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")
	targetID := chi.URLParam(r, "userID")

	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "malformed request body"))
		return
	}
	if req.Role == "" {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "role is required"))
		return
	}

	if err := h.svc.UpdateRole(r.Context(), conversationID, actorID, targetID, req.Role); err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type togglePinnedRequest struct {
	Pinned bool `json:"pinned"`
}

// SetPinned handles PUT /conversations/{conversationID}/pinned.
func (h *Conversations) SetPinned(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req togglePinnedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "malformed request body"))
		return
	}
	if err := h.svc.SetPinned(r.Context(), conversationID, userID, req.Pinned); err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleArchivedRequest struct {
	Archived bool `json:"archived"`
}

// SetArchived handles PUT /conversations/{conversationID}/archived.
func (h *Conversations) SetArchived(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req toggleArchivedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, r, apperrors.New(apperrors.CodeBadRequest, "malformed request body"))
		return
	}
	if err := h.svc.SetArchived(r.Context(), conversationID, userID, req.Archived); err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseLimit parses the limit query parameter, defaulting to def when
// absent or unparseable. A limit over max is rejected outright rather than
// silently clamped, so callers get a clear 400 instead of a quietly
// truncated page.
func parseLimit(raw string, def, max int) (int, *apperrors.AppError) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def, nil
	}
	if n > max {
		return 0, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("limit must not exceed %d", max))
	}
	return n, nil
}

func parseTimeCursor(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &t
}
