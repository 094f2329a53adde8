package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"chatcore/internal/gateway"
	"chatcore/internal/producer"
	"chatcore/internal/replay"
	"chatcore/internal/tokenverify"
)

// Socket handles the session-protocol WebSocket connection lifecycle: one
// handshake per HTTP upgrade request, then a long-lived client goroutine.
type Socket struct {
	hub        *gateway.Hub
	verifier   *tokenverify.Verifier
	store      gateway.ConversationStore
	producer   *producer.Producer
	replay     *replay.Cache
	presence   gateway.HeartbeatExtender
	cfg        gateway.Config
	instanceID string
	upgrader   websocket.Upgrader
}

// NewSocket constructs the Socket handler and configures the upgrader's
// origin check from the same allow-list the REST CORS middleware uses.
func NewSocket(
	hub *gateway.Hub,
	verifier *tokenverify.Verifier,
	store gateway.ConversationStore,
	prod *producer.Producer,
	replayCache *replay.Cache,
	presence gateway.HeartbeatExtender,
	cfg gateway.Config,
	instanceID string,
	allowedOrigins []string,
) *Socket {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, originURL.String()) || strings.EqualFold(allowed, originURL.Hostname()) {
					return true
				}
			}
			slog.Warn("websocket connection from disallowed origin rejected", "origin", origin)
			return false
		},
	}
	return &Socket{
		hub:        hub,
		verifier:   verifier,
		store:      store,
		producer:   prod,
		replay:     replayCache,
		presence:   presence,
		cfg:        cfg,
		instanceID: instanceID,
		upgrader:   upgrader,
	}
}

// Serve authenticates the handshake, upgrades the connection, and hands it
// off to a gateway.Client for the remainder of its lifetime. Unlike the
// REST surface, the handshake's token may arrive via query parameter or
// header since a browser WebSocket client cannot set a custom auth body
// before the upgrade completes.
func (s *Socket) Serve(w http.ResponseWriter, r *http.Request) {
	result, appErr := gateway.Authenticate(s.verifier, r, gateway.HandshakePayload{})
	if appErr != nil {
		http.Error(w, appErr.Message, appErr.StatusCode())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "user_id", result.UserID, "error", err)
		return
	}

	client := gateway.NewClient(s.hub, conn, result.UserID, s.instanceID, s.store, s.producer, s.replay, s.presence, s.cfg)
	slog.Info("websocket client connected", "user_id", result.UserID)
	client.Run(r.Context())
}
