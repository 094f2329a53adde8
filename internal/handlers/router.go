package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"chatcore/internal/metrics"
	appmw "chatcore/internal/middleware"
	"chatcore/internal/tokenverify"
)

// Router assembles the full REST surface plus the WebSocket upgrade route.
func Router(
	conversations *Conversations,
	attachments *Attachments,
	health *Health,
	socket *Socket,
	verifier *tokenverify.Verifier,
	reg *metrics.Registry,
	allowedOrigins []string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(appmw.CORS(allowedOrigins))

	r.Get("/health", health.Liveness)
	r.Get("/health/database", health.Database)
	r.Handle("/metrics", reg.Handler())

	r.Get("/ws", socket.Serve)

	r.Route("/api", func(r chi.Router) {
		r.Use(appmw.Auth(verifier))

		r.Get("/unread-count", conversations.UnreadCount)
		r.Get("/attachments/{key}/exists", attachments.Exists)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversations.Create)
			r.Get("/", conversations.List)
			r.Get("/search", conversations.SearchConversations)

			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", conversations.Get)
				r.Put("/pinned", conversations.SetPinned)
				r.Put("/archived", conversations.SetArchived)

				r.Post("/messages", conversations.SendMessage)
				r.Get("/messages", conversations.GetMessages)
				r.Get("/messages/search", conversations.SearchMessages)
				r.Put("/read", conversations.MarkRead)

				r.Post("/participants", conversations.AddParticipant)
				r.Delete("/participants/{userID}", conversations.RemoveParticipant)
				r.Put("/participants/{userID}/role", conversations.UpdateParticipantRole)
			})
		})
	})

	return r
}
