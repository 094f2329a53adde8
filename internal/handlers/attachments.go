package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatcore/internal/middleware"
)

// AttachmentResolver is the subset of attachments.Resolver the REST facade
// exposes for clients to confirm a referenced attachment still exists.
type AttachmentResolver interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Attachments bundles the attachment-existence REST handler.
type Attachments struct {
	resolver AttachmentResolver
}

// NewAttachments constructs the Attachments handler group.
func NewAttachments(resolver AttachmentResolver) *Attachments {
	return &Attachments{resolver: resolver}
}

// Exists handles GET /attachments/{key}/exists, an existence probe only:
// the pipeline carries opaque attachment references, never upload bytes.
func (h *Attachments) Exists(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	ok, err := h.resolver.Exists(r.Context(), key)
	if err != nil {
		middleware.RespondError(w, r, err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}
