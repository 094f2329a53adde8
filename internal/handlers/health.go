package handlers

import (
	"net/http"

	"chatcore/internal/database"
	"chatcore/internal/middleware"
)

// Health serves the liveness and database-readiness status pages.
type Health struct {
	db *database.DB
}

// NewHealth constructs the Health handler group.
func NewHealth(db *database.DB) *Health {
	return &Health{db: db}
}

// Liveness handles GET /health, a process-up check with no dependencies.
func (h *Health) Liveness(w http.ResponseWriter, r *http.Request) {
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Database handles GET /health/database, pinging the primary connection
// pool directly rather than through the replica-aware read path.
func (h *Health) Database(w http.ResponseWriter, r *http.Request) {
	if err := database.Ping(r.Context(), h.db.DB); err != nil {
		middleware.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
