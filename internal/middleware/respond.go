package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"chatcore/internal/apperrors"
)

// errorResponse is the JSON shape every REST error reply shares.
type errorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Code      int         `json:"code"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondError writes any error as a structured JSON response, classifying
// unrecognized errors as internal rather than leaking their raw message.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.New(apperrors.CodeInternal, "internal server error")
	}

	requestID := middleware.GetReqID(r.Context())
	slog.Error("request failed", "code", appErr.Code, "message", appErr.Message, "error", err, "request_id", requestID, "path", r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode())
	json.NewEncoder(w).Encode(errorResponse{
		Error:     string(appErr.Code),
		Message:   appErr.Message,
		Code:      appErr.StatusCode(),
		Timestamp: appErr.Timestamp,
		RequestID: requestID,
		Details:   appErr.Details,
	})
}

// RespondJSON writes a successful JSON response.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
