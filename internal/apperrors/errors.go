// Package apperrors provides a single structured error type shared by every
// layer of the system, mapping each layer's enumerated error kinds onto HTTP
// status codes (for the REST facade) and onto gateway `error` events (for the
// session protocol).
package apperrors

import (
	"fmt"
	"net/http"
	"time"
)

// Code is a stable, enumerated error kind. Each layer owns a disjoint slice
// of this namespace.
type Code string

const (
	// --- Config ---
	CodeInvalidEnvironment Code = "INVALID_ENVIRONMENT"

	// --- Auth / token verifier ---
	CodeMissingToken      Code = "missing_token"
	CodeMalformed         Code = "malformed"
	CodeInvalidSignature  Code = "invalid_signature"
	CodeInvalidAudience   Code = "invalid_audience"
	CodeInvalidIssuer     Code = "invalid_issuer"
	CodeExpired           Code = "expired"
	CodeNotBefore         Code = "not_before"
	CodeUnauthorized      Code = "unauthorized"
	CodeAuthInternal      Code = "internal"

	// --- Producer ---
	CodeInvalidSchema        Code = "InvalidSchema"
	CodeConversationNotFound Code = "ConversationNotFound"
	CodeConversationInactive Code = "ConversationInactive"
	CodeNotMember            Code = "NotMember"
	CodeUserBlocked          Code = "UserBlocked"
	CodePayloadTooLarge      Code = "PayloadTooLarge"
	CodeEnqueueFailed        Code = "EnqueueFailed"
	CodeEnqueueThrottled     Code = "EnqueueThrottled"

	// --- Consumer ---
	CodePersistenceTransient Code = "PersistenceTransient"
	CodePersistencePermanent Code = "PersistencePermanent"

	// --- DAL ---
	CodePoolExhausted      Code = "PoolExhausted"
	CodeQueryTimeout       Code = "QueryTimeout"
	CodeReplicaUnavailable Code = "ReplicaUnavailable"

	// --- Presence ---
	CodePresenceStoreUnavailable Code = "PresenceStoreUnavailable"

	// --- Chat service / REST facade ---
	CodeNotFound      Code = "NOT_FOUND"
	CodeForbidden     Code = "FORBIDDEN"
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeConflict      Code = "CONFLICT"

	// --- Catch-all ---
	CodeInternal Code = "internal_error"
)

// statusCodes maps error codes to HTTP status for the REST facade. A code
// missing from this table falls back to 500 via StatusCode().
var statusCodes = map[Code]int{
	CodeInvalidEnvironment: http.StatusInternalServerError,

	CodeMissingToken:     http.StatusUnauthorized,
	CodeMalformed:        http.StatusUnauthorized,
	CodeInvalidSignature: http.StatusUnauthorized,
	CodeInvalidAudience:  http.StatusUnauthorized,
	CodeInvalidIssuer:    http.StatusUnauthorized,
	CodeExpired:          http.StatusUnauthorized,
	CodeNotBefore:        http.StatusUnauthorized,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeAuthInternal:     http.StatusInternalServerError,

	CodeInvalidSchema:        http.StatusBadRequest,
	CodeConversationNotFound: http.StatusNotFound,
	CodeConversationInactive: http.StatusConflict,
	CodeNotMember:            http.StatusForbidden,
	CodeUserBlocked:          http.StatusForbidden,
	CodePayloadTooLarge:      http.StatusRequestEntityTooLarge,
	CodeEnqueueFailed:        http.StatusServiceUnavailable,
	CodeEnqueueThrottled:     http.StatusTooManyRequests,

	CodePersistenceTransient: http.StatusServiceUnavailable,
	CodePersistencePermanent: http.StatusInternalServerError,

	CodePoolExhausted:      http.StatusServiceUnavailable,
	CodeQueryTimeout:       http.StatusGatewayTimeout,
	CodeReplicaUnavailable: http.StatusServiceUnavailable,

	CodePresenceStoreUnavailable: http.StatusServiceUnavailable,

	CodeNotFound:   http.StatusNotFound,
	CodeForbidden:  http.StatusForbidden,
	CodeBadRequest: http.StatusBadRequest,
	CodeConflict:   http.StatusConflict,

	CodeInternal: http.StatusInternalServerError,
}

// AppError is the structured error type threaded through every layer.
type AppError struct {
	Code      Code        `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status code for this error, defaulting to 500
// for codes with no explicit REST mapping (e.g. pure gateway codes).
func (e *AppError) StatusCode() int {
	if code, ok := statusCodes[e.Code]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New builds an AppError with no extra context.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Timestamp: time.Now()}
}

// NewWithDetails builds an AppError carrying structured context (e.g. a
// validation failure list).
func NewWithDetails(code Code, message string, details interface{}) *AppError {
	return &AppError{Code: code, Message: message, Details: details, Timestamp: time.Now()}
}

// WithRequestID attaches a correlation id for cross-layer tracing.
func (e *AppError) WithRequestID(id string) *AppError {
	e.RequestID = id
	return e
}

// Wrap converts any error into an AppError, preserving one that already is.
// Any other error is classified under the given code.
func Wrap(err error, code Code) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(code, err.Error())
}

// As extracts an *AppError from err if present.
func As(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}
