package gateway

import (
	"net/http"

	"chatcore/internal/apperrors"
	"chatcore/internal/tokenverify"
)

// HandshakePayload carries handshake fields supplied in a JSON body; absent
// fields fall through to the query parameter and header channels. The
// Socket handler reads no handshake frame and always passes an empty
// payload, so its token comes from the query parameter or header.
type HandshakePayload struct {
	Token                 string `json:"token"`
	CorrelationID         string `json:"correlationId"`
	LastReceivedMessageID string `json:"lastReceivedMessageId"`
}

// HandshakeResult is what a successful handshake yields: the caller's
// identity plus the optional resume cursor to seed a resume_messages call.
type HandshakeResult struct {
	UserID        string
	CorrelationID string
	ResumeCursor  *string
}

// Authenticate resolves a bearer token from the accepted channels and
// verifies it, returning a gateway-rejection AppError (mapped by the
// handler to handshake refusal) on any failure.
func Authenticate(v *tokenverify.Verifier, r *http.Request, payload HandshakePayload) (*HandshakeResult, *apperrors.AppError) {
	token := ExtractToken(r, payload.Token)
	if token == "" {
		return nil, apperrors.New(apperrors.CodeMissingToken, "no bearer token presented")
	}

	result, err := v.Verify(token)
	if err != nil {
		return nil, err
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = r.URL.Query().Get("correlationId")
	}

	return &HandshakeResult{
		UserID:        result.UserID,
		CorrelationID: correlationID,
		ResumeCursor:  ExtractResumeCursor(r, payload.LastReceivedMessageID),
	}, nil
}
