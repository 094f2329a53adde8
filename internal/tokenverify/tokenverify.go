// Package tokenverify authenticates a bearer token against either a remote
// JWKS endpoint or a configured set of static keys, and extracts the user
// identity.
package tokenverify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"chatcore/internal/apperrors"
)

// Result is the successful outcome of a verification.
type Result struct {
	OK     bool
	UserID string
	Claims jwt.MapClaims
}

// Verifier validates handshake tokens.
type Verifier struct {
	issuer   string
	audience string
	leeway   time.Duration

	jwks       *keyfunc.JWKS
	staticKeys []interface{} // parsed RSA public keys or raw HMAC secrets, tried in configured order
}

// Option configures a Verifier at construction time.
type Option func(*Verifier)

// WithJWKS enables the remote key-set resolution path, tried first.
func WithJWKS(jwksURL string) (Option, error) {
	jwks, err := keyfunc.NewDefaultCtx(context.Background(), []string{jwksURL})
	if err != nil {
		return nil, err
	}
	return func(v *Verifier) { v.jwks = jwks }, nil
}

// WithStaticKeys enables the static key-set fallback path. Each entry is
// either a PEM-encoded RSA public key or, failing that, treated as a raw
// HMAC shared secret.
func WithStaticKeys(keys []string) Option {
	return func(v *Verifier) {
		for _, raw := range keys {
			if pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(raw)); err == nil {
				v.staticKeys = append(v.staticKeys, pub)
				continue
			}
			v.staticKeys = append(v.staticKeys, []byte(raw))
		}
	}
}

// New constructs a Verifier. leeway should stay small (seconds, not minutes)
// to keep clock-skew tolerance from masking a genuinely expired token.
func New(issuer, audience string, leeway time.Duration, opts ...Option) *Verifier {
	v := &Verifier{issuer: issuer, audience: audience, leeway: leeway}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify authenticates token, trying the remote key-set first (if
// configured) and falling through to static keys only on a signature
// failure — any other remote-resolver failure short-circuits, so a
// misconfigured or unreachable JWKS endpoint never silently leaks to a
// static-key oracle.
func (v *Verifier) Verify(token string) (*Result, *apperrors.AppError) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.New(apperrors.CodeMissingToken, "no token provided")
	}

	if v.jwks != nil {
		result, appErr := v.verifyWith(token, v.jwks.Keyfunc)
		if appErr == nil {
			return result, nil
		}
		if appErr.Code != apperrors.CodeInvalidSignature {
			return nil, appErr
		}
		// fall through to static keys on signature failure only
	}

	if len(v.staticKeys) == 0 {
		if v.jwks != nil {
			return nil, apperrors.New(apperrors.CodeInvalidSignature, "signature did not match remote key set and no static keys are configured")
		}
		return nil, apperrors.New(apperrors.CodeAuthInternal, "no key source configured")
	}

	var lastErr *apperrors.AppError
	for _, key := range v.staticKeys {
		result, appErr := v.verifyWith(token, func(*jwt.Token) (interface{}, error) { return key, nil })
		if appErr == nil {
			return result, nil
		}
		lastErr = appErr
	}
	return nil, lastErr
}

func (v *Verifier) verifyWith(tokenString string, keyFunc jwt.Keyfunc) (*Result, *apperrors.AppError) {
	parsed, err := jwt.Parse(tokenString, keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, apperrors.New(apperrors.CodeMalformed, "token claims could not be read")
	}

	userID := firstNonEmptyClaim(claims, "sub", "user_id", "uid")
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeMalformed, "token carries no usable identity claim")
	}

	return &Result{OK: true, UserID: userID, Claims: claims}, nil
}

// firstNonEmptyClaim returns the first non-empty string value among the
// given claim names, in fallback order.
func firstNonEmptyClaim(claims jwt.MapClaims, names ...string) string {
	for _, name := range names {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// classify maps a jwt/v5 parse error onto an enumerated error code.
func classify(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperrors.New(apperrors.CodeMalformed, err.Error())
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.New(apperrors.CodeInvalidSignature, err.Error())
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.New(apperrors.CodeExpired, err.Error())
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return apperrors.New(apperrors.CodeNotBefore, err.Error())
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperrors.New(apperrors.CodeInvalidAudience, err.Error())
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperrors.New(apperrors.CodeInvalidIssuer, err.Error())
	default:
		return apperrors.New(apperrors.CodeInvalidSignature, err.Error())
	}
}
