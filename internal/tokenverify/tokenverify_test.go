package tokenverify

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/apperrors"
)

const testSecret = "test-shared-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestVerifyAcceptsValidStaticKeyToken(t *testing.T) {
	v := New("chat-core", "chat-clients", 5*time.Second, WithStaticKeys([]string{testSecret}))
	tok := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "chat-core",
		"aud": "chat-clients",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	result, appErr := v.Verify(tok)
	require.Nil(t, appErr)
	assert.True(t, result.OK)
	assert.Equal(t, "user-1", result.UserID)
}

func TestVerifyFallsBackToUserIDClaim(t *testing.T) {
	v := New("chat-core", "chat-clients", 5*time.Second, WithStaticKeys([]string{testSecret}))
	tok := signToken(t, jwt.MapClaims{
		"user_id": "user-2",
		"iss":     "chat-core",
		"aud":     "chat-clients",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	result, appErr := v.Verify(tok)
	require.Nil(t, appErr)
	assert.Equal(t, "user-2", result.UserID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := New("chat-core", "chat-clients", 0, WithStaticKeys([]string{testSecret}))
	tok := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "chat-core",
		"aud": "chat-clients",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, appErr := v.Verify(tok)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeExpired, appErr.Code)
}

func TestVerifyRejectsMissingToken(t *testing.T) {
	v := New("chat-core", "chat-clients", 5*time.Second, WithStaticKeys([]string{testSecret}))
	_, appErr := v.Verify("")
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeMissingToken, appErr.Code)
}

func TestVerifyRejectsTokenWithNoIdentityClaim(t *testing.T) {
	v := New("chat-core", "chat-clients", 5*time.Second, WithStaticKeys([]string{testSecret}))
	tok := signToken(t, jwt.MapClaims{
		"iss": "chat-core",
		"aud": "chat-clients",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, appErr := v.Verify(tok)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeMalformed, appErr.Code)
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	v := New("chat-core", "chat-clients", 5*time.Second, WithStaticKeys([]string{testSecret}))
	tok := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "chat-core",
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, appErr := v.Verify(tok)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeInvalidAudience, appErr.Code)
}
