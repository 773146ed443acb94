package backend

import (
	"testing"
	"time"

	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService(t *testing.T) {
	tokens := NewTokenService("test-signing-key", "test-issuer", "test-audience")
	userID := domain.NewUserID()

	t.Run("round trip", func(t *testing.T) {
		token, expiresAt, err := tokens.Issue(userID, "a@example.org", time.Hour)
		require.NoError(t, err)
		claims, err := tokens.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), claims.UserID)
		assert.WithinDuration(t, expiresAt, claims.ExpiresAt.Time, time.Second)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := tokens.Issue(userID, "", -time.Hour)
		require.NoError(t, err)
		_, err = tokens.Validate(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("foreign key", func(t *testing.T) {
		other := NewTokenService("other-key", "test-issuer", "test-audience")
		token, _, err := other.Issue(userID, "", time.Hour)
		require.NoError(t, err)
		_, err = tokens.UserIDFromToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Validate("invalid-token-string")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NoError(t, VerifyPassword("correct horse", hash))
	assert.True(t, dErrors.HasCode(VerifyPassword("wrong", hash), dErrors.CodeUnauthorized))

	_, err = HashPassword("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
