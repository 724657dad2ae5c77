package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	ownerID := uuid.New()
	token, err := Sign(testSecret, ownerID, time.Minute)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, ownerID, got)
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	expired, err := Sign(testSecret, uuid.New(), -time.Minute)
	require.NoError(t, err)
	wrongKey, err := Sign("other-secret", uuid.New(), time.Minute)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"expired":   expired,
		"wrong key": wrongKey,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := v.Verify(token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewJWTVerifier("")
	require.Error(t, err)
}
