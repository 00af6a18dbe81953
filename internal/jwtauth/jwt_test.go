package jwtauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateToken(t *testing.T) {
	svc := NewService("test-signing-key", "repertor")

	t.Run("round trip", func(t *testing.T) {
		token, err := svc.GenerateToken("translator-7", false, time.Minute)
		require.NoError(t, err)

		claims, err := svc.ValidateToken(token)
		require.NoError(t, err)
		require.Equal(t, "translator-7", claims.ActorID)
		require.False(t, claims.Admin)
	})

	t.Run("admin claim survives", func(t *testing.T) {
		token, err := svc.GenerateToken("chief-clerk", true, time.Minute)
		require.NoError(t, err)

		claims, err := svc.ValidateToken(token)
		require.NoError(t, err)
		require.True(t, claims.Admin)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token, err := svc.GenerateToken("translator-7", false, -time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		other := NewService("other-key", "repertor")
		token, err := other.GenerateToken("translator-7", false, time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		require.Error(t, err)
	})
}
