package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimsFor(sub string, ttl time.Duration) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Role:  "provider",
		OrgID: 1,
	}
}

func TestHMACRoundTrip(t *testing.T) {
	v := NewHMACVerifier("secret", "caregem")
	token, err := v.Sign(claimsFor("provider-7", time.Hour))
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "provider-7", claims.Subject)
	assert.Equal(t, "provider", claims.Role)
	assert.Equal(t, int64(1), claims.OrgID)
}

func TestHMACRejects(t *testing.T) {
	v := NewHMACVerifier("secret", "caregem")

	expired, err := v.Sign(claimsFor("provider-7", -time.Hour))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), expired)
	assert.Error(t, err)

	other, err := NewHMACVerifier("other", "caregem").Sign(claimsFor("provider-7", time.Hour))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), other)
	assert.Error(t, err)

	wrongIssuer, err := NewHMACVerifier("secret", "elsewhere").Sign(claimsFor("provider-7", time.Hour))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), wrongIssuer)
	assert.Error(t, err)

	noSubject, err := v.Sign(claimsFor("", time.Hour))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), noSubject)
	assert.Error(t, err)

	_, err = v.Verify(context.Background(), "not.a.token")
	assert.Error(t, err)
}
