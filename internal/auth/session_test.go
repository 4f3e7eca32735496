package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripKeepsSubjectAndRole(t *testing.T) {
	a, err := NewAuthority(time.Hour)
	require.NoError(t, err)

	token, err := a.CreateJWT("p1", RoleAdministrator)
	require.NoError(t, err)

	claims, err := a.AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.Subject)
	assert.True(t, claims.Allows(RoleAdministrator))
	assert.False(t, claims.Allows(RoleUser))
	require.NotNil(t, claims.ExpiresAt)
}

func TestTokenFromAnotherKeyIsRejected(t *testing.T) {
	a, err := NewAuthority(0)
	require.NoError(t, err)
	b, err := NewAuthority(0)
	require.NoError(t, err)

	token, err := b.CreateJWT("p1", RoleUser)
	require.NoError(t, err)
	_, err = a.AuthenticateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	a, err := NewAuthority(-time.Minute)
	require.NoError(t, err)

	token, err := a.CreateJWT("p1", RoleUser)
	require.NoError(t, err)
	_, err = a.AuthenticateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestZeroTTLTokenHasNoExpiry(t *testing.T) {
	a, err := NewAuthority(0)
	require.NoError(t, err)

	token, err := a.CreateJWT("p1", RoleUser)
	require.NoError(t, err)
	claims, err := a.AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestMalformedAndUnknownRoleTokens(t *testing.T) {
	a, err := NewAuthority(0)
	require.NoError(t, err)

	bad, err := a.CreateJWT("p1", "Spectator")
	require.NoError(t, err)
	_, err = a.AuthenticateJWT(bad)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.AuthenticateJWT("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
