// internal/utils/jwt_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateJWT("0x1111111111111111111111111111111111111111", "admin@example.com", true, 1)
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)

	assert.Equal(t, "0x1111111111111111111111111111111111111111", claims.Address)
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.True(t, claims.IsOperator)
	assert.Equal(t, "grants-ledger", claims.Issuer)
}

func TestJWTRejectsTampering(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateJWT("0x1111111111111111111111111111111111111111", "a@b.com", false, 1)
	require.NoError(t, err)

	_, err = ValidateJWT(token + "x")
	assert.Error(t, err)

	SetJWTSecret("different-secret")
	_, err = ValidateJWT(token)
	assert.Error(t, err)

	SetJWTSecret("test-secret")
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateRefreshToken("0x2222222222222222222222222222222222222222", 24)
	require.NoError(t, err)

	address, err := ValidateRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", address)
}
