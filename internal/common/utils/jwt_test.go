package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT(NewAccessClaims("user-1", "chatcli", time.Hour), secret)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "chatcli", claims.Issuer)
}

func TestValidateJWTRejects(t *testing.T) {
	expired, err := GenerateJWT(NewAccessClaims("user-1", "test", -time.Minute), secret)
	require.NoError(t, err)
	_, err = ValidateJWT(expired, secret)
	assert.Error(t, err, "expired")

	good, err := GenerateJWT(NewAccessClaims("user-1", "test", time.Hour), secret)
	require.NoError(t, err)
	_, err = ValidateJWT(good, "wrong-secret")
	assert.Error(t, err, "wrong secret")

	refresh := NewAccessClaims("user-1", "test", time.Hour)
	refresh.Type = "refresh"
	token, err := GenerateJWT(refresh, secret)
	require.NoError(t, err)
	_, err = ValidateJWT(token, secret)
	assert.Error(t, err, "refresh token")

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = ValidateJWT(noUser, secret)
	assert.Error(t, err, "missing user")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateJWT(none, secret)
	assert.Error(t, err, "unsigned token")
}
