package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", "")

	token, err := tm.GenerateToken("u-1", "dev@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.Equal(t, "dev@example.com", claims.Actor())
	assert.Equal(t, "switchyard", claims.Issuer)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	tm := NewTokenManager("secret", "")
	other := NewTokenManager("different", "")

	token, err := tm.GenerateToken("u-1", "", time.Hour)
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenRejectsWrongIssuer(t *testing.T) {
	minted := NewTokenManager("secret", "somewhere-else")
	tm := NewTokenManager("secret", "https://auth.internal")

	token, err := minted.GenerateToken("u-1", "", time.Hour)
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenRejectsExpired(t *testing.T) {
	tm := NewTokenManager("secret", "")

	token, err := tm.GenerateToken("u-1", "", -time.Minute)
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenRejectsUnsignedAlgorithm(t *testing.T) {
	tm := NewTokenManager("secret", "")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "switchyard",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestActorFallsBackToSubject(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-9"}}
	assert.Equal(t, "u-9", c.Actor())
}

func TestSDKKeyGenerate(t *testing.T) {
	km := NewSDKKeyManager(4)

	key, err := km.Generate()
	require.NoError(t, err)
	assert.True(t, WellFormed(key), "generated key %q should be well formed", key)
	assert.Len(t, key, 67)
	assert.Equal(t, key[:11], Prefix(key))

	other, err := km.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestSDKKeyHashVerify(t *testing.T) {
	// Minimum cost keeps the test fast.
	km := NewSDKKeyManager(4)

	key, err := km.Generate()
	require.NoError(t, err)

	hash, err := km.Hash(key)
	require.NoError(t, err)
	assert.NotContains(t, hash, key)

	assert.NoError(t, km.Verify(key, hash))
	assert.Error(t, km.Verify(key+"x", hash))
}

func TestWellFormed(t *testing.T) {
	assert.False(t, WellFormed(""))
	assert.False(t, WellFormed("sw_short"))
	assert.False(t, WellFormed("ak_"+string(make([]byte, 64))))
}
