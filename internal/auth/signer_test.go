package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), key
}

func TestToken_Claims(t *testing.T) {
	t.Parallel()

	pemBytes, key := testKeyPEM(t)
	signer, err := NewSigner("issuer-1", "KEY123", pemBytes)
	require.NoError(t, err)

	tok, err := signer.Token()
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(_ *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "issuer-1", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{Audience}, claims.Audience)
	assert.Equal(t, "KEY123", parsed.Header["kid"])

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	assert.Equal(t, tokenValidity, ttl)
}

func TestToken_CachedUntilNearExpiry(t *testing.T) {
	t.Parallel()

	pemBytes, _ := testKeyPEM(t)
	signer, err := NewSigner("issuer-1", "KEY123", pemBytes)
	require.NoError(t, err)

	base := time.Now()
	signer.now = func() time.Time { return base }

	first, err := signer.Token()
	require.NoError(t, err)

	// Well inside the validity window: same token.
	signer.now = func() time.Time { return base.Add(10 * time.Minute) }
	again, err := signer.Token()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// Within the safety margin of expiry: a fresh token.
	signer.now = func() time.Time { return base.Add(tokenValidity - 30*time.Second) }
	fresh, err := signer.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
}

func TestNewSigner_BadKey(t *testing.T) {
	t.Parallel()

	_, err := NewSigner("issuer-1", "KEY123", []byte("not a pem key"))
	require.Error(t, err)

	var credErr *CredentialError
	require.True(t, errors.As(err, &credErr))
}
