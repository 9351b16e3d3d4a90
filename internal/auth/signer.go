// Package auth issues the short-lived ES256 tokens required by the
// App Store Connect API.
//
// Every API request carries a signed JWT bound to the appstoreconnect-v1
// audience. Tokens are valid for 20 minutes; the Signer keeps the last
// issued token in memory and reuses it until it is close to expiry.
// Tokens are never written to disk.
package auth

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the aud claim expected by the App Store Connect API.
const Audience = "appstoreconnect-v1"

const (
	tokenValidity = 20 * time.Minute
	// Reissue when the cached token has less than this long to live.
	expiryMargin = time.Minute
)

// CredentialError indicates the configured API credentials are unusable:
// the private key is malformed, or signing with it failed. It is fatal
// for the whole sync run.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credentials: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credentials: %s", e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Signer issues and caches App Store Connect API tokens.
// It is safe for concurrent use.
type Signer struct {
	issuerID string
	keyID    string
	key      *ecdsa.PrivateKey

	// now is a hook for tests.
	now func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewSigner parses the PEM-encoded .p8 private key and returns a Signer
// for the given issuer and key IDs. A malformed key yields a
// *CredentialError.
func NewSigner(issuerID, keyID string, privateKeyPEM []byte) (*Signer, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, &CredentialError{Reason: "failed to parse .p8 private key", Err: err}
	}
	return &Signer{
		issuerID: issuerID,
		keyID:    keyID,
		key:      key,
		now:      time.Now,
	}, nil
}

// Token returns a signed token, reusing the cached one while it has more
// than the safety margin left before expiry.
func (s *Signer) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expiry.Add(-expiryMargin)) {
		return s.token, nil
	}

	expiry := now.Add(tokenValidity)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuerID,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", &CredentialError{Reason: "failed to sign token", Err: err}
	}

	s.token = signed
	s.expiry = expiry
	return signed, nil
}
