package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"tangent/internal/domain"
)

// TokenVerifier validates an access token and yields the account it was
// issued to. Token minting and password handling live with the identity
// service; this side only verifies.
type TokenVerifier interface {
	Verify(token string) (accountID string, err error)
}

// HMACVerifier verifies HS256 tokens signed with the shared secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the given shared secret.
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

var _ TokenVerifier = (*HMACVerifier)(nil)

// Verify parses and validates the token and returns its subject.
func (v *HMACVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", domain.ErrUnauthorized
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", domain.ErrUnauthorized
	}
	return subject, nil
}
