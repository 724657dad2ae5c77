// Package auth validates the credential tokens presented by clients after a
// socket is established and on history API requests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers malformed, expired, and badly-signed credentials.
var ErrInvalidToken = errors.New("invalid credential token")

// Verifier resolves a credential token to an owner identity.
type Verifier interface {
	Verify(token string) (uuid.UUID, error)
}

// JWTVerifier validates HS256 tokens whose subject is the owner UUID.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier around the shared signing secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

// Verify parses the token and returns the owner UUID from its subject claim.
func (v *JWTVerifier) Verify(token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(
		token,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return v.secret, nil
		},
	)
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	ownerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return ownerID, nil
}

// Sign issues a token for the owner, used by the simulator and tests. Token
// issuance for real clients belongs to the identity service, not this core.
func Sign(secret string, ownerID uuid.UUID, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   ownerID.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
