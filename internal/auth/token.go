// Package auth verifies the credential presented during the WebSocket
// handshake. Token issuance lives in the account service; this side only
// validates and extracts the user identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Authenticator turns a handshake credential into a user identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (uuid.UUID, error)
}

// ErrInvalidToken is returned for credentials that fail validation for any
// reason: bad signature, expired, or malformed claims.
var ErrInvalidToken = errors.New("invalid access token")

// Claims is the JWT claim set carried by access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenAuthenticator validates HS256-signed access tokens.
type TokenAuthenticator struct {
	secret []byte
}

// NewTokenAuthenticator creates an authenticator over a shared signing
// secret.
func NewTokenAuthenticator(secret []byte) *TokenAuthenticator {
	return &TokenAuthenticator{secret: secret}
}

// Authenticate validates the token's signature and expiry and returns the
// user id it was issued for.
func (a *TokenAuthenticator) Authenticate(_ context.Context, credential string) (uuid.UUID, error) {
	if credential == "" {
		return uuid.Nil, fmt.Errorf("%w: no token provided", ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad user id claim", ErrInvalidToken)
	}
	return userID, nil
}

// GenerateToken mints a signed token for userID. Used by tests and local
// tooling; production tokens come from the account service.
func (a *TokenAuthenticator) GenerateToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "huddle",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
