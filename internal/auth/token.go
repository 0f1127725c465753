// ABOUTME: Bearer token inspection for the connect handshake and REST calls
// ABOUTME: Reads JWT claims without verification to reject expired tokens early

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims holds the token claims the client cares about.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Expired reports whether the claims carry an expiry at or before now.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Inspect decodes a JWT's claims without verifying its signature. The
// client has no key; the server remains the authority on validity.
func Inspect(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	out := &Claims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	} else if strings.Contains(out.Subject, "@") {
		out.Email = out.Subject
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}

	return out, nil
}

// CheckUsable reports whether a token is worth presenting to the server.
// Empty and expired tokens fail; tokens that are not JWTs pass, since the
// server may issue opaque tokens.
func CheckUsable(tokenString string, now time.Time) error {
	claims, err := Inspect(tokenString)
	if errors.Is(err, ErrMissingToken) {
		return err
	}
	if err != nil {
		return nil
	}
	if claims.Expired(now) {
		return fmt.Errorf("%w at %s", ErrExpiredToken, claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// BearerHeader formats the Authorization header value for a token.
func BearerHeader(tokenString string) string {
	return "Bearer " + tokenString
}
