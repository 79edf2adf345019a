// Package auth supplies the bearer tokens attached to each connection attempt.
// Token acquisition itself belongs to the REST backend; this package only
// defines the seam and a few small sources.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized means the credentials were rejected. Retrying with the same
// credentials will not help.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoToken means no credentials are configured.
var ErrNoToken = errors.New("no API token configured")

// TokenSource yields the token for one connection attempt.
// Sessions call Token once per attempt and never cache the result.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticTokenSource returns a fixed token. If the token is a JWT whose exp
// claim has passed, it reports ErrUnauthorized instead of handing out a token
// the server will refuse.
type StaticTokenSource struct {
	Value string
	// Now is used for expiry checks; defaults to time.Now.
	Now func() time.Time
}

// Static creates a StaticTokenSource for token.
func Static(token string) *StaticTokenSource {
	return &StaticTokenSource{Value: token}
}

// Token implements TokenSource.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token := strings.TrimSpace(s.Value)
	if token == "" {
		return "", ErrNoToken
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if exp, ok := ExpiresAt(token); ok && !now().Before(exp) {
		return "", fmt.Errorf("%w: token expired at %s", ErrUnauthorized, exp.Format(time.RFC3339))
	}
	return token, nil
}

// ExpiresAt reads the exp claim from a JWT without verifying its signature.
// ok is false for opaque tokens and JWTs without exp.
func ExpiresAt(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsUnauthorized reports whether err carries ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
