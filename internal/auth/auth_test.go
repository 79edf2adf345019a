package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp *time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "operator"}
	if exp != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestExpiresAt(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	got, ok := ExpiresAt(signedToken(t, &exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = ExpiresAt(signedToken(t, nil))
	assert.False(t, ok, "jwt without exp")

	_, ok = ExpiresAt("opaque-api-key")
	assert.False(t, ok, "opaque token")
}

func TestStaticTokenSource(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	tests := []struct {
		name      string
		token     string
		wantErr   error
		wantToken string
	}{
		{"opaque token passes through", "sk-123", nil, "sk-123"},
		{"surrounding whitespace trimmed", "  sk-123\n", nil, "sk-123"},
		{"empty token", "", ErrNoToken, ""},
		{"live jwt", signedToken(t, &future), nil, ""},
		{"expired jwt", signedToken(t, &past), ErrUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &StaticTokenSource{Value: tt.token, Now: func() time.Time { return now }}
			got, err := src.Token(context.Background())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			if tt.wantToken != "" {
				assert.Equal(t, tt.wantToken, got)
			} else {
				assert.NotEmpty(t, got)
			}
		})
	}
}

func TestStaticTokenSource_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Static("sk-123").Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenFunc(t *testing.T) {
	calls := 0
	var src TokenSource = TokenFunc(func(ctx context.Context) (string, error) {
		calls++
		return "fresh", nil
	})

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, 1, calls)
}

func TestIsUnauthorized(t *testing.T) {
	assert.True(t, IsUnauthorized(ErrUnauthorized))
	assert.False(t, IsUnauthorized(ErrNoToken))
	assert.False(t, IsUnauthorized(nil))
}
