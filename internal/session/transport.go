package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rileyhilliard/gpuctl/internal/auth"
)

// WebSocket close codes the session layer cares about.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Dialer opens sockets. The production implementation is WebSocketDialer.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

// Socket is one live message-oriented connection. Read blocks until a message
// arrives or the connection ends; when the peer closes, Read returns a
// *CloseError. Write may be called concurrently with Read.
type Socket interface {
	Read(ctx context.Context) (binary bool, data []byte, err error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
	CloseNow() error
}

// CloseError reports the close frame that ended a socket.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("socket closed with status %d", e.Code)
	}
	return fmt.Sprintf("socket closed with status %d: %s", e.Code, e.Reason)
}

// HandshakeError is an HTTP rejection of the WebSocket upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake rejected with HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("handshake rejected with HTTP %d", e.StatusCode)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is makes 401 and 403 handshakes match auth.ErrUnauthorized.
func (e *HandshakeError) Is(target error) bool {
	return target == auth.ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// IsCleanClose reports whether err is a normal-closure close frame. Every
// other way a socket can end is unclean.
func IsCleanClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == CloseNormal
}
