package session

import (
	"time"

	"github.com/rileyhilliard/gpuctl/internal/frame"
)

// Default tuning values.
const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 1 * time.Second
	DefaultCapDelay     = 5 * time.Second
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultReadLimit    = 1 << 20
)

// Options tunes reconnection and I/O. Zero fields take the defaults.
type Options struct {
	// MaxAttempts is how many automatic reconnects run before the session
	// gives up and enters StateFailed.
	MaxAttempts int
	// BaseDelay and CapDelay shape the exponential backoff.
	BaseDelay time.Duration
	CapDelay  time.Duration
	// DialTimeout bounds token acquisition plus the WebSocket handshake.
	DialTimeout time.Duration
	// WriteTimeout bounds a single Send.
	WriteTimeout time.Duration
	// ReadLimit caps one inbound message, in bytes.
	ReadLimit int64
	// TokenInQuery also passes the token as a "token" query parameter, for
	// backends that cannot read headers on upgrade.
	TokenInQuery bool
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		CapDelay:     DefaultCapDelay,
		DialTimeout:  DefaultDialTimeout,
		WriteTimeout: DefaultWriteTimeout,
		ReadLimit:    DefaultReadLimit,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.CapDelay <= 0 {
		o.CapDelay = d.CapDelay
	}
	if o.CapDelay < o.BaseDelay {
		o.CapDelay = o.BaseDelay
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	return o
}

// Status is a point-in-time view of a session for status badges.
type Status struct {
	ID          string
	Target      string
	Channel     Channel
	State       State
	Attempt     int
	MaxAttempts int
	// NextRetryAt is set while reconnecting.
	NextRetryAt time.Time
	// LastError is the most recent channel-reported error, or a synthesized
	// auth error when the handshake or token source rejected the session.
	LastError *frame.Error
	// LastMessage is the message of the most recent connected frame.
	LastMessage string
	// Reason describes the last transport failure.
	Reason string
	// LastTransition is when the state last changed, or when the Manager was
	// created if it never has.
	LastTransition time.Time
	// TransitionReason explains the last state change.
	TransitionReason string
}

// RetryIn returns the time left before the next reconnect attempt.
func (s Status) RetryIn(now time.Time) time.Duration {
	if s.State != StateReconnecting || s.NextRetryAt.IsZero() {
		return 0
	}
	if d := s.NextRetryAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
