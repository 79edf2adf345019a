package session

import "time"

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateFailed
	StateClosedByUser
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosedByUser:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session stays put without user action.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosedByUser
}

// transitionBufferSize is the number of transitions kept for diagnostics.
const transitionBufferSize = 50

// Transition records a single state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// transitionLog is a fixed-size ring of recent transitions.
type transitionLog struct {
	entries [transitionBufferSize]Transition
	head    int // next write position
	count   int
}

func (l *transitionLog) record(t Transition) {
	l.entries[l.head] = t
	l.head = (l.head + 1) % transitionBufferSize
	if l.count < transitionBufferSize {
		l.count++
	}
}

// history returns transitions oldest first.
func (l *transitionLog) history() []Transition {
	if l.count == 0 {
		return nil
	}
	result := make([]Transition, l.count)
	if l.count < transitionBufferSize {
		copy(result, l.entries[:l.count])
	} else {
		n := copy(result, l.entries[l.head:])
		copy(result[n:], l.entries[:l.head])
	}
	return result
}

func (l *transitionLog) last() (Transition, bool) {
	if l.count == 0 {
		return Transition{}, false
	}
	idx := (l.head - 1 + transitionBufferSize) % transitionBufferSize
	return l.entries[idx], true
}
