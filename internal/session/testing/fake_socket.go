// Package testing provides test doubles for the session package.
package testing

import (
	"context"
	"errors"
	"sync"

	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/session"
)

// ErrSocketClosed is returned by writes on an ended FakeSocket.
var ErrSocketClosed = errors.New("fake socket: closed")

type message struct {
	binary bool
	data   []byte
}

// FakeSocket is an in-memory session.Socket. Tests push inbound messages and
// end the connection from the "server" side; everything the session writes
// is recorded.
type FakeSocket struct {
	inbox chan message
	ended chan struct{}
	once  sync.Once

	mu            sync.Mutex
	endErr        error
	writes        [][]byte
	closeCode     int
	closedLocally bool

	// WriteErr, when set, fails every write.
	WriteErr error
}

// NewFakeSocket creates an open socket.
func NewFakeSocket() *FakeSocket {
	return &FakeSocket{
		inbox: make(chan message, 256),
		ended: make(chan struct{}),
	}
}

// Read implements session.Socket. Messages pushed before the socket ended are
// delivered before the end is reported.
func (s *FakeSocket) Read(ctx context.Context) (bool, []byte, error) {
	select {
	case msg := <-s.inbox:
		return msg.binary, msg.data, nil
	case <-s.ended:
		select {
		case msg := <-s.inbox:
			return msg.binary, msg.data, nil
		default:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return false, nil, s.endErr
	case <-ctx.Done():
		return false, nil, ctx.Err()
	}
}

// Write implements session.Socket.
func (s *FakeSocket) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isEnded() {
		return ErrSocketClosed
	}
	if s.WriteErr != nil {
		return s.WriteErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.writes = append(s.writes, buf)
	return nil
}

// Close implements session.Socket.
func (s *FakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if !s.closedLocally && !s.isEnded() {
		s.closedLocally = true
		s.closeCode = code
	}
	s.mu.Unlock()
	s.end(&session.CloseError{Code: code, Reason: reason})
	return nil
}

// CloseNow implements session.Socket.
func (s *FakeSocket) CloseNow() error {
	s.mu.Lock()
	if !s.closedLocally && !s.isEnded() {
		s.closedLocally = true
		s.closeCode = session.CloseAbnormal
	}
	s.mu.Unlock()
	s.end(&session.CloseError{Code: session.CloseAbnormal})
	return nil
}

// PushText queues an inbound text message.
func (s *FakeSocket) PushText(text string) {
	s.inbox <- message{data: []byte(text)}
}

// PushBinary queues an inbound binary message.
func (s *FakeSocket) PushBinary(data []byte) {
	s.inbox <- message{binary: true, data: data}
}

// PushFrame encodes f and queues it as a text message.
func (s *FakeSocket) PushFrame(f frame.Frame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	s.inbox <- message{data: data}
	return nil
}

// RemoteClose ends the socket as if the server sent a close frame.
func (s *FakeSocket) RemoteClose(code int, reason string) {
	s.end(&session.CloseError{Code: code, Reason: reason})
}

// Drop ends the socket without a close frame, as a network failure would.
func (s *FakeSocket) Drop(err error) {
	if err == nil {
		err = errors.New("fake socket: connection reset")
	}
	s.end(err)
}

// Writes returns copies of every message written.
func (s *FakeSocket) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// WrittenFrames decodes every message written.
func (s *FakeSocket) WrittenFrames() []frame.Frame {
	writes := s.Writes()
	out := make([]frame.Frame, 0, len(writes))
	for _, w := range writes {
		out = append(out, frame.Decode(w))
	}
	return out
}

// IsClosed reports whether the socket has ended for any reason.
func (s *FakeSocket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isEnded()
}

// ClosedLocally reports whether the session closed the socket, and with
// which code. CloseNow records CloseAbnormal.
func (s *FakeSocket) ClosedLocally() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedLocally, s.closeCode
}

// Done is closed when the socket ends.
func (s *FakeSocket) Done() <-chan struct{} {
	return s.ended
}

func (s *FakeSocket) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.endErr = err
		s.mu.Unlock()
		close(s.ended)
	})
}

// isEnded is safe with or without s.mu held.
func (s *FakeSocket) isEnded() bool {
	select {
	case <-s.ended:
		return true
	default:
		return false
	}
}
