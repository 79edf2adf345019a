// Package terminal bridges a terminal-channel session to an interactive
// character stream. It knows nothing about any particular terminal widget:
// callers inject a Renderer, or subscribe to the adapter directly.
package terminal

import (
	"sync"

	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/logger"
	"github.com/rileyhilliard/gpuctl/internal/session"
)

// Session is the part of *session.Manager the adapter drives.
type Session interface {
	Connect()
	Reconnect()
	Disconnect()
	Close()
	Send(f frame.Frame) bool
	State() session.State
	Status() session.Status
	OnFrame(fn func(frame.Frame)) func()
	OnStateChange(fn func(from, to session.State)) func()
	OnStatus(fn func(session.Status)) func()
}

// Renderer is the capability a terminal widget provides: it displays bytes,
// reports user input, and reports viewport size changes.
type Renderer interface {
	Write(p []byte)
	OnData(fn func(p []byte))
	OnResize(fn func(cols, rows int))
}

// Options configures an Adapter.
type Options struct {
	// Renderer, if set, is wired both ways: its input and resizes go to the
	// session and session output is written to it.
	Renderer Renderer
	Logger   logger.Logger
}

// Adapter turns keystrokes and resizes into frames and frames back into
// screen bytes, status changes and error notices.
type Adapter struct {
	sess Session
	log  logger.Logger

	mu        sync.Mutex
	closed    bool
	cols      int
	rows      int
	output    []func([]byte)
	status    []func(session.Status)
	errs      []func(frame.Error)
	connected []func()
	unsubs    []func()
}

// New attaches an adapter to sess. The adapter owns sess from here on and
// closes it in Close.
func New(sess Session, opts Options) *Adapter {
	a := &Adapter{sess: sess, log: opts.Logger}
	if a.log == nil {
		a.log = logger.Default()
	}

	a.unsubs = append(a.unsubs,
		sess.OnFrame(a.handleFrame),
		sess.OnStateChange(a.handleStateChange),
		sess.OnStatus(a.handleStatus),
	)

	if r := opts.Renderer; r != nil {
		r.OnData(func(p []byte) { a.Write(p) })
		r.OnResize(func(cols, rows int) { a.Resize(cols, rows) })
		a.OnOutput(r.Write)
	}
	return a
}

// Connect starts the session.
func (a *Adapter) Connect() { a.sess.Connect() }

// Reconnect retries immediately with a fresh attempt budget.
func (a *Adapter) Reconnect() { a.sess.Reconnect() }

// Disconnect closes the connection without tearing the adapter down.
func (a *Adapter) Disconnect() { a.sess.Disconnect() }

// State returns the session state.
func (a *Adapter) State() session.State { return a.sess.State() }

// Status returns the session status snapshot.
func (a *Adapter) Status() session.Status { return a.sess.Status() }

// Write sends keystrokes or pasted text as one input frame, unbuffered.
// It returns false when the session is not open; the bytes are then lost.
func (a *Adapter) Write(p []byte) bool {
	if len(p) == 0 || a.isClosed() {
		return false
	}
	data := make([]byte, len(p))
	copy(data, p)
	return a.sess.Send(frame.Input{Data: data})
}

// Resize records the viewport size and sends it. The size is re-sent every
// time the session (re)opens, since a fresh remote PTY starts unsized.
func (a *Adapter) Resize(cols, rows int) bool {
	if cols <= 0 || rows <= 0 {
		return false
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.cols, a.rows = cols, rows
	a.mu.Unlock()
	return a.sess.Send(frame.Resize{Cols: cols, Rows: rows})
}

// Size returns the last requested viewport size.
func (a *Adapter) Size() (cols, rows int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cols, a.rows
}

// OnOutput subscribes to screen bytes, including unframed payloads.
func (a *Adapter) OnOutput(fn func([]byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output = append(a.output, fn)
}

// OnStatus subscribes to session status changes.
func (a *Adapter) OnStatus(fn func(session.Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = append(a.status, fn)
}

// OnError subscribes to channel-reported errors, forwarded verbatim.
func (a *Adapter) OnError(fn func(frame.Error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, fn)
}

// OnConnected subscribes to the adapter's own connected notification, emitted
// exactly once each time the session enters Open. Server connected frames do
// not trigger it.
func (a *Adapter) OnConnected(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = append(a.connected, fn)
}

// Close detaches every subscriber and closes the session. After Close the
// adapter emits nothing. Close is idempotent.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	unsubs := a.unsubs
	a.unsubs = nil
	a.output, a.status, a.errs, a.connected = nil, nil, nil, nil
	a.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	a.sess.Close()
}

func (a *Adapter) handleFrame(f frame.Frame) {
	switch v := f.(type) {
	case frame.Output:
		a.emitOutput(v.Data)
	case frame.Raw:
		a.emitOutput(v.Data)
	case frame.Unknown:
		a.log.Debug("terminal: passing through unrecognized frame type %q", v.Type)
		a.emitOutput(v.Text)
	case frame.Error:
		if len(v.Details) > 0 {
			a.log.Debug("terminal: %s error details: %v", v.Type, v.Details)
		}
		a.mu.Lock()
		subs := append([]func(frame.Error){}, a.errs...)
		a.mu.Unlock()
		for _, fn := range subs {
			fn(v)
		}
	case frame.Connected:
		a.log.Debug("terminal: server says %q", v.Message)
	default:
		a.log.Debug("terminal: ignoring %s frame", f.Kind())
	}
}

func (a *Adapter) handleStateChange(from, to session.State) {
	if to != session.StateOpen {
		return
	}

	a.mu.Lock()
	cols, rows := a.cols, a.rows
	subs := append([]func(){}, a.connected...)
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}

	if cols > 0 && rows > 0 {
		a.sess.Send(frame.Resize{Cols: cols, Rows: rows})
	}
	for _, fn := range subs {
		fn()
	}
}

func (a *Adapter) handleStatus(s session.Status) {
	a.mu.Lock()
	subs := append([]func(session.Status){}, a.status...)
	a.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (a *Adapter) emitOutput(p []byte) {
	if len(p) == 0 {
		return
	}
	a.mu.Lock()
	subs := append([]func([]byte){}, a.output...)
	a.mu.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
