package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/muesli/cancelreader"
	"golang.org/x/term"
)

// DetachKey ends an interactive session without sending anything to the
// remote shell (Ctrl-]).
const DetachKey = 0x1d

// ErrDetached is returned by TTY.Run when the user pressed DetachKey.
var ErrDetached = errors.New("detached")

const readBufSize = 32 * 1024

// TTY is a Renderer backed by the local terminal. Run puts the terminal in
// raw mode and pumps keystrokes until the context ends, input reaches EOF,
// or the user detaches.
type TTY struct {
	in  io.Reader
	out io.Writer
	fd  int

	mu       sync.Mutex
	outMu    sync.Mutex
	onData   []func([]byte)
	onResize []func(cols, rows int)
}

// NewTTY builds a renderer over the process's stdin and stdout.
func NewTTY() *TTY {
	return NewTTYWith(os.Stdin, os.Stdout, int(os.Stdin.Fd()))
}

// NewTTYWith builds a renderer over arbitrary streams. fd is the descriptor
// used for raw mode and size queries; pass -1 when there is none.
func NewTTYWith(in io.Reader, out io.Writer, fd int) *TTY {
	return &TTY{in: in, out: out, fd: fd}
}

// Write displays remote output.
func (t *TTY) Write(p []byte) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	_, _ = t.out.Write(p)
}

// OnData registers a keystroke handler.
func (t *TTY) OnData(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onData = append(t.onData, fn)
}

// OnResize registers a viewport size handler.
func (t *TTY) OnResize(fn func(cols, rows int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onResize = append(t.onResize, fn)
}

// IsTerminal reports whether the input descriptor is an interactive terminal.
func (t *TTY) IsTerminal() bool {
	return t.fd >= 0 && term.IsTerminal(t.fd)
}

// Run blocks until ctx is done, input ends, or DetachKey is read. It returns
// ErrDetached for a detach, nil for EOF, and ctx.Err() on cancellation.
func (t *TTY) Run(ctx context.Context) error {
	if t.IsTerminal() {
		state, err := term.MakeRaw(t.fd)
		if err != nil {
			return err
		}
		defer func() { _ = term.Restore(t.fd, state) }()
	}

	t.ReportSize()
	stop := watchResize(t.ReportSize)
	defer stop()

	// A cancelable reader lets the pump goroutine exit with Run instead of
	// staying parked on stdin. Readers that cannot be interrupted still stop
	// emitting once Run has returned.
	in := t.in
	if cr, err := cancelreader.NewReader(t.in); err == nil {
		defer cr.Close()
		defer cr.Cancel()
		in = cr
	}

	var stopped atomic.Bool
	defer stopped.Store(true)

	done := make(chan error, 1)
	go func() { done <- t.pump(in, &stopped) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// ReportSize queries the terminal size and notifies resize handlers.
func (t *TTY) ReportSize() {
	if !t.IsTerminal() {
		return
	}
	cols, rows, err := term.GetSize(t.fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	t.mu.Lock()
	fns := append([]func(int, int){}, t.onResize...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(cols, rows)
	}
}

func (t *TTY) pump(in io.Reader, stopped *atomic.Bool) error {
	buf := make([]byte, readBufSize)
	for {
		n, err := in.Read(buf)
		if stopped.Load() {
			return nil
		}
		if n > 0 {
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, DetachKey); i >= 0 {
				t.emit(chunk[:i])
				return ErrDetached
			}
			t.emit(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, cancelreader.ErrCanceled) {
				return nil
			}
			return err
		}
	}
}

func (t *TTY) emit(p []byte) {
	if len(p) == 0 {
		return
	}
	data := append([]byte(nil), p...)
	t.mu.Lock()
	fns := append([]func([]byte){}, t.onData...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}
