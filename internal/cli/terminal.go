package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/gpuctl/internal/errors"
	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/session"
	"github.com/rileyhilliard/gpuctl/internal/terminal"
	"github.com/rileyhilliard/gpuctl/internal/ui"
)

// terminalCommand attaches the local terminal to a deployment shell until the
// user detaches, input ends, or the process is signalled.
func terminalCommand(ctx context.Context, deployment string) error {
	cfg := loadedConfig
	log := newLogger(cfg, "terminal")

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	if a.metrics, err = serveMetrics(ctx, metricsAddr, log); err != nil {
		return err
	}

	tty := terminal.NewTTY()
	if !tty.IsTerminal() {
		return errors.New(errors.ErrConfig,
			"gpuctl terminal needs an interactive terminal",
			"Run it directly in a terminal, not through a pipe")
	}

	title, err := a.describe(ctx, deployment)
	if err != nil {
		return err
	}

	sess, err := a.newSession(deployment, session.ChannelTerminal)
	if err != nil {
		return err
	}

	adapter := terminal.New(sess, terminal.Options{Renderer: tty, Logger: log})
	defer adapter.Close()

	notices := newNoticePrinter(os.Stderr)
	adapter.OnStatus(notices.status)
	adapter.OnError(notices.serverError)

	// Enter restarts a session that gave up or was closed.
	tty.OnData(func(p []byte) {
		if canRestart(adapter.State()) && bytes.ContainsAny(p, "\r\n") {
			adapter.Reconnect()
		}
	})

	notices.line(fmt.Sprintf("%s %s (detach with Ctrl-])", ui.SymbolPending, title))
	adapter.Connect()

	runErr := tty.Run(ctx)
	final := adapter.State()
	adapter.Disconnect()

	switch {
	case errors.Is(runErr, terminal.ErrDetached):
		fmt.Fprintln(os.Stderr, "\ndetached from "+title)
		return exitStatus(final)
	case runErr == nil, ctx.Err() != nil:
		return exitStatus(final)
	default:
		return errors.WrapWithCode(runErr, errors.ErrSession,
			"Terminal input failed",
			"Check that stdin is a terminal")
	}
}

// canRestart reports whether a session is stopped and waiting for the user.
func canRestart(s session.State) bool {
	return s == session.StateFailed || s == session.StateClosedByUser
}

// exitFailed is the exit status when the user leaves a failed session.
const exitFailed = 2

// exitStatus maps the state a session was left in to the command's result.
func exitStatus(s session.State) error {
	if s == session.StateFailed {
		return errors.NewExitError(exitFailed)
	}
	return nil
}

// noticePrinter writes session status changes between lines of remote output.
// The terminal is in raw mode, so lines end in \r\n.
type noticePrinter struct {
	w   io.Writer
	now func() time.Time

	mu      sync.Mutex
	state   session.State
	attempt int
	printed bool
}

func newNoticePrinter(w io.Writer) *noticePrinter {
	return &noticePrinter{w: w, now: time.Now}
}

// status prints a line when the state or attempt changes.
func (p *noticePrinter) status(st session.Status) {
	p.mu.Lock()
	if p.printed && st.State == p.state && st.Attempt == p.attempt {
		p.mu.Unlock()
		return
	}
	p.printed = true
	p.state, p.attempt = st.State, st.Attempt
	p.mu.Unlock()

	style := lipgloss.NewStyle().Foreground(ui.StateColor(st.State))
	text := ui.StateSymbol(st.State) + " " + ui.StatusLine(st, p.now())
	switch st.State {
	case session.StateFailed, session.StateClosedByUser:
		text += " (Enter to reconnect, Ctrl-] to quit)"
	}
	p.line(style.Render(text))
}

func (p *noticePrinter) serverError(e frame.Error) {
	msg := e.Message
	if msg == "" {
		msg = "server reported an error"
	}
	style := lipgloss.NewStyle().Foreground(ui.ColorError)
	p.line(style.Render(fmt.Sprintf("%s %s: %s", ui.SymbolFail, e.Type, msg)))
}

func (p *noticePrinter) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\r\n%s\r\n", s)
}
