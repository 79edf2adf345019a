package monitor

import (
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/session"
	"github.com/rileyhilliard/gpuctl/internal/telemetry"
)

func init() {
	// Plain output so assertions can compare text.
	lipgloss.SetColorProfile(termenv.Ascii)
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSource is an in-memory Source.
type fakeSource struct {
	mu         sync.Mutex
	status     session.Status
	history    *telemetry.History
	reconnects int
	onSample   []func(frame.MetricsSample)
	onStatus   []func(session.Status)
	onError    []func(frame.Error)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		status:  session.Status{Target: "dep-1", State: session.StateIdle, MaxAttempts: 3},
		history: telemetry.NewHistory(5),
	}
}

func (s *fakeSource) Status() session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSource) Latest() (frame.MetricsSample, bool) { return s.history.Latest() }
func (s *fakeSource) Series(f frame.Field) []float64      { return s.history.Series(f) }
func (s *fakeSource) Capacity() int                       { return s.history.Cap() }
func (s *fakeSource) Len() int                            { return s.history.Len() }

func (s *fakeSource) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	s.status.State = session.StateConnecting
	s.status.Attempt = 0
}

func (s *fakeSource) OnSample(fn func(frame.MetricsSample)) { s.onSample = append(s.onSample, fn) }
func (s *fakeSource) OnStatus(fn func(session.Status))      { s.onStatus = append(s.onStatus, fn) }
func (s *fakeSource) OnError(fn func(frame.Error))          { s.onError = append(s.onError, fn) }

func (s *fakeSource) setStatus(st session.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	for _, fn := range s.onStatus {
		fn(st)
	}
}

func (s *fakeSource) push(sample frame.MetricsSample) {
	s.history.Push(sample)
	for _, fn := range s.onSample {
		fn(sample)
	}
}

func (s *fakeSource) fail(e frame.Error) {
	for _, fn := range s.onError {
		fn(e)
	}
}

// pump applies the pending update signal, as the Bubble Tea loop would.
func pump(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.waitForUpdate()()
	require.IsType(t, updateMsg{}, msg)
	next, _ := m.Update(msg)
	return next.(Model)
}

func key(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	if s == "esc" {
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_WaitsForTelemetry(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, "llama-70b")

	view := m.View()
	assert.Contains(t, view, "gpuctl monitor llama-70b")
	assert.Contains(t, view, "waiting for telemetry")
	assert.Contains(t, view, "idle")
}

func TestModel_ShowsLatestAndAbsent(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, "dep-1")

	src.setStatus(session.Status{State: session.StateOpen, MaxAttempts: 3})
	src.push(frame.MetricsSample{
		Timestamp:      epoch,
		GPUUtilization: frame.Float(87.5),
		GPUMemoryUsed:  frame.Float(40000),
		GPUMemoryTotal: frame.Float(80000),
	})
	m = pump(t, m)

	view := m.View()
	assert.Contains(t, view, "● open")
	assert.Contains(t, view, "87.5%")
	assert.Contains(t, view, "40.0k / 80.0k (50.0%)")
	assert.Contains(t, view, "—", "unreported readings are not shown as zero")
	assert.NotContains(t, view, "press r")
	assert.Contains(t, view, "1 of 5 kept")
}

func TestModel_ReconnectingShowsAttemptAndCountdown(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, "dep-1")
	m.now = func() time.Time { return epoch }

	src.setStatus(session.Status{
		State:       session.StateReconnecting,
		Attempt:     2,
		MaxAttempts: 3,
		NextRetryAt: epoch.Add(2 * time.Second),
		Reason:      "connection reset by peer",
	})
	m = pump(t, m)

	view := m.View()
	assert.Contains(t, view, "reconnecting (attempt 2/3, retry in 2s): connection reset by peer")

	// The countdown advances on ticks without new events.
	m.now = func() time.Time { return epoch.Add(1200 * time.Millisecond) }
	next, cmd := m.Update(tickMsg(epoch))
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "retry in 1s")
}

func TestModel_ReconnectOnlyWhenStopped(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, "dep-1")

	src.setStatus(session.Status{State: session.StateReconnecting, Attempt: 1, MaxAttempts: 3})
	m = pump(t, m)
	next, _ := m.Update(key("r"))
	m = next.(Model)
	assert.Equal(t, 0, src.reconnects, "automatic retries are in charge")

	src.setStatus(session.Status{State: session.StateFailed, Attempt: 3, MaxAttempts: 3, Reason: "connection refused"})
	m = pump(t, m)
	view := m.View()
	assert.Contains(t, view, "failed after 3 attempts: connection refused")
	assert.Contains(t, view, "press r to reconnect")

	next, _ = m.Update(key("r"))
	m = next.(Model)
	assert.Equal(t, 1, src.reconnects)
	assert.Equal(t, session.StateConnecting, m.Status().State)
}

func TestModel_ErrorBanner(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, "dep-1")

	src.setStatus(session.Status{State: session.StateOpen})
	m = pump(t, m)

	src.fail(frame.Error{Message: "exporter down", Type: frame.ErrorUnreachable})
	m = pump(t, m)
	assert.Contains(t, m.View(), "unreachable: exporter down")

	// A fresh open clears the banner.
	src.setStatus(session.Status{State: session.StateOpen})
	m = pump(t, m)
	assert.NotContains(t, m.View(), "exporter down")
}

func TestModel_Keys(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, "dep-1")

	next, _ := m.Update(key("?"))
	m = next.(Model)
	assert.Contains(t, m.View(), "Keyboard Shortcuts")

	next, _ = m.Update(key("esc"))
	m = next.(Model)
	assert.NotContains(t, m.View(), "Keyboard Shortcuts")

	next, cmd := m.Update(key("q"))
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestModel_WindowSize(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, "dep-1")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 48, Height: 20})
	m = next.(Model)
	assert.Equal(t, 48-12-26-6, m.sparkWidth())

	next, _ = m.Update(tea.WindowSizeMsg{Width: 20, Height: 20})
	m = next.(Model)
	assert.Equal(t, 1, m.sparkWidth())

	next, _ = m.Update(tea.WindowSizeMsg{Width: 200, Height: 50})
	m = next.(Model)
	assert.Equal(t, 5, m.sparkWidth(), "never wider than the history")
}

func TestModel_UpdatesCoalesce(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, "dep-1")

	for i := 0; i < 10; i++ {
		src.push(frame.MetricsSample{Timestamp: epoch.Add(time.Duration(i) * time.Second), CPUPercent: frame.Float(float64(i))})
	}
	m = pump(t, m)
	assert.Contains(t, m.View(), "9.0%")

	select {
	case <-m.feed.updates:
		t.Fatal("a burst of callbacks leaves one pending update")
	default:
	}
}
