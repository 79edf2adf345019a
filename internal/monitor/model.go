package monitor

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/session"
	"github.com/rileyhilliard/gpuctl/internal/ui"
)

// Source is what the dashboard watches. *telemetry.Stream satisfies it.
type Source interface {
	Status() session.Status
	Latest() (frame.MetricsSample, bool)
	Series(f frame.Field) []float64
	Capacity() int
	Len() int
	Reconnect()
	OnSample(fn func(frame.MetricsSample))
	OnStatus(fn func(session.Status))
	OnError(fn func(frame.Error))
}

// tickInterval drives the retry countdown.
const tickInterval = time.Second

// updateMsg signals that the source has something new.
type updateMsg struct{}

// tickMsg is the periodic clock tick.
type tickMsg time.Time

// feed carries source callbacks over to the Bubble Tea loop.
type feed struct {
	updates chan struct{}

	mu      sync.Mutex
	lastErr *frame.Error
}

func (f *feed) notify() {
	select {
	case f.updates <- struct{}{}:
	default:
	}
}

func (f *feed) setError(e frame.Error) {
	f.mu.Lock()
	f.lastErr = &e
	f.mu.Unlock()
	f.notify()
}

func (f *feed) clearError() {
	f.mu.Lock()
	f.lastErr = nil
	f.mu.Unlock()
}

func (f *feed) errorNotice() *frame.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Model is the Bubble Tea model for the telemetry dashboard.
type Model struct {
	src   Source
	title string
	feed  *feed
	now   func() time.Time

	status    session.Status
	latest    frame.MetricsSample
	hasSample bool
	notice    *frame.Error

	spinner  spinner.Model
	width    int
	height   int
	showHelp bool
	quitting bool
}

// NewModel builds a dashboard over src. title names the deployment.
func NewModel(src Source, title string) Model {
	f := &feed{updates: make(chan struct{}, 1)}
	src.OnSample(func(frame.MetricsSample) { f.notify() })
	src.OnStatus(func(s session.Status) {
		if s.State == session.StateOpen {
			f.clearError()
		}
		f.notify()
	})
	src.OnError(f.setError)

	m := Model{
		src:     src,
		title:   title,
		feed:    f,
		now:     time.Now,
		spinner: ui.NewSpinner(),
	}
	m.refresh()
	return m
}

// Init starts listening for source updates and the clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.tickCmd(), m.spinner.Tick)
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if handled, cmd := m.HandleKeyMsg(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case updateMsg:
		m.refresh()
		return m, m.waitForUpdate()

	case tickMsg:
		m.refresh()
		return m, m.tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}
	return m.renderDashboard()
}

// Status returns the last session status the model read.
func (m Model) Status() session.Status { return m.status }

// refresh re-reads everything the view needs from the source.
func (m *Model) refresh() {
	m.status = m.src.Status()
	m.latest, m.hasSample = m.src.Latest()
	m.notice = m.feed.errorNotice()
}

// waitForUpdate blocks until the source signals, then delivers updateMsg.
func (m Model) waitForUpdate() tea.Cmd {
	updates := m.feed.updates
	return func() tea.Msg {
		<-updates
		return updateMsg{}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// canReconnect reports whether r should restart the session. Automatic
// retries own the Connecting and Reconnecting states.
func (m Model) canReconnect() bool {
	switch m.status.State {
	case session.StateFailed, session.StateClosedByUser, session.StateIdle:
		return true
	default:
		return false
	}
}
