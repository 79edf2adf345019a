// Package session owns the lifecycle of one streaming socket per
// (deployment, channel) pair: connecting, classifying closes, backing off,
// reconnecting, and fanning decoded frames out to subscribers.
//
// All state lives behind one mutex. Socket reads, dials and backoff timers run
// on their own goroutines and report back tagged with a generation number;
// anything tagged with a superseded generation is dropped, and a socket that
// arrives late is closed on the spot. Subscriber callbacks are delivered in
// order by a single dispatcher goroutine and never while the mutex is held,
// so callbacks may call back into the Manager.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rileyhilliard/gpuctl/internal/auth"
	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/logger"
)

// Config wires a Manager to its collaborators. Only APIBase (or URL) is
// required.
type Config struct {
	// APIBase is the REST API base URL the socket URL is derived from.
	APIBase string
	// URL overrides the derived socket URL.
	URL     string
	Tokens  auth.TokenSource
	Dialer  Dialer
	Clock   Clock
	Logger  logger.Logger
	Metrics *Metrics
	Options Options
}

// liveSocket is a socket plus the cancel func of its read loop.
type liveSocket struct {
	sock   Socket
	cancel context.CancelFunc
}

func (l *liveSocket) closeNow() {
	l.cancel()
	_ = l.sock.CloseNow()
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventState
	eventStatus
)

type event struct {
	kind   eventKind
	frame  frame.Frame
	from   State
	to     State
	status Status
}

type listener struct {
	id       int
	onFrame  func(frame.Frame)
	onState  func(from, to State)
	onStatus func(Status)
}

// Manager runs the session state machine for one channel of one deployment.
// Close must be called to release it.
type Manager struct {
	id      string
	target  string
	channel Channel
	url     string
	opts    Options
	tokens  auth.TokenSource
	dialer  Dialer
	clock   Clock
	log     logger.Logger
	metrics *Metrics

	mu          sync.Mutex
	state       State
	attempt     int
	gen         uint64
	live        *liveSocket
	dialCancel  context.CancelFunc
	timer       Timer
	nextRetryAt time.Time
	lastErr     *frame.Error
	lastMessage string
	reason      string
	channelErr  bool
	created     time.Time
	transitions transitionLog
	closed      bool

	writeMu sync.Mutex

	subMu     sync.Mutex
	nextSubID int
	listeners []listener

	qmu      sync.Mutex
	queue    []event
	wake     chan struct{}
	done     chan struct{}
	disposed atomic.Bool
	once     sync.Once
}

// New creates an idle Manager. Nothing is dialed until Connect.
func New(target string, ch Channel, cfg Config) (*Manager, error) {
	if !ch.Valid() {
		return nil, fmt.Errorf("unknown channel %q", ch)
	}
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("target id is empty")
	}

	endpoint := cfg.URL
	if endpoint == "" {
		var err error
		endpoint, err = Endpoint(cfg.APIBase, target, ch)
		if err != nil {
			return nil, err
		}
	}

	opts := cfg.Options.withDefaults()
	m := &Manager{
		id:      uuid.NewString(),
		target:  target,
		channel: ch,
		url:     endpoint,
		opts:    opts,
		tokens:  cfg.Tokens,
		dialer:  cfg.Dialer,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		state:   StateIdle,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if m.dialer == nil {
		m.dialer = &WebSocketDialer{ReadLimit: opts.ReadLimit}
	}
	if m.clock == nil {
		m.clock = RealClock()
	}
	if m.log == nil {
		m.log = logger.Default()
	}
	m.created = m.clock.Now()

	go m.dispatch()
	return m, nil
}

// ID returns the unique identifier of this Manager, used in logs.
func (m *Manager) ID() string { return m.id }

// Target returns the deployment ID.
func (m *Manager) Target() string { return m.target }

// Channel returns the channel this Manager serves.
func (m *Manager) Channel() Channel { return m.channel }

// URL returns the socket URL, without any token query parameter.
func (m *Manager) URL() string { return m.url }

// Options returns the effective tuning.
func (m *Manager) Options() Options { return m.opts }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot for status badges.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Transitions returns recent state changes, oldest first.
func (m *Manager) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions.history()
}

// OnFrame subscribes to every decoded inbound frame. The returned func
// unsubscribes.
func (m *Manager) OnFrame(fn func(frame.Frame)) func() {
	return m.subscribe(listener{onFrame: fn})
}

// OnStateChange subscribes to state transitions.
func (m *Manager) OnStateChange(fn func(from, to State)) func() {
	return m.subscribe(listener{onState: fn})
}

// OnStatus subscribes to status snapshots, emitted whenever any field of
// Status changes.
func (m *Manager) OnStatus(fn func(Status)) func() {
	return m.subscribe(listener{onStatus: fn})
}

// Connect starts connecting. It acts from Idle, Failed and ClosedByUser;
// in any other state a connection is already live or underway.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	switch m.state {
	case StateIdle, StateFailed, StateClosedByUser:
		m.attempt = 0
		m.startAttemptLocked("connect")
	}
}

// Reconnect abandons any pending retry or live socket, resets the attempt
// counter and connects afresh. This is the manual way out of StateFailed.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.attempt = 0
	m.lastErr = nil
	m.reason = ""
	m.startAttemptLocked("reconnect requested")
}

// Disconnect cancels any pending retry, closes the socket normally and moves
// to ClosedByUser.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed || m.state == StateClosedByUser {
		m.mu.Unlock()
		return
	}
	m.cancelTimerLocked()
	m.cancelDialLocked()
	live := m.detachLocked()
	m.gen++
	m.nextRetryAt = time.Time{}
	m.setStateLocked(StateClosedByUser, "disconnect requested")
	m.mu.Unlock()

	if live != nil {
		_ = live.sock.Close(CloseNormal, "client disconnect")
		live.cancel()
	}
}

// Close tears the Manager down: it cancels any retry timer and dial,
// force-closes the socket and stops all callbacks. No callback starts after
// Close returns. Close is idempotent.
func (m *Manager) Close() {
	m.once.Do(func() {
		m.disposed.Store(true)

		m.mu.Lock()
		m.closed = true
		m.cancelTimerLocked()
		m.cancelDialLocked()
		live := m.detachLocked()
		m.gen++
		m.nextRetryAt = time.Time{}
		if m.state != StateClosedByUser {
			from := m.state
			m.state = StateClosedByUser
			m.transitions.record(Transition{From: from, To: StateClosedByUser, Attempt: m.attempt, Timestamp: m.clock.Now(), Reason: "session closed"})
			m.metrics.transition(m.channel, from, StateClosedByUser)
		}
		m.mu.Unlock()

		close(m.done)
		if live != nil {
			live.closeNow()
		}
		m.log.Debug("session %s (%s/%s) closed", m.id, m.target, m.channel)
	})
}

// Send encodes f and writes it if the session is open. Otherwise the frame is
// dropped and Send returns false; nothing is queued.
func (m *Manager) Send(f frame.Frame) bool {
	m.mu.Lock()
	if m.closed || m.state != StateOpen || m.live == nil {
		m.mu.Unlock()
		m.metrics.dropped(m.channel)
		return false
	}
	live := m.live
	gen := m.gen
	m.mu.Unlock()

	data, err := frame.Encode(f)
	if err != nil {
		m.log.Warn("session %s: dropping unencodable %s frame: %v", m.id, kindOf(f), err)
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()
	if err := live.sock.Write(ctx, data); err != nil {
		m.log.Debug("session %s: write failed: %v", m.id, err)
		m.socketEnded(gen, err)
		return false
	}
	m.metrics.frame(m.channel, "out", string(f.Kind()))
	return true
}

func (m *Manager) startAttemptLocked(reason string) {
	m.cancelTimerLocked()
	m.cancelDialLocked()
	old := m.detachLocked()
	m.gen++
	gen := m.gen
	m.nextRetryAt = time.Time{}
	m.setStateLocked(StateConnecting, reason)

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	m.dialCancel = cancel
	go m.dial(ctx, cancel, gen, old)
}

// dial runs one connection attempt. The previous socket, if any, is fully
// closed before the new one is requested.
func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, old *liveSocket) {
	defer cancel()
	if old != nil {
		old.closeNow()
	}

	header := http.Header{}
	target := m.url
	if m.tokens != nil {
		token, err := m.tokens.Token(ctx)
		if err != nil {
			m.dialFailed(gen, fmt.Errorf("acquire token: %w", err))
			return
		}
		header.Set("Authorization", "Bearer "+token)
		if m.opts.TokenInQuery {
			target = withQueryParam(target, "token", token)
		}
	}

	m.log.Debug("session %s: dialing %s", m.id, m.url)
	sock, err := m.dialer.Dial(ctx, target, header)
	if err != nil {
		m.dialFailed(gen, err)
		return
	}
	m.opened(gen, sock)
}

func (m *Manager) opened(gen uint64, sock Socket) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		_ = sock.CloseNow()
		return
	}
	m.dialCancel = nil
	readCtx, cancel := context.WithCancel(context.Background())
	m.live = &liveSocket{sock: sock, cancel: cancel}
	m.attempt = 0
	m.reason = ""
	m.setStateLocked(StateOpen, "socket open")
	m.mu.Unlock()

	m.log.Info("session %s: %s channel open for %s", m.id, m.channel, m.target)
	go m.readLoop(readCtx, gen, sock)
}

func (m *Manager) dialFailed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || m.state != StateConnecting {
		return
	}
	m.dialCancel = nil
	m.log.Warn("session %s: connect failed: %v", m.id, err)
	m.retryOrFailLocked(err)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, sock Socket) {
	for {
		binary, data, err := sock.Read(ctx)
		if err != nil {
			m.socketEnded(gen, err)
			return
		}
		m.received(gen, frame.DecodeMessage(binary, data))
	}
}

func (m *Manager) received(gen uint64, f frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		return
	}

	m.metrics.frame(m.channel, "in", string(f.Kind()))
	switch v := f.(type) {
	case frame.Raw, frame.Unknown:
		m.metrics.fallback(m.channel, string(f.Kind()))
		m.enqueue(event{kind: eventFrame, frame: f})
	case frame.Connected:
		m.enqueue(event{kind: eventFrame, frame: f})
		m.lastMessage = v.Message
		m.enqueueStatusLocked()
	case frame.Error:
		e := v
		m.lastErr = &e
		m.enqueue(event{kind: eventFrame, frame: f})
		if !v.Type.Retryable() {
			m.log.Warn("session %s: %s error from server, not retrying: %s", m.id, v.Type, v.Message)
			live := m.detachLocked()
			m.gen++
			m.reason = v.Message
			m.setStateLocked(StateFailed, "non-retryable error: "+string(v.Type))
			if live != nil {
				go func() {
					_ = live.sock.Close(CloseNormal, "authentication failed")
					live.cancel()
				}()
			}
			return
		}
		if !v.Type.Known() {
			m.log.Debug("session %s: unlisted error type %q, treating as retryable", m.id, v.Type)
		}
		m.channelErr = true
		m.enqueueStatusLocked()
	default:
		m.enqueue(event{kind: eventFrame, frame: f})
	}
}

// socketEnded handles the end of the socket tagged gen, whether observed by
// the read loop or by a failed write.
func (m *Manager) socketEnded(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || m.state != StateOpen {
		return
	}
	live := m.detachLocked()
	m.gen++
	if live != nil {
		go live.closeNow()
	}

	if m.channelErr && IsCleanClose(err) {
		err = fmt.Errorf("server closed after reporting %s: %s", m.lastErr.Type, m.lastErr.Message)
	}
	m.channelErr = false

	if IsCleanClose(err) {
		m.log.Info("session %s: server closed the %s channel", m.id, m.channel)
		m.setStateLocked(StateClosedByUser, "closed cleanly by server")
		return
	}
	m.log.Warn("session %s: connection lost: %v", m.id, err)
	m.retryOrFailLocked(err)
}

// retryOrFailLocked decides between Reconnecting and Failed after an unclean
// end of a connection or connection attempt.
func (m *Manager) retryOrFailLocked(cause error) {
	m.reason = describe(cause)

	if errors.Is(cause, auth.ErrUnauthorized) {
		m.lastErr = &frame.Error{Message: m.reason, Type: frame.ErrorAuth}
		m.setStateLocked(StateFailed, "authentication rejected")
		return
	}

	if m.attempt >= m.opts.MaxAttempts {
		m.setStateLocked(StateFailed, fmt.Sprintf("gave up after %d attempts", m.attempt))
		return
	}

	m.attempt++
	delay := Backoff(m.attempt, m.opts.BaseDelay, m.opts.CapDelay)
	m.nextRetryAt = m.clock.Now().Add(delay)
	gen := m.gen
	m.timer = m.clock.AfterFunc(delay, func() { m.retryDue(gen) })
	m.metrics.reconnectScheduled(m.channel)
	m.log.Info("session %s: reconnecting in %s (attempt %d/%d)", m.id, delay, m.attempt, m.opts.MaxAttempts)
	m.setStateLocked(StateReconnecting, fmt.Sprintf("retry %d in %s", m.attempt, delay))
}

func (m *Manager) retryDue(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || m.state != StateReconnecting {
		return
	}
	m.timer = nil
	m.startAttemptLocked("backoff elapsed")
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) cancelDialLocked() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

func (m *Manager) detachLocked() *liveSocket {
	live := m.live
	m.live = nil
	return live
}

func (m *Manager) setStateLocked(to State, reason string) {
	from := m.state
	if from == to {
		m.enqueueStatusLocked()
		return
	}
	m.state = to
	m.transitions.record(Transition{
		From:      from,
		To:        to,
		Attempt:   m.attempt,
		Timestamp: m.clock.Now(),
		Reason:    reason,
	})
	m.metrics.transition(m.channel, from, to)
	m.log.Debug("session %s: %s -> %s (%s)", m.id, from, to, reason)

	m.enqueue(event{kind: eventState, from: from, to: to})
	m.enqueueStatusLocked()
}

func (m *Manager) statusLocked() Status {
	s := Status{
		ID:             m.id,
		Target:         m.target,
		Channel:        m.channel,
		State:          m.state,
		Attempt:        m.attempt,
		MaxAttempts:    m.opts.MaxAttempts,
		NextRetryAt:    m.nextRetryAt,
		LastMessage:    m.lastMessage,
		Reason:         m.reason,
		LastTransition: m.created,
	}
	if t, ok := m.transitions.last(); ok {
		s.LastTransition = t.Timestamp
		s.TransitionReason = t.Reason
	}
	if m.lastErr != nil {
		e := *m.lastErr
		s.LastError = &e
	}
	return s
}

func (m *Manager) enqueueStatusLocked() {
	m.enqueue(event{kind: eventStatus, status: m.statusLocked()})
}

func (m *Manager) subscribe(l listener) func() {
	m.subMu.Lock()
	m.nextSubID++
	l.id = m.nextSubID
	m.listeners = append(m.listeners, l)
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, existing := range m.listeners {
				if existing.id == l.id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Manager) enqueue(ev event) {
	m.qmu.Lock()
	m.queue = append(m.queue, ev)
	m.qmu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued events in order until Close.
func (m *Manager) dispatch() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			m.qmu.Lock()
			if len(m.queue) == 0 {
				m.qmu.Unlock()
				break
			}
			ev := m.queue[0]
			m.queue[0] = event{}
			m.queue = m.queue[1:]
			m.qmu.Unlock()

			if m.disposed.Load() {
				return
			}
			m.deliver(ev)
		}
	}
}

func (m *Manager) deliver(ev event) {
	m.subMu.Lock()
	ls := make([]listener, len(m.listeners))
	copy(ls, m.listeners)
	m.subMu.Unlock()

	for _, l := range ls {
		if m.disposed.Load() {
			return
		}
		switch ev.kind {
		case eventFrame:
			if l.onFrame != nil {
				l.onFrame(ev.frame)
			}
		case eventState:
			if l.onState != nil {
				l.onState(ev.from, ev.to)
			}
		case eventStatus:
			if l.onStatus != nil {
				l.onStatus(ev.status)
			}
		}
	}
}

func withQueryParam(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func kindOf(f frame.Frame) string {
	if f == nil {
		return "nil"
	}
	return string(f.Kind())
}
