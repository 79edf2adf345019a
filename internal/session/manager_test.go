package session_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/gpuctl/internal/auth"
	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/logger"
	"github.com/rileyhilliard/gpuctl/internal/session"
	sstesting "github.com/rileyhilliard/gpuctl/internal/session/testing"
)

const waitFor = 2 * time.Second
const tick = 2 * time.Millisecond

var errReset = errors.New("connection reset by peer")

type recorder struct {
	mu          sync.Mutex
	frames      []frame.Frame
	transitions [][2]session.State
	statuses    []session.Status
}

func (r *recorder) attach(m *session.Manager) {
	m.OnFrame(func(f frame.Frame) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.frames = append(r.frames, f)
	})
	m.OnStateChange(func(from, to session.State) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.transitions = append(r.transitions, [2]session.State{from, to})
	})
	m.OnStatus(func(s session.Status) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.statuses = append(r.statuses, s)
	})
}

func (r *recorder) Frames() []frame.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frame.Frame(nil), r.frames...)
}

func (r *recorder) States() []session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.State, 0, len(r.transitions))
	for _, tr := range r.transitions {
		out = append(out, tr[1])
	}
	return out
}

func (r *recorder) Events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames) + len(r.transitions) + len(r.statuses)
}

type harness struct {
	m      *session.Manager
	dialer *sstesting.FakeDialer
	clock  *sstesting.FakeClock
	rec    *recorder
	log    *logger.BufferLogger
}

func newHarness(t *testing.T, ch session.Channel, opts session.Options, tokens auth.TokenSource) *harness {
	t.Helper()
	h := &harness{
		dialer: sstesting.NewFakeDialer(),
		clock:  sstesting.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		rec:    &recorder{},
		log:    logger.NewBufferLogger(),
	}
	m, err := session.New("dep-1", ch, session.Config{
		APIBase: "http://api.test",
		Tokens:  tokens,
		Dialer:  h.dialer,
		Clock:   h.clock,
		Logger:  h.log,
		Options: opts,
	})
	require.NoError(t, err)
	h.m = m
	h.rec.attach(m)
	t.Cleanup(m.Close)
	return h
}

func defaultHarness(t *testing.T) *harness {
	return newHarness(t, session.ChannelTerminal, session.Options{}, auth.Static("tok"))
}

func waitState(t *testing.T, m *session.Manager, want session.State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, waitFor, tick,
		"state never became %s (is %s)", want, m.State())
}

func waitRetry(t *testing.T, m *session.Manager, attempt int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := m.Status()
		return s.State == session.StateReconnecting && s.Attempt == attempt
	}, waitFor, tick, "never reached reconnecting attempt %d (status %+v)", attempt, m.Status())
}

// connectOpen scripts a good dial, connects and waits for Open.
func (h *harness) connectOpen(t *testing.T) *sstesting.FakeSocket {
	t.Helper()
	sock := h.dialer.Succeed()
	h.m.Connect()
	waitState(t, h.m, session.StateOpen)
	return sock
}

func TestNew_Validation(t *testing.T) {
	_, err := session.New("dep-1", session.Channel("logs"), session.Config{APIBase: "http://h"})
	assert.Error(t, err)

	_, err = session.New("", session.ChannelTerminal, session.Config{APIBase: "http://h"})
	assert.Error(t, err)

	_, err = session.New("dep-1", session.ChannelTerminal, session.Config{APIBase: "ftp://h"})
	assert.Error(t, err)

	m, err := session.New("dep-1", session.ChannelMetrics, session.Config{URL: "ws://override/x"})
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, "ws://override/x", m.URL())
	assert.Equal(t, session.StateIdle, m.State())
	assert.NotEmpty(t, m.ID())
	assert.Equal(t, session.DefaultOptions(), m.Options())
}

func TestManager_ConnectOpens(t *testing.T) {
	h := defaultHarness(t)
	h.connectOpen(t)

	calls := h.dialer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ws://api.test/deployments/dep-1/terminal", calls[0].URL)
	assert.Equal(t, "Bearer tok", calls[0].Header.Get("Authorization"))

	require.Eventually(t, func() bool { return len(h.rec.States()) == 2 }, waitFor, tick)
	assert.Equal(t, []session.State{session.StateConnecting, session.StateOpen}, h.rec.States())

	s := h.m.Status()
	assert.Equal(t, 0, s.Attempt)
	assert.Equal(t, 3, s.MaxAttempts)
	assert.Equal(t, "dep-1", s.Target)
	assert.Equal(t, session.ChannelTerminal, s.Channel)
}

func TestManager_ConnectIsNoopWhileActive(t *testing.T) {
	h := defaultHarness(t)
	h.connectOpen(t)

	h.m.Connect()
	h.m.Connect()
	assert.Equal(t, session.StateOpen, h.m.State())
	assert.Equal(t, 1, h.dialer.CallCount())
}

func TestManager_TokenInQuery(t *testing.T) {
	h := newHarness(t, session.ChannelMetrics, session.Options{TokenInQuery: true}, auth.Static("s3cr3t"))
	h.connectOpen(t)

	calls := h.dialer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ws://api.test/deployments/dep-1/metrics/stream?token=s3cr3t", calls[0].URL)
	assert.Equal(t, "Bearer s3cr3t", calls[0].Header.Get("Authorization"))
	assert.NotContains(t, h.m.URL(), "s3cr3t")
}

func TestManager_NoTokenSource(t *testing.T) {
	h := newHarness(t, session.ChannelTerminal, session.Options{}, nil)
	h.connectOpen(t)
	assert.Empty(t, h.dialer.Calls()[0].Header.Get("Authorization"))
}

func TestManager_TokenFetchedPerAttempt(t *testing.T) {
	var mu sync.Mutex
	issued := 0
	tokens := auth.TokenFunc(func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		issued++
		return fmt.Sprintf("tok-%d", issued), nil
	})
	h := newHarness(t, session.ChannelTerminal, session.Options{}, tokens)

	sock := h.connectOpen(t)
	sock.Drop(errReset)
	waitRetry(t, h.m, 1)

	h.dialer.Succeed()
	h.clock.Advance(time.Second)
	waitState(t, h.m, session.StateOpen)

	calls := h.dialer.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Bearer tok-1", calls[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer tok-2", calls[1].Header.Get("Authorization"))
}

// Three unclean closes in a row: retries at 1s, 2s, 4s, then Failed with no
// fourth retry.
func TestManager_BackoffScenario(t *testing.T) {
	h := newHarness(t, session.ChannelTerminal, session.Options{
		MaxAttempts: 3,
		BaseDelay:   1000 * time.Millisecond,
		CapDelay:    5000 * time.Millisecond,
	}, auth.Static("tok"))

	sock := h.connectOpen(t)
	h.dialer.FailTimes(3, errReset)

	sock.Drop(errReset)
	waitRetry(t, h.m, 1)
	assert.True(t, sock.IsClosed())

	h.clock.Advance(1000 * time.Millisecond)
	waitRetry(t, h.m, 2)

	h.clock.Advance(2000 * time.Millisecond)
	waitRetry(t, h.m, 3)

	h.clock.Advance(4000 * time.Millisecond)
	waitState(t, h.m, session.StateFailed)

	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, h.clock.Scheduled())
	assert.Equal(t, 3, h.m.Status().Attempt)
	assert.Equal(t, 4, h.dialer.CallCount())

	// Failed is terminal: nothing else is scheduled or dialed.
	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 4, h.dialer.CallCount())
	assert.Equal(t, session.StateFailed, h.m.State())
}

func TestManager_AttemptIncreasesUntilFailed(t *testing.T) {
	for maxAttempts := 1; maxAttempts <= 5; maxAttempts++ {
		t.Run(fmt.Sprintf("max=%d", maxAttempts), func(t *testing.T) {
			h := newHarness(t, session.ChannelMetrics, session.Options{
				MaxAttempts: maxAttempts,
				BaseDelay:   100 * time.Millisecond,
				CapDelay:    400 * time.Millisecond,
			}, auth.Static("tok"))
			h.dialer.FailTimes(maxAttempts+1, errReset)

			h.m.Connect()
			for k := 1; k <= maxAttempts; k++ {
				waitRetry(t, h.m, k)
				h.clock.Advance(400 * time.Millisecond)
			}
			waitState(t, h.m, session.StateFailed)
			assert.Equal(t, maxAttempts, h.m.Status().Attempt)

			prevAttempt := 0
			prevDelay := time.Duration(0)
			for _, tr := range h.m.Transitions() {
				if tr.To != session.StateReconnecting {
					continue
				}
				assert.Greater(t, tr.Attempt, prevAttempt, "attempt strictly increases")
				prevAttempt = tr.Attempt
			}
			for _, d := range h.clock.Scheduled() {
				assert.GreaterOrEqual(t, d, prevDelay)
				assert.LessOrEqual(t, d, 400*time.Millisecond)
				prevDelay = d
			}
		})
	}
}

func TestManager_CleanServerClose(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)

	sock.RemoteClose(session.CloseNormal, "session ended")
	waitState(t, h.m, session.StateClosedByUser)
	assert.Equal(t, 0, h.clock.Pending(), "no retry after a clean close")
}

func TestManager_CleanCloseAfterServerErrorRetries(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)

	sock.PushText(`{"type":"error","error_type":"backend_failure","message":"SSH handshake failed"}`)
	sock.RemoteClose(session.CloseNormal, "")
	waitRetry(t, h.m, 1)
	assert.Equal(t, 1, h.clock.Pending())
	assert.Contains(t, h.m.Status().Reason, "SSH handshake failed")

	// The replacement socket starts clean: a plain 1000 close ends it.
	next := h.dialer.Succeed()
	h.clock.Advance(time.Second)
	waitState(t, h.m, session.StateOpen)
	next.RemoteClose(session.CloseNormal, "session ended")
	waitState(t, h.m, session.StateClosedByUser)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestManager_StatusReportsLastTransition(t *testing.T) {
	h := defaultHarness(t)
	start := h.clock.Now()
	s := h.m.Status()
	assert.Equal(t, start, s.LastTransition)
	assert.Empty(t, s.TransitionReason)

	sock := h.connectOpen(t)
	assert.Equal(t, "socket open", h.m.Status().TransitionReason)

	h.clock.Advance(5 * time.Second)
	sock.Drop(errReset)
	waitRetry(t, h.m, 1)
	s = h.m.Status()
	assert.Equal(t, start.Add(5*time.Second), s.LastTransition)
	assert.NotEmpty(t, s.TransitionReason)
}

func TestManager_UncleanCloseCodes(t *testing.T) {
	codes := []int{session.CloseGoingAway, session.CloseAbnormal, 1011, 4500}
	for _, code := range codes {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			h := defaultHarness(t)
			sock := h.connectOpen(t)
			sock.RemoteClose(code, "")
			waitRetry(t, h.m, 1)
		})
	}
}

func TestManager_AuthErrorFrameFailsImmediately(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)

	sock.PushText(`{"type":"error","error_type":"auth","message":"token expired"}`)
	waitState(t, h.m, session.StateFailed)

	s := h.m.Status()
	assert.Less(t, s.Attempt, s.MaxAttempts)
	require.NotNil(t, s.LastError)
	assert.Equal(t, frame.ErrorAuth, s.LastError.Type)
	assert.Equal(t, "token expired", s.LastError.Message)
	assert.Equal(t, 0, h.clock.Pending(), "no automatic retry")
	assert.Empty(t, h.clock.Scheduled())

	require.Eventually(t, sock.IsClosed, waitFor, tick)
	require.Eventually(t, func() bool { return len(h.rec.Frames()) == 1 }, waitFor, tick)
	assert.Equal(t, frame.Error{Message: "token expired", Type: frame.ErrorAuth}, h.rec.Frames()[0])

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.CallCount())
}

func TestManager_RetryableErrorFrameKeepsSession(t *testing.T) {
	h := defaultHarness(t)
	h.connectOpen(t).PushText(`{"type":"error","error_type":"backend_failure","message":"SSH handshake failed","details":{"code":255}}`)

	require.Eventually(t, func() bool { return h.m.Status().LastError != nil }, waitFor, tick)
	assert.Equal(t, session.StateOpen, h.m.State())
	assert.Equal(t, frame.ErrorBackendFailure, h.m.Status().LastError.Type)
}

func TestManager_HandshakeUnauthorized(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			h := defaultHarness(t)
			h.dialer.Fail(&session.HandshakeError{StatusCode: code})

			h.m.Connect()
			waitState(t, h.m, session.StateFailed)
			assert.Empty(t, h.clock.Scheduled())
			require.NotNil(t, h.m.Status().LastError)
			assert.Equal(t, frame.ErrorAuth, h.m.Status().LastError.Type)
		})
	}
}

func TestManager_HandshakeServerErrorRetries(t *testing.T) {
	h := defaultHarness(t)
	h.dialer.Fail(&session.HandshakeError{StatusCode: http.StatusBadGateway})

	h.m.Connect()
	waitRetry(t, h.m, 1)
	assert.Contains(t, h.m.Status().Reason, "502")
}

func TestManager_TokenRejected(t *testing.T) {
	tokens := auth.TokenFunc(func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("%w: api key revoked", auth.ErrUnauthorized)
	})
	h := newHarness(t, session.ChannelTerminal, session.Options{}, tokens)

	h.m.Connect()
	waitState(t, h.m, session.StateFailed)
	assert.Equal(t, 0, h.dialer.CallCount())
}

func TestManager_SendDroppedUnlessOpen(t *testing.T) {
	h := defaultHarness(t)

	assert.False(t, h.m.Send(frame.Input{Data: []byte("idle")}))

	sock := h.connectOpen(t)
	assert.True(t, h.m.Send(frame.Input{Data: []byte("open")}))

	h.dialer.Fail(errReset)
	sock.Drop(errReset)
	waitRetry(t, h.m, 1)
	assert.NotPanics(t, func() {
		assert.False(t, h.m.Send(frame.Input{Data: []byte("reconnecting")}))
	})

	h.m.Disconnect()
	assert.False(t, h.m.Send(frame.Input{Data: []byte("closed")}))

	assert.Equal(t, []frame.Frame{frame.Input{Data: []byte("open")}}, sock.WrittenFrames())
}

func TestManager_SendInvalidFrame(t *testing.T) {
	h := defaultHarness(t)
	h.connectOpen(t)

	assert.False(t, h.m.Send(nil))
	assert.False(t, h.m.Send(frame.Resize{Cols: 0, Rows: 0}))
	assert.Equal(t, session.StateOpen, h.m.State())
}

func TestManager_SendPreservesOrder(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)

	var want []frame.Frame
	for i := 0; i < 100; i++ {
		f := frame.Input{Data: []byte(fmt.Sprintf("k%03d", i))}
		want = append(want, f)
		require.True(t, h.m.Send(f))
	}
	assert.Equal(t, want, sock.WrittenFrames())
}

func TestManager_WriteFailureReconnects(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)
	sock.WriteErr = errReset

	assert.False(t, h.m.Send(frame.Input{Data: []byte("x")}))
	waitRetry(t, h.m, 1)
}

func TestManager_DisconnectClosesSocketNormally(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)

	h.m.Disconnect()
	assert.Equal(t, session.StateClosedByUser, h.m.State())

	closed, code := sock.ClosedLocally()
	assert.True(t, closed)
	assert.Equal(t, session.CloseNormal, code)

	// The read loop observing the close must not trigger a retry.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, session.StateClosedByUser, h.m.State())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestManager_DisconnectCancelsPendingRetry(t *testing.T) {
	h := defaultHarness(t)
	h.connectOpen(t).Drop(errReset)
	waitRetry(t, h.m, 1)
	require.Equal(t, 1, h.clock.Pending())

	h.m.Disconnect()
	assert.Equal(t, session.StateClosedByUser, h.m.State())
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.CallCount())
	assert.Equal(t, session.StateClosedByUser, h.m.State())
}

func TestManager_ReconnectFromFailed(t *testing.T) {
	h := newHarness(t, session.ChannelTerminal, session.Options{MaxAttempts: 1}, auth.Static("tok"))
	h.dialer.FailTimes(2, errReset)

	h.m.Connect()
	waitRetry(t, h.m, 1)
	h.clock.Advance(time.Second)
	waitState(t, h.m, session.StateFailed)

	h.dialer.Succeed()
	h.m.Reconnect()
	waitState(t, h.m, session.StateOpen)
	assert.Equal(t, 0, h.m.Status().Attempt)
	assert.Nil(t, h.m.Status().LastError)
}

func TestManager_ReconnectClosesPriorSocketFirst(t *testing.T) {
	h := defaultHarness(t)
	first := h.connectOpen(t)

	second, release := h.dialer.Hold()
	h.m.Reconnect()
	require.Eventually(t, func() bool { return h.dialer.CallCount() == 2 }, waitFor, tick)
	assert.True(t, first.IsClosed(), "prior socket closed before the new dial")
	assert.Equal(t, session.StateConnecting, h.m.State())

	release()
	waitState(t, h.m, session.StateOpen)
	assert.False(t, second.IsClosed())
}

func TestManager_StaleDialIsClosedOnArrival(t *testing.T) {
	h := defaultHarness(t)
	sock, release := h.dialer.Hold()

	h.m.Connect()
	require.Eventually(t, func() bool { return h.dialer.CallCount() == 1 }, waitFor, tick)
	h.m.Disconnect()

	release()
	require.Eventually(t, sock.IsClosed, waitFor, tick)
	assert.Equal(t, session.StateClosedByUser, h.m.State())
}

func TestManager_StaleTimerIgnored(t *testing.T) {
	h := defaultHarness(t)
	h.connectOpen(t).Drop(errReset)
	waitRetry(t, h.m, 1)

	// A manual reconnect supersedes the scheduled retry.
	h.dialer.Succeed()
	h.m.Reconnect()
	waitState(t, h.m, session.StateOpen)

	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, session.StateOpen, h.m.State())
	assert.Equal(t, 2, h.dialer.CallCount())
}

// Tearing down with retries pending produces no further dials, transitions
// or callbacks.
func TestManager_CloseIsInert(t *testing.T) {
	h := defaultHarness(t)
	h.dialer.FailTimes(3, errReset)
	h.m.Connect()
	waitRetry(t, h.m, 1)
	h.clock.Advance(time.Second)
	waitRetry(t, h.m, 2)

	time.Sleep(20 * time.Millisecond)
	h.m.Close()
	events := h.rec.Events()
	transitions := len(h.m.Transitions())
	dials := h.dialer.CallCount()

	h.clock.Advance(time.Hour)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, events, h.rec.Events())
	assert.Equal(t, transitions, len(h.m.Transitions()))
	assert.Equal(t, dials, h.dialer.CallCount())
	assert.Equal(t, 0, h.clock.Pending())

	// Every entry point is inert after Close.
	h.m.Connect()
	h.m.Reconnect()
	h.m.Disconnect()
	assert.False(t, h.m.Send(frame.Input{Data: []byte("x")}))
	assert.Equal(t, dials, h.dialer.CallCount())
}

func TestManager_CloseClosesSocket(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)

	h.m.Close()
	h.m.Close()
	assert.True(t, sock.IsClosed())
	assert.Equal(t, session.StateClosedByUser, h.m.State())
}

func TestManager_FramesDeliveredInOrder(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)

	var want []frame.Frame
	for i := 0; i < 50; i++ {
		f := frame.Output{Data: []byte(fmt.Sprintf("line %d\r\n", i))}
		want = append(want, f)
		require.NoError(t, sock.PushFrame(f))
	}
	require.Eventually(t, func() bool { return len(h.rec.Frames()) == 50 }, waitFor, tick)
	assert.Equal(t, want, h.rec.Frames())
}

func TestManager_RawAndUnknownDelivered(t *testing.T) {
	h := defaultHarness(t)
	sock := h.connectOpen(t)

	sock.PushText("plain text, not json")
	sock.PushBinary([]byte{0x1b, '[', 'H'})
	sock.PushText(`{"type":"heartbeat"}`)

	require.Eventually(t, func() bool { return len(h.rec.Frames()) == 3 }, waitFor, tick)
	frames := h.rec.Frames()
	assert.Equal(t, frame.Raw{Data: []byte("plain text, not json")}, frames[0])
	assert.Equal(t, frame.Raw{Data: []byte{0x1b, '[', 'H'}}, frames[1])
	assert.Equal(t, frame.KindUnknown, frames[2].Kind())
}

func TestManager_ConnectedFrameUpdatesStatus(t *testing.T) {
	h := defaultHarness(t)
	h.connectOpen(t).PushText(`{"type":"connected","message":"Shell ready"}`)

	require.Eventually(t, func() bool { return h.m.Status().LastMessage == "Shell ready" }, waitFor, tick)
	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		for _, s := range h.rec.statuses {
			if s.LastMessage == "Shell ready" {
				return true
			}
		}
		return false
	}, waitFor, tick, "status subscribers see the message")
}

func TestManager_CallbacksMayReenter(t *testing.T) {
	h := defaultHarness(t)
	sent := make(chan bool, 1)
	h.m.OnStateChange(func(from, to session.State) {
		if to == session.StateOpen {
			sent <- h.m.Send(frame.Resize{Cols: 80, Rows: 24})
		}
	})

	sock := h.connectOpen(t)
	select {
	case ok := <-sent:
		assert.True(t, ok)
	case <-time.After(waitFor):
		t.Fatal("callback never ran")
	}
	assert.Equal(t, []frame.Frame{frame.Resize{Cols: 80, Rows: 24}}, sock.WrittenFrames())
}

func TestManager_Unsubscribe(t *testing.T) {
	h := defaultHarness(t)
	var mu sync.Mutex
	count := 0
	unsubscribe := h.m.OnFrame(func(frame.Frame) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	sock := h.connectOpen(t)
	sock.PushText("one")
	require.Eventually(t, func() bool { return len(h.rec.Frames()) == 1 }, waitFor, tick)

	unsubscribe()
	unsubscribe()
	sock.PushText("two")
	require.Eventually(t, func() bool { return len(h.rec.Frames()) == 2 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestManager_TransitionsRecorded(t *testing.T) {
	h := defaultHarness(t)
	h.connectOpen(t).RemoteClose(session.CloseNormal, "")
	waitState(t, h.m, session.StateClosedByUser)

	trs := h.m.Transitions()
	require.Len(t, trs, 3)
	assert.Equal(t, session.StateIdle, trs[0].From)
	assert.Equal(t, session.StateConnecting, trs[0].To)
	assert.Equal(t, session.StateOpen, trs[1].To)
	assert.Equal(t, session.StateClosedByUser, trs[2].To)
	assert.NotEmpty(t, trs[2].Reason)
}

func TestManager_Metrics(t *testing.T) {
	metrics := session.NewMetrics()
	dialer := sstesting.NewFakeDialer()
	m, err := session.New("dep-1", session.ChannelTerminal, session.Config{
		APIBase: "http://api.test",
		Dialer:  dialer,
		Clock:   sstesting.NewFakeClock(time.Now()),
		Logger:  logger.Noop(),
		Metrics: metrics,
	})
	require.NoError(t, err)
	defer m.Close()

	assert.False(t, m.Send(frame.Input{Data: []byte("dropped")}))

	sock := dialer.Succeed()
	m.Connect()
	waitState(t, m, session.StateOpen)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.OpenSessions.WithLabelValues("terminal")))

	require.True(t, m.Send(frame.Input{Data: []byte("a")}))
	sock.PushText("raw bytes")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DecodeFallbacks.WithLabelValues("terminal", "raw")) == 1
	}, waitFor, tick)

	sock.Drop(errReset)
	waitState(t, m, session.StateReconnecting)

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.OpenSessions.WithLabelValues("terminal")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SendsDroppedTotal.WithLabelValues("terminal")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FramesTotal.WithLabelValues("terminal", "out", "input")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReconnectsTotal.WithLabelValues("terminal")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransitionsTotal.WithLabelValues("terminal", "reconnecting")))
}
