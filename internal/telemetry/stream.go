// Package telemetry turns a metrics-channel session into a live sample feed
// with a short rolling history for charts.
package telemetry

import (
	"sync"

	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/logger"
	"github.com/rileyhilliard/gpuctl/internal/session"
)

// Session is the part of *session.Manager a Stream consumes.
type Session interface {
	Connect()
	Reconnect()
	Disconnect()
	Close()
	State() session.State
	Status() session.Status
	OnFrame(fn func(frame.Frame)) func()
	OnStatus(fn func(session.Status)) func()
}

// Options configures a Stream.
type Options struct {
	// Capacity is the history size. Zero means DefaultHistorySize.
	Capacity int
	Logger   logger.Logger
}

// Stream consumes metrics frames from a session. It never sends frames.
type Stream struct {
	sess    Session
	log     logger.Logger
	history *History

	mu          sync.Mutex
	closed      bool
	parseErrors int
	samples     []func(frame.MetricsSample)
	status      []func(session.Status)
	errs        []func(frame.Error)
	unsubs      []func()
}

// New attaches a stream to sess and takes ownership of it.
func New(sess Session, opts Options) *Stream {
	s := &Stream{
		sess:    sess,
		log:     opts.Logger,
		history: NewHistory(opts.Capacity),
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	s.unsubs = append(s.unsubs,
		sess.OnFrame(s.handleFrame),
		sess.OnStatus(s.handleStatus),
	)
	return s
}

// Connect starts the session.
func (s *Stream) Connect() { s.sess.Connect() }

// Reconnect retries immediately with a fresh attempt budget.
func (s *Stream) Reconnect() { s.sess.Reconnect() }

// Disconnect closes the connection but keeps the history.
func (s *Stream) Disconnect() { s.sess.Disconnect() }

// State returns the session state.
func (s *Stream) State() session.State { return s.sess.State() }

// Status returns the session status snapshot.
func (s *Stream) Status() session.Status { return s.sess.Status() }

// Capacity returns the history size.
func (s *Stream) Capacity() int { return s.history.Cap() }

// Len returns the number of samples in the history.
func (s *Stream) Len() int { return s.history.Len() }

// Series returns one field across the history, for sparklines.
func (s *Stream) Series(f frame.Field) []float64 { return s.history.Series(f) }

// Latest returns the most recent sample, if any has arrived.
func (s *Stream) Latest() (frame.MetricsSample, bool) {
	return s.history.Latest()
}

// History returns the retained samples, oldest first.
func (s *Stream) History() []frame.MetricsSample {
	return s.history.Snapshot()
}

// ParseErrors returns how many messages could not be read as frames.
func (s *Stream) ParseErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parseErrors
}

// OnSample subscribes to new samples, after they are added to the history.
func (s *Stream) OnSample(fn func(frame.MetricsSample)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, fn)
}

// OnStatus subscribes to session status changes.
func (s *Stream) OnStatus(fn func(session.Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = append(s.status, fn)
}

// OnError subscribes to channel-reported errors.
func (s *Stream) OnError(fn func(frame.Error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, fn)
}

// Close detaches subscribers and closes the session. The history remains
// readable. Close is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.samples, s.status, s.errs = nil, nil, nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.sess.Close()
}

func (s *Stream) handleFrame(f frame.Frame) {
	switch v := f.(type) {
	case frame.Metrics:
		s.history.Push(v.Sample)
		s.mu.Lock()
		subs := append([]func(frame.MetricsSample){}, s.samples...)
		s.mu.Unlock()
		for _, fn := range subs {
			fn(v.Sample.Clone())
		}
	case frame.Error:
		s.mu.Lock()
		subs := append([]func(frame.Error){}, s.errs...)
		s.mu.Unlock()
		for _, fn := range subs {
			fn(v)
		}
	case frame.Raw:
		s.dropped("unparseable message (%d bytes)", len(v.Data))
	case frame.Unknown:
		s.dropped("unknown frame type %q", v.Type)
	case frame.Connected:
		s.log.Debug("telemetry: server says %q", v.Message)
	default:
		s.dropped("%s frame on the metrics channel", f.Kind())
	}
}

// dropped counts a message the stream could not use as telemetry.
func (s *Stream) dropped(format string, args ...interface{}) {
	s.mu.Lock()
	s.parseErrors++
	s.mu.Unlock()
	s.log.Warn("telemetry: dropping "+format, args...)
}

func (s *Stream) handleStatus(st session.Status) {
	s.mu.Lock()
	subs := append([]func(session.Status){}, s.status...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}
