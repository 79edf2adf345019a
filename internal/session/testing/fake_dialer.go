package testing

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rileyhilliard/gpuctl/internal/session"
)

// ErrNoScript is returned when a FakeDialer runs out of scripted results.
var ErrNoScript = errors.New("fake dialer: no scripted result")

// DialCall records one Dial.
type DialCall struct {
	URL    string
	Header http.Header
}

type dialResult struct {
	sock *FakeSocket
	err  error
	wait chan struct{}
}

// FakeDialer returns scripted results in order and records every call.
type FakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   []DialCall
}

// NewFakeDialer creates a dialer with an empty script.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Succeed scripts a successful dial and returns the socket it will yield.
func (d *FakeDialer) Succeed() *FakeSocket {
	sock := NewFakeSocket()
	d.push(dialResult{sock: sock})
	return sock
}

// Fail scripts a failed dial.
func (d *FakeDialer) Fail(err error) *FakeDialer {
	d.push(dialResult{err: err})
	return d
}

// FailTimes scripts n failed dials.
func (d *FakeDialer) FailTimes(n int, err error) *FakeDialer {
	for i := 0; i < n; i++ {
		d.push(dialResult{err: err})
	}
	return d
}

// Hold scripts a successful dial that blocks until release is called,
// regardless of the dial context. It models a handshake that completes after
// the session has moved on.
func (d *FakeDialer) Hold() (sock *FakeSocket, release func()) {
	sock = NewFakeSocket()
	wait := make(chan struct{})
	d.push(dialResult{sock: sock, wait: wait})
	var once sync.Once
	return sock, func() { once.Do(func() { close(wait) }) }
}

// Dial implements session.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, url string, header http.Header) (session.Socket, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{URL: url, Header: header.Clone()})
	if len(d.results) == 0 {
		d.mu.Unlock()
		return nil, ErrNoScript
	}
	res := d.results[0]
	d.results = d.results[1:]
	d.mu.Unlock()

	if res.wait != nil {
		<-res.wait
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.sock, nil
}

// Calls returns every recorded Dial.
func (d *FakeDialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialCall, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallCount returns how many times Dial was called.
func (d *FakeDialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *FakeDialer) push(r dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r)
}
