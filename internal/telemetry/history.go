package telemetry

import (
	"sync"

	"github.com/rileyhilliard/gpuctl/internal/frame"
)

// DefaultHistorySize is the number of samples retained for charting.
const DefaultHistorySize = 30

// History is a fixed-capacity FIFO of metrics samples. When full, pushing a
// sample evicts the oldest one. It is safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	data  []frame.MetricsSample
	head  int
	count int
}

// NewHistory creates a history holding at most size samples.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{data: make([]frame.MetricsSample, size)}
}

// Push appends a sample, evicting the oldest when at capacity.
func (h *History) Push(s frame.MetricsSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data[h.head] = s.Clone()
	h.head = (h.head + 1) % len(h.data)
	if h.count < len(h.data) {
		h.count++
	}
}

// Snapshot returns a copy of the retained samples, oldest first. Mutating
// the result does not affect the history.
func (h *History) Snapshot() []frame.MetricsSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return nil
	}
	out := make([]frame.MetricsSample, h.count)
	start := h.start()
	for i := 0; i < h.count; i++ {
		out[i] = h.data[(start+i)%len(h.data)].Clone()
	}
	return out
}

// Latest returns the most recent sample.
func (h *History) Latest() (frame.MetricsSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return frame.MetricsSample{}, false
	}
	idx := (h.head - 1 + len(h.data)) % len(h.data)
	return h.data[idx].Clone(), true
}

// Series returns the values of one field across the retained samples, oldest
// first. Samples that lack the field are skipped rather than charted as zero.
func (h *History) Series(f frame.Field) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []float64
	start := h.start()
	for i := 0; i < h.count; i++ {
		if v, ok := h.data[(start+i)%len(h.data)].Value(f); ok {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of samples held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Cap returns the maximum number of samples held.
func (h *History) Cap() int {
	return len(h.data)
}

// start is the index of the oldest sample. Must be called with h.mu held.
func (h *History) start() int {
	return (h.head - h.count + len(h.data)) % len(h.data)
}
