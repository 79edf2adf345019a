package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/gpuctl/internal/frame"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAt(i int, gpu float64) frame.MetricsSample {
	return frame.MetricsSample{
		Timestamp:      epoch.Add(time.Duration(i) * time.Second),
		GPUUtilization: frame.Float(gpu),
	}
}

func TestNewHistory(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		expected int
	}{
		{"default size", 0, DefaultHistorySize},
		{"negative size", -1, DefaultHistorySize},
		{"custom size", 100, 100},
		{"single slot", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(tt.size)
			assert.Equal(t, tt.expected, h.Cap())
			assert.Equal(t, 0, h.Len())
			assert.Nil(t, h.Snapshot())
		})
	}
}

func TestHistory_KeepsNewestThirty(t *testing.T) {
	h := NewHistory(DefaultHistorySize)
	for i := 1; i <= 35; i++ {
		h.Push(sampleAt(i, float64(i)))
	}

	snap := h.Snapshot()
	require.Len(t, snap, 30)
	assert.Equal(t, epoch.Add(6*time.Second), snap[0].Timestamp, "t1..t5 evicted")
	assert.Equal(t, epoch.Add(35*time.Second), snap[29].Timestamp)

	for i := 1; i < len(snap); i++ {
		assert.True(t, snap[i-1].Timestamp.Before(snap[i].Timestamp), "oldest first")
	}

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, snap[29].Timestamp, latest.Timestamp)
}

func TestHistory_Partial(t *testing.T) {
	h := NewHistory(5)
	_, ok := h.Latest()
	assert.False(t, ok)

	h.Push(sampleAt(1, 10))
	h.Push(sampleAt(2, 20))

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []float64{10, 20}, h.Series(frame.FieldGPUUtilization))
}

func TestHistory_SnapshotIsCopy(t *testing.T) {
	h := NewHistory(3)
	h.Push(sampleAt(1, 10))

	snap := h.Snapshot()
	*snap[0].GPUUtilization = 99
	snap[0].Timestamp = time.Time{}

	again := h.Snapshot()
	assert.Equal(t, 10.0, *again[0].GPUUtilization)
	assert.Equal(t, epoch.Add(time.Second), again[0].Timestamp)
}

func TestHistory_PushCopiesSample(t *testing.T) {
	h := NewHistory(3)
	s := sampleAt(1, 10)
	h.Push(s)
	*s.GPUUtilization = 50

	latest, _ := h.Latest()
	assert.Equal(t, 10.0, *latest.GPUUtilization)
}

func TestHistory_SeriesSkipsAbsent(t *testing.T) {
	h := NewHistory(5)
	h.Push(sampleAt(1, 10))
	h.Push(frame.MetricsSample{Timestamp: epoch.Add(2 * time.Second), CPUPercent: frame.Float(5)})
	h.Push(sampleAt(3, 30))

	assert.Equal(t, []float64{10, 30}, h.Series(frame.FieldGPUUtilization))
	assert.Equal(t, []float64{5}, h.Series(frame.FieldCPUPercent))
	assert.Nil(t, h.Series(frame.FieldDiskPercent))
}

func TestHistory_SeriesAfterWrap(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Push(sampleAt(i, float64(i*10)))
	}
	assert.Equal(t, []float64{30, 40, 50}, h.Series(frame.FieldGPUUtilization))
}

func TestHistory_Concurrent(t *testing.T) {
	h := NewHistory(10)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Push(sampleAt(g*100+i, float64(i)))
				_ = h.Snapshot()
				_ = h.Series(frame.FieldGPUUtilization)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 10, h.Len())
}
