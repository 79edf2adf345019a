package frame

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Field names a numeric reading in a MetricsSample. Values match the JSON keys.
type Field string

const (
	FieldGPUUtilization   Field = "gpu_utilization"
	FieldGPUMemoryUsed    Field = "gpu_memory_used"
	FieldGPUMemoryTotal   Field = "gpu_memory_total"
	FieldGPUMemoryPercent Field = "gpu_memory_percent"
	FieldGPUTemperature   Field = "gpu_temperature"
	FieldGPUPowerDraw     Field = "gpu_power_draw"
	FieldCPUPercent       Field = "cpu_percent"
	FieldMemoryUsed       Field = "memory_used"
	FieldMemoryTotal      Field = "memory_total"
	FieldMemoryPercent    Field = "memory_percent"
	FieldDiskUsed         Field = "disk_used"
	FieldDiskTotal        Field = "disk_total"
	FieldDiskPercent      Field = "disk_percent"
	FieldNetworkRxBytes   Field = "network_rx_bytes"
	FieldNetworkTxBytes   Field = "network_tx_bytes"
)

// MetricsSample is one telemetry snapshot. Every reading is optional: nil means
// the backend did not report it at this tick, which is different from zero.
type MetricsSample struct {
	Timestamp time.Time

	GPUUtilization   *float64
	GPUMemoryUsed    *float64
	GPUMemoryTotal   *float64
	GPUMemoryPercent *float64
	GPUTemperature   *float64
	GPUPowerDraw     *float64
	CPUPercent       *float64
	MemoryUsed       *float64
	MemoryTotal      *float64
	MemoryPercent    *float64
	DiskUsed         *float64
	DiskTotal        *float64
	DiskPercent      *float64
	NetworkRxBytes   *float64
	NetworkTxBytes   *float64

	// Extra holds numeric readings this client has no dedicated field for.
	Extra map[string]float64
}

// Float returns a pointer to v, for building samples.
func Float(v float64) *float64 {
	return &v
}

// Fields lists every known field in display order.
func Fields() []Field {
	return []Field{
		FieldGPUUtilization, FieldGPUMemoryUsed, FieldGPUMemoryTotal, FieldGPUMemoryPercent,
		FieldGPUTemperature, FieldGPUPowerDraw,
		FieldCPUPercent,
		FieldMemoryUsed, FieldMemoryTotal, FieldMemoryPercent,
		FieldDiskUsed, FieldDiskTotal, FieldDiskPercent,
		FieldNetworkRxBytes, FieldNetworkTxBytes,
	}
}

func (s *MetricsSample) slot(f Field) **float64 {
	switch f {
	case FieldGPUUtilization:
		return &s.GPUUtilization
	case FieldGPUMemoryUsed:
		return &s.GPUMemoryUsed
	case FieldGPUMemoryTotal:
		return &s.GPUMemoryTotal
	case FieldGPUMemoryPercent:
		return &s.GPUMemoryPercent
	case FieldGPUTemperature:
		return &s.GPUTemperature
	case FieldGPUPowerDraw:
		return &s.GPUPowerDraw
	case FieldCPUPercent:
		return &s.CPUPercent
	case FieldMemoryUsed:
		return &s.MemoryUsed
	case FieldMemoryTotal:
		return &s.MemoryTotal
	case FieldMemoryPercent:
		return &s.MemoryPercent
	case FieldDiskUsed:
		return &s.DiskUsed
	case FieldDiskTotal:
		return &s.DiskTotal
	case FieldDiskPercent:
		return &s.DiskPercent
	case FieldNetworkRxBytes:
		return &s.NetworkRxBytes
	case FieldNetworkTxBytes:
		return &s.NetworkTxBytes
	}
	return nil
}

// Value returns the reading for f and whether it was reported.
// Fields outside the known set are looked up in Extra.
func (s MetricsSample) Value(f Field) (float64, bool) {
	if p := s.slot(f); p != nil {
		if *p == nil {
			return 0, false
		}
		return **p, true
	}
	v, ok := s.Extra[string(f)]
	return v, ok
}

// Set records a reading for f.
func (s *MetricsSample) Set(f Field, v float64) {
	if p := s.slot(f); p != nil {
		*p = Float(v)
		return
	}
	if s.Extra == nil {
		s.Extra = make(map[string]float64)
	}
	s.Extra[string(f)] = v
}

// Clone returns a deep copy. Samples handed out of a History are clones so
// callers cannot reach the stored pointers.
func (s MetricsSample) Clone() MetricsSample {
	out := MetricsSample{Timestamp: s.Timestamp}
	for _, f := range Fields() {
		if v, ok := s.Value(f); ok {
			out.Set(f, v)
		}
	}
	if len(s.Extra) > 0 {
		out.Extra = make(map[string]float64, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MarshalJSON writes the sample as a flat object. Absent readings are omitted.
func (s MetricsSample) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(Fields())+len(s.Extra)+1)
	for k, v := range s.Extra {
		m[k] = v
	}
	for _, f := range Fields() {
		if v, ok := s.Value(f); ok {
			m[string(f)] = v
		}
	}
	if !s.Timestamp.IsZero() {
		m["timestamp"] = s.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a flat telemetry object. Known fields must be numbers
// or null; unknown numeric fields land in Extra and other unknown values are
// ignored.
func (s *MetricsSample) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("metrics sample must be an object")
	}

	out := MetricsSample{}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := raw[key]
		if string(val) == "null" {
			continue
		}
		if key == "timestamp" {
			ts, err := parseTimestamp(val)
			if err != nil {
				return err
			}
			out.Timestamp = ts
			continue
		}

		var v float64
		err := json.Unmarshal(val, &v)
		if out.slot(Field(key)) != nil {
			if err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
			out.Set(Field(key), v)
			continue
		}
		if err == nil {
			out.Set(Field(key), v)
		}
	}

	*s = out
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 strings, naive ISO 8601 strings (read as
// UTC), and unix seconds as a number.
func parseTimestamp(val json.RawMessage) (time.Time, error) {
	var str string
	if err := json.Unmarshal(val, &str); err != nil {
		secs, nerr := strconv.ParseFloat(string(val), 64)
		if nerr != nil {
			return time.Time{}, fmt.Errorf("timestamp: unsupported value %s", string(val))
		}
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * float64(time.Second))
		return time.Unix(whole, nanos).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, str); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: cannot parse %q", str)
}
