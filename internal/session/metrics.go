package session

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments sessions on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	OpenSessions      *prometheus.GaugeVec
	TransitionsTotal  *prometheus.CounterVec
	ReconnectsTotal   *prometheus.CounterVec
	FramesTotal       *prometheus.CounterVec
	DecodeFallbacks   *prometheus.CounterVec
	SendsDroppedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the session collectors.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		OpenSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gpuctl",
			Subsystem: "session",
			Name:      "open",
			Help:      "Sessions currently in the open state",
		}, []string{"channel"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpuctl",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "State transitions by target state",
		}, []string{"channel", "to"}),
		ReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpuctl",
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after unclean closes",
		}, []string{"channel"}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpuctl",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames by direction and kind",
		}, []string{"channel", "direction", "kind"}),
		DecodeFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpuctl",
			Subsystem: "session",
			Name:      "decode_fallbacks_total",
			Help:      "Inbound messages that decoded to raw or unknown frames",
		}, []string{"channel", "kind"}),
		SendsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpuctl",
			Subsystem: "session",
			Name:      "sends_dropped_total",
			Help:      "Outbound frames dropped because the session was not open",
		}, []string{"channel"}),
	}
	r.MustRegister(m.OpenSessions, m.TransitionsTotal, m.ReconnectsTotal,
		m.FramesTotal, m.DecodeFallbacks, m.SendsDroppedTotal)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) transition(ch Channel, from, to State) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(string(ch), to.String()).Inc()
	if to == StateOpen {
		m.OpenSessions.WithLabelValues(string(ch)).Inc()
	}
	if from == StateOpen {
		m.OpenSessions.WithLabelValues(string(ch)).Dec()
	}
}

func (m *Metrics) reconnectScheduled(ch Channel) {
	if m == nil {
		return
	}
	m.ReconnectsTotal.WithLabelValues(string(ch)).Inc()
}

func (m *Metrics) frame(ch Channel, direction, kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(string(ch), direction, kind).Inc()
}

func (m *Metrics) fallback(ch Channel, kind string) {
	if m == nil {
		return
	}
	m.DecodeFallbacks.WithLabelValues(string(ch), kind).Inc()
}

func (m *Metrics) dropped(ch Channel) {
	if m == nil {
		return
	}
	m.SendsDroppedTotal.WithLabelValues(string(ch)).Inc()
}
