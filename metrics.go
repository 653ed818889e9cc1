package chatlink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for realtime clients. A nil
// *Metrics disables collection.
type Metrics struct {
	ConnectAttempts prometheus.Counter
	ConnectionsLost prometheus.Counter
	OpenConnections prometheus.Gauge
	ReconnectDelay  prometheus.Histogram
	FramesReceived  *prometheus.CounterVec
	FramesSent      *prometheus.CounterVec
	SendFailures    *prometheus.CounterVec
}

// NewMetrics registers the chatlink collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_connect_attempts_total",
			Help: "Live connection attempts, including reconnects.",
		}),
		ConnectionsLost: f.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_connections_lost_total",
			Help: "Live connections that failed to open or closed unexpectedly.",
		}),
		OpenConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatlink_open_connections",
			Help: "Number of live connections currently open.",
		}),
		ReconnectDelay: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatlink_reconnect_delay_seconds",
			Help:    "Backoff delay scheduled before each reconnect.",
			Buckets: []float64{1, 2, 4, 8, 16, 30},
		}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatlink_frames_received_total",
			Help: "Inbound frames by wire shape.",
		}, []string{"shape"}),
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatlink_frames_sent_total",
			Help: "Outbound frames written to the live connection.",
		}, []string{"kind"}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatlink_send_failures_total",
			Help: "Outbound frames that could not be written.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) connectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.OpenConnections.Inc()
}

func (m *Metrics) closed(wasOpen bool) {
	if m == nil || !wasOpen {
		return
	}
	m.OpenConnections.Dec()
}

func (m *Metrics) lost(delaySeconds float64) {
	if m == nil {
		return
	}
	m.ConnectionsLost.Inc()
	m.ReconnectDelay.Observe(delaySeconds)
}

func (m *Metrics) received(shape Shape) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(shape.String()).Inc()
}

func (m *Metrics) sent(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SendFailures.WithLabelValues(kind).Inc()
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
}
