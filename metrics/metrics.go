package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for FramesDropped.
const (
	DropShort    = "short"
	DropLength   = "length"
	DropMetadata = "metadata"
	DropText     = "text"
)

// Metrics holds the server's Prometheus instruments. Each instance owns a
// private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived   prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	AudioBytes       prometheus.Counter
	ResampleFailures prometheus.Counter

	Events       *prometheus.CounterVec
	SendFailures prometheus.Counter
	PullErrors   prometheus.Counter

	// RecognizerRestarts counts attempts to reopen a session that ended
	// without being stopped.
	RecognizerRestarts prometheus.Counter

	Clients prometheus.Gauge
	State   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_frames_received_total",
			Help: "Binary frames received from clients",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hark_frames_dropped_total",
			Help: "Inbound messages discarded before reaching the recognizer",
		}, []string{"reason"}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_audio_bytes_total",
			Help: "PCM16 bytes handed to the recognizer",
		}),
		ResampleFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_resample_failures_total",
			Help: "Frames passed through unresampled after a resampler error",
		}),

		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hark_events_broadcast_total",
			Help: "Transcription events broadcast to clients",
		}, []string{"type"}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_send_failures_total",
			Help: "Sends that failed and evicted a client",
		}),
		PullErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_pull_errors_total",
			Help: "Failed attempts to pull a final sentence from the recognizer",
		}),
		RecognizerRestarts: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_recognizer_restarts_total",
			Help: "Attempts to start a new recognizer session after one ended",
		}),

		Clients: f.NewGauge(prometheus.GaugeOpts{
			Name: "hark_clients",
			Help: "Currently connected clients",
		}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "hark_server_state",
			Help: "Supervisor state, 0=Uninitialized through 5=Stopped",
		}),
	}
}

func (m *Metrics) RecordDrop(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordEvent(kind string) {
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
