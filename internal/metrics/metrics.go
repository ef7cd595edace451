package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flaresense/detection-server/pkg/types"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame loop counters
	FramesProcessed  atomic.Uint64
	CaptureErrors    atomic.Uint64
	DetectorErrors   atomic.Uint64
	Candidates       atomic.Uint64
	RejectedStatic   atomic.Uint64
	RejectedShaking  atomic.Uint64
	Confirmed        atomic.Uint64
	AlertsFired      atomic.Uint64
	EventsRecorded   atomic.Uint64
	ProcessLatencyMs atomic.Uint64 // Last frame processing latency in ms

	// Current state
	FireDetected  atomic.Uint64 // 0 = normal, 1 = fire
	StreamClients atomic.Int64
	WebRTCClients atomic.Int64

	channelFailures *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		channelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flaresense_channel_failures_total",
			Help: "Alert tasks that failed, by task name",
		}, []string{"task"}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("flaresense_frames_processed_total", "Total frames run through the confirmation pipeline", &m.FramesProcessed)
	m.counter("flaresense_capture_errors_total", "Total frame acquisition failures", &m.CaptureErrors)
	m.counter("flaresense_detector_errors_total", "Total failed detector calls", &m.DetectorErrors)
	m.counter("flaresense_candidates_total", "Total candidate boxes returned by the detector", &m.Candidates)
	m.counter("flaresense_rejected_static_total", "Candidates rejected as static decoys", &m.RejectedStatic)
	m.counter("flaresense_rejected_shaking_total", "Candidates rejected as shaking decoys", &m.RejectedShaking)
	m.counter("flaresense_confirmed_total", "Candidates confirmed as fire", &m.Confirmed)
	m.counter("flaresense_alerts_fired_total", "Alert triggers emitted by the gate", &m.AlertsFired)
	m.counter("flaresense_events_recorded_total", "Alerts persisted to the event log", &m.EventsRecorded)

	m.registry.MustRegister(m.channelFailures)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flaresense_process_latency_ms",
			Help: "Processing latency of the last frame in milliseconds",
		},
		func() float64 { return float64(m.ProcessLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flaresense_fire_detected",
			Help: "Published fire state (0=normal, 1=fire)",
		},
		func() float64 { return float64(m.FireDetected.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flaresense_stream_clients",
			Help: "Connected MJPEG stream clients",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flaresense_webrtc_clients",
			Help: "Connected WebRTC alert peers",
		},
		func() float64 { return float64(m.WebRTCClients.Load()) },
	))
}

// ObserveVerdict counts one classified candidate.
func (m *Metrics) ObserveVerdict(class types.RegionClass, confirmed bool) {
	m.Candidates.Add(1)
	switch {
	case class == types.ClassStatic:
		m.RejectedStatic.Add(1)
	case class == types.ClassShaking:
		m.RejectedShaking.Add(1)
	}
	if confirmed {
		m.Confirmed.Add(1)
	}
}

// FrameProcessed counts one completed cycle.
func (m *Metrics) FrameProcessed(latency time.Duration) {
	m.FramesProcessed.Add(1)
	m.UpdateProcessLatency(latency)
}

// CaptureFailed counts a failed frame read.
func (m *Metrics) CaptureFailed() {
	m.CaptureErrors.Add(1)
}

// DetectFailed counts a failed detector call.
func (m *Metrics) DetectFailed() {
	m.DetectorErrors.Add(1)
}

// AlertFired counts a gate trigger.
func (m *Metrics) AlertFired() {
	m.AlertsFired.Add(1)
}

// SetFireDetected updates the published fire gauge.
func (m *Metrics) SetFireDetected(detected bool) {
	if detected {
		m.FireDetected.Store(1)
		return
	}
	m.FireDetected.Store(0)
}

// UpdateProcessLatency stores the latest processing latency
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// TaskFailed counts a failed alert task.
func (m *Metrics) TaskFailed(task string) {
	m.channelFailures.WithLabelValues(task).Inc()
}

// EventRecorded counts a persisted alert.
func (m *Metrics) EventRecorded() {
	m.EventsRecorded.Add(1)
}

// StreamClientsChanged tracks MJPEG subscribers.
func (m *Metrics) StreamClientsChanged(n int) {
	m.StreamClients.Store(int64(n))
}

// WebRTCClientsChanged tracks data-channel peers.
func (m *Metrics) WebRTCClientsChanged(n int) {
	m.WebRTCClients.Store(int64(n))
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
