package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Session counters
	SessionsAccepted atomic.Uint64
	SessionsActive   atomic.Int64

	// Frame processing counters
	FramesReceived      atomic.Uint64
	FramesProcessed     atomic.Uint64
	FramesDecodeSkipped atomic.Uint64
	DetectionsTotal     atomic.Uint64
	BytesIn             atomic.Uint64
	BytesOut            atomic.Uint64

	// Error counters
	InferenceErrors atomic.Uint64
	ProtocolErrors  atomic.Uint64
	IOErrors        atomic.Uint64

	// Preview
	PreviewFramesRendered atomic.Uint64
	PreviewFramesDropped  atomic.Uint64
	PreviewClients        atomic.Int64

	// Latency of the last frame, in microseconds
	DecodeLatencyUs    atomic.Uint64
	InferenceLatencyUs atomic.Uint64
	FrameLatencyUs     atomic.Uint64

	inferenceSeconds prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
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

func (m *Metrics) gauge(name, help string, v func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		v,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("detection_sessions_accepted_total", "Total connections accepted", &m.SessionsAccepted)
	m.gauge("detection_sessions_active", "Sessions currently running (0 or 1)",
		func() float64 { return float64(m.SessionsActive.Load()) })

	m.counter("detection_frames_received_total", "Total frames read from the peer", &m.FramesReceived)
	m.counter("detection_frames_processed_total", "Total frames answered with a result", &m.FramesProcessed)
	m.counter("detection_frames_decode_skipped_total", "Frames that failed image decoding and got an empty result", &m.FramesDecodeSkipped)
	m.counter("detection_detections_total", "Total detections returned", &m.DetectionsTotal)
	m.counter("detection_bytes_in_total", "Payload bytes received", &m.BytesIn)
	m.counter("detection_bytes_out_total", "Payload bytes sent", &m.BytesOut)

	// Error metrics
	m.counter("detection_inference_errors_total", "Total failed inference calls", &m.InferenceErrors)
	m.counter("detection_protocol_errors_total", "Sessions ended by a framing violation", &m.ProtocolErrors)
	m.counter("detection_io_errors_total", "Sessions ended by a transport error", &m.IOErrors)

	m.counter("detection_preview_frames_rendered_total", "Annotated preview frames rendered", &m.PreviewFramesRendered)
	m.counter("detection_preview_frames_dropped_total", "Observations dropped while the preview was busy", &m.PreviewFramesDropped)
	m.gauge("detection_preview_clients", "Connected preview viewers",
		func() float64 { return float64(m.PreviewClients.Load()) })

	// Latency metrics
	m.gauge("detection_decode_latency_ms", "Image decode latency of the last frame in milliseconds",
		func() float64 { return float64(m.DecodeLatencyUs.Load()) / 1000 })
	m.gauge("detection_inference_latency_ms", "Inference latency of the last frame in milliseconds",
		func() float64 { return float64(m.InferenceLatencyUs.Load()) / 1000 })
	m.gauge("detection_frame_latency_ms", "Read-to-send latency of the last frame in milliseconds",
		func() float64 { return float64(m.FrameLatencyUs.Load()) / 1000 })

	m.inferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_inference_duration_seconds",
		Help:    "Distribution of inference call durations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	m.registry.MustRegister(m.inferenceSeconds)
}

// ObserveDecode records the decode latency of a frame
func (m *Metrics) ObserveDecode(d time.Duration) {
	m.DecodeLatencyUs.Store(uint64(d.Microseconds()))
}

// ObserveInference records the inference latency of a frame
func (m *Metrics) ObserveInference(d time.Duration) {
	m.InferenceLatencyUs.Store(uint64(d.Microseconds()))
	m.inferenceSeconds.Observe(d.Seconds())
}

// UpdateFrameLatency records the time since the frame was fully received
func (m *Metrics) UpdateFrameLatency(receivedAt time.Time) {
	m.FrameLatencyUs.Store(uint64(time.Since(receivedAt).Microseconds()))
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	SessionsAccepted      uint64  `json:"sessions_accepted"`
	SessionsActive        int64   `json:"sessions_active"`
	FramesReceived        uint64  `json:"frames_received"`
	FramesProcessed       uint64  `json:"frames_processed"`
	FramesDecodeSkipped   uint64  `json:"frames_decode_skipped"`
	DetectionsTotal       uint64  `json:"detections_total"`
	InferenceErrors       uint64  `json:"inference_errors"`
	ProtocolErrors        uint64  `json:"protocol_errors"`
	IOErrors              uint64  `json:"io_errors"`
	PreviewFramesRendered uint64  `json:"preview_frames_rendered"`
	PreviewFramesDropped  uint64  `json:"preview_frames_dropped"`
	InferenceLatencyMs    float64 `json:"inference_latency_ms"`
	FrameLatencyMs        float64 `json:"frame_latency_ms"`
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SessionsAccepted:      m.SessionsAccepted.Load(),
		SessionsActive:        m.SessionsActive.Load(),
		FramesReceived:        m.FramesReceived.Load(),
		FramesProcessed:       m.FramesProcessed.Load(),
		FramesDecodeSkipped:   m.FramesDecodeSkipped.Load(),
		DetectionsTotal:       m.DetectionsTotal.Load(),
		InferenceErrors:       m.InferenceErrors.Load(),
		ProtocolErrors:        m.ProtocolErrors.Load(),
		IOErrors:              m.IOErrors.Load(),
		PreviewFramesRendered: m.PreviewFramesRendered.Load(),
		PreviewFramesDropped:  m.PreviewFramesDropped.Load(),
		InferenceLatencyMs:    float64(m.InferenceLatencyUs.Load()) / 1000,
		FrameLatencyMs:        float64(m.FrameLatencyUs.Load()) / 1000,
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
