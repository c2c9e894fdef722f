package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Request counters
	DetectRequests  atomic.Uint64
	SegmentRequests atomic.Uint64
	VideoRequests   atomic.Uint64

	// WebSocket relay counters
	FramesReceived  atomic.Uint64
	FramesProcessed atomic.Uint64

	// Error counters
	DecodeErrors    atomic.Uint64
	InferenceErrors atomic.Uint64
	ProtocolErrors  atomic.Uint64

	// Latency tracking
	DetectLatencyMs  atomic.Uint64
	SegmentLatencyMs atomic.Uint64

	// Session tracking
	ActiveSessions atomic.Uint64
	TotalSessions  atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its Prometheus collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"vision_detect_requests_total", "Total /detect requests handled", m.DetectRequests.Load},
		{"vision_segment_requests_total", "Total /segment requests handled", m.SegmentRequests.Load},
		{"vision_video_requests_total", "Total /process-video requests handled", m.VideoRequests.Load},
		{"vision_ws_frames_received_total", "Total frame messages received over WebSocket", m.FramesReceived.Load},
		{"vision_ws_frames_processed_total", "Total frames successfully processed over WebSocket", m.FramesProcessed.Load},
		{"vision_decode_errors_total", "Total frame decode failures", m.DecodeErrors.Load},
		{"vision_inference_errors_total", "Total model inference failures", m.InferenceErrors.Load},
		{"vision_protocol_errors_total", "Total unrecognized or malformed client messages", m.ProtocolErrors.Load},
		{"vision_detect_latency_ms", "Latest detection latency in milliseconds", m.DetectLatencyMs.Load},
		{"vision_segment_latency_ms", "Latest segmentation latency in milliseconds", m.SegmentLatencyMs.Load},
		{"vision_active_sessions", "Number of open WebSocket sessions", m.ActiveSessions.Load},
		{"vision_total_sessions", "Total WebSocket sessions accepted", m.TotalSessions.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateDetectLatency records the latency of the most recent detection.
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateSegmentLatency records the latency of the most recent segmentation.
func (m *Metrics) UpdateSegmentLatency(d time.Duration) {
	m.SegmentLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on addr.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
