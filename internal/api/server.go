// Package api exposes the HTTP and websocket surface of the vision server.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fruitvision/vision-server/internal/config"
	"github.com/fruitvision/vision-server/internal/inference"
	"github.com/fruitvision/vision-server/internal/metrics"
	"github.com/fruitvision/vision-server/internal/relay"
	"github.com/fruitvision/vision-server/internal/video"
)

// Server holds the handler dependencies.
type Server struct {
	cfg       *config.Config
	detector  inference.Detector
	segmenter inference.Segmenter
	registry  *relay.Registry
	loop      *relay.Loop
	processor *video.Processor
	metrics   *metrics.Metrics
}

// NewServer wires handlers around loaded models. segmenter may be nil when
// no segmentation model is configured.
func NewServer(cfg *config.Config, detector inference.Detector, segmenter inference.Segmenter, m *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		detector:  detector,
		segmenter: segmenter,
		registry:  relay.NewRegistry(cfg.MaxSessions, m),
		loop:      relay.NewLoop(detector, m, cfg.MaxFrameBytes, cfg.IdleTimeout),
		processor: video.NewProcessor(detector, segmenter),
		metrics:   m,
	}
}

// Registry exposes the session registry for shutdown handling.
func (s *Server) Registry() *relay.Registry { return s.registry }

// Handler returns the routed HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/detect", s.handleDetect)
	mux.HandleFunc("/segment", s.handleSegment)
	mux.HandleFunc("/process-video", s.handleProcessVideo)
	mux.HandleFunc("/ws", s.handleWS)
	return corsMiddleware(mux)
}

// corsMiddleware mirrors the permissive policy browsers need to call the API
// from local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

// writeFailure reports a per-request failure. These are part of normal
// operation, so the status stays 200.
func writeFailure(w http.ResponseWriter, msg string) {
	writeJSON(w, map[string]any{"success": false, "error": msg})
}
