package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fruitvision/vision-server/internal/frame"
	"github.com/fruitvision/vision-server/internal/logger"
	"github.com/fruitvision/vision-server/pkg/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{
		Status:          "ok",
		DetectorLoaded:  s.detector != nil,
		SegmenterLoaded: s.segmenter != nil,
	})
}

// readUpload pulls the uploaded file out of the multipart form. A missing or
// unreadable part is a client error reported through writeFailure by the
// caller.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.metrics.DetectRequests.Add(1)

	payload, err := readUpload(w, r, s.cfg.MaxFrameBytes)
	if err != nil {
		writeFailure(w, "missing or unreadable file upload")
		return
	}
	f, err := frame.Decode(payload)
	if err != nil {
		s.metrics.DecodeErrors.Add(1)
		writeFailure(w, "could not decode image")
		return
	}

	start := time.Now()
	dets, err := s.detector.Detect(f)
	if err != nil {
		s.metrics.InferenceErrors.Add(1)
		logger.Error("api", "detect failed: %v", err)
		writeFailure(w, err.Error())
		return
	}
	elapsed := time.Since(start)
	s.metrics.UpdateDetectLatency(elapsed)

	if dets == nil {
		dets = []types.Detection{}
	}
	writeJSON(w, detectionResponse{
		Success:          true,
		Detections:       dets,
		ImageShape:       [2]int{f.Width, f.Height},
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
	})
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.metrics.SegmentRequests.Add(1)

	if s.segmenter == nil {
		writeFailure(w, "segmentation model not loaded")
		return
	}

	payload, err := readUpload(w, r, s.cfg.MaxFrameBytes)
	if err != nil {
		writeFailure(w, "missing or unreadable file upload")
		return
	}
	f, err := frame.Decode(payload)
	if err != nil {
		s.metrics.DecodeErrors.Add(1)
		writeFailure(w, "could not decode image")
		return
	}

	start := time.Now()
	masks, err := s.segmenter.Segment(f)
	if err != nil {
		s.metrics.InferenceErrors.Add(1)
		logger.Error("api", "segment failed: %v", err)
		writeFailure(w, err.Error())
		return
	}
	elapsed := time.Since(start)
	s.metrics.UpdateSegmentLatency(elapsed)

	if masks == nil {
		masks = []types.Mask{}
	}
	writeJSON(w, segmentationResponse{
		Success:          true,
		Masks:            masks,
		NumObjects:       len(masks),
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
	})
}

func (s *Server) handleProcessVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.metrics.VideoRequests.Add(1)

	file, _, err := r.FormFile("file")
	if err != nil {
		writeFailure(w, "missing or unreadable file upload")
		return
	}
	defer file.Close()

	enableSeg := r.FormValue("enable_segmentation") == "true"
	fps := 30.0
	if v := r.FormValue("fps"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			writeFailure(w, "invalid fps value")
			return
		}
		fps = parsed
	}

	summary, err := s.processor.Process(file, s.cfg.OutputDir, fps, enableSeg)
	if err != nil {
		logger.Error("api", "video processing failed: %v", err)
		writeFailure(w, err.Error())
		return
	}

	writeJSON(w, videoResponse{
		Success:         true,
		OutputFile:      summary.OutputFile,
		TotalFrames:     summary.TotalFrames,
		TotalDetections: summary.TotalDetections,
		FPS:             summary.FPS,
		Resolution:      summary.Resolution,
	})
}
