package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fruitvision/vision-server/internal/config"
	"github.com/fruitvision/vision-server/internal/frame"
	"github.com/fruitvision/vision-server/internal/inference"
	"github.com/fruitvision/vision-server/internal/metrics"
	"github.com/fruitvision/vision-server/pkg/types"
)

type stubDetector struct {
	dets []types.Detection
	err  error
}

func (d *stubDetector) Detect(f *frame.Frame) ([]types.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.dets, nil
}

type stubSegmenter struct {
	masks []types.Mask
	err   error
}

func (s *stubSegmenter) Segment(f *frame.Frame) ([]types.Mask, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.masks, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MaxFrameBytes: 8 << 20,
		OutputDir:     t.TempDir(),
	}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 18))
	for y := 0; y < 18; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "upload.bin")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func postMultipart(t *testing.T, srv *httptest.Server, path string, payload []byte, fields map[string]string) map[string]any {
	t.Helper()
	body, contentType := multipartBody(t, payload, fields)
	resp, err := http.Post(srv.URL+path, contentType, body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: unexpected status %d", path, resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func newTestServer(t *testing.T, det *stubDetector, seg *stubSegmenter) *httptest.Server {
	t.Helper()
	// keep a typed nil stub from turning into a non-nil interface value
	var segmenter inference.Segmenter
	if seg != nil {
		segmenter = seg
	}
	s := NewServer(testConfig(t), det, segmenter, metrics.New())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, &stubSegmenter{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("unexpected status field: %v", out["status"])
	}
	if out["detector_loaded"] != true || out["segmenter_loaded"] != true {
		t.Errorf("unexpected model flags: %v", out)
	}
}

func TestHealthWithoutSegmenter(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, nil)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["segmenter_loaded"] != false {
		t.Errorf("expected segmenter_loaded false, got %v", out)
	}
}

func TestDetectReturnsDetections(t *testing.T) {
	box := types.BoundingBox{X1: 1, Y1: 2, X2: 11, Y2: 12}
	det := &stubDetector{dets: []types.Detection{{
		ID: 0, Class: "orange", Confidence: 0.91, BBox: box.Array(), Box: box,
	}}}
	srv := newTestServer(t, det, nil)

	out := postMultipart(t, srv, "/detect", testJPEG(t), nil)
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	dets := out["detections"].([]any)
	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	first := dets[0].(map[string]any)
	if first["class"] != "orange" {
		t.Errorf("unexpected class: %v", first["class"])
	}
	shape := out["image_shape"].([]any)
	if shape[0].(float64) != 24 || shape[1].(float64) != 18 {
		t.Errorf("unexpected image_shape: %v", shape)
	}
	if _, ok := out["processing_time_ms"].(float64); !ok {
		t.Errorf("missing processing_time_ms")
	}
}

func TestDetectRejectsNonImage(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, nil)
	out := postMultipart(t, srv, "/detect", []byte("definitely not an image"), nil)
	if out["success"] != false {
		t.Fatalf("expected success false for non-image upload, got %v", out)
	}
	if out["error"] == "" {
		t.Errorf("expected an error message")
	}
}

func TestDetectMissingFile(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, nil)
	resp, err := http.Post(srv.URL+"/detect", "multipart/form-data; boundary=x", strings.NewReader("--x--"))
	if err != nil {
		t.Fatalf("POST /detect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["success"] != false {
		t.Errorf("expected failure for missing file, got %v", out)
	}
}

func TestDetectInferenceError(t *testing.T) {
	srv := newTestServer(t, &stubDetector{err: errors.New("inference failed: resource exhausted")}, nil)
	out := postMultipart(t, srv, "/detect", testJPEG(t), nil)
	if out["success"] != false {
		t.Fatalf("expected failure, got %v", out)
	}
	if !strings.Contains(out["error"].(string), "resource exhausted") {
		t.Errorf("expected error detail, got %v", out["error"])
	}
}

func TestDetectMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, nil)
	resp, err := http.Get(srv.URL + "/detect")
	if err != nil {
		t.Fatalf("GET /detect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestSegmentReturnsMasks(t *testing.T) {
	seg := &stubSegmenter{masks: []types.Mask{{
		ID: 0, Class: "apple", Confidence: 0.8, BBox: [4]float64{0, 0, 5, 5}, Mask: "aGk=", Area: 12,
	}}}
	srv := newTestServer(t, &stubDetector{}, seg)

	out := postMultipart(t, srv, "/segment", testJPEG(t), nil)
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	if out["num_objects"].(float64) != 1 {
		t.Errorf("expected num_objects 1, got %v", out["num_objects"])
	}
	masks := out["masks"].([]any)
	if masks[0].(map[string]any)["mask"] != "aGk=" {
		t.Errorf("unexpected mask payload: %v", masks[0])
	}
}

func TestSegmentWithoutModel(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, nil)
	out := postMultipart(t, srv, "/segment", testJPEG(t), nil)
	if out["success"] != false {
		t.Fatalf("expected failure without segmentation model, got %v", out)
	}
}

func TestProcessVideo(t *testing.T) {
	box := types.BoundingBox{X1: 1, Y1: 1, X2: 10, Y2: 10}
	det := &stubDetector{dets: []types.Detection{{
		Class: "apple", Confidence: 0.9, BBox: box.Array(), Box: box,
	}}}
	srv := newTestServer(t, det, nil)

	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		stream.Write(testJPEG(t))
	}
	out := postMultipart(t, srv, "/process-video", stream.Bytes(), map[string]string{"fps": "15"})
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	if out["total_frames"].(float64) != 3 {
		t.Errorf("expected 3 frames, got %v", out["total_frames"])
	}
	if out["total_detections"].(float64) != 1 {
		t.Errorf("expected 1 distinct object, got %v", out["total_detections"])
	}
	if out["fps"].(float64) != 15 {
		t.Errorf("expected fps 15, got %v", out["fps"])
	}
	res := out["resolution"].([]any)
	if res[0].(float64) != 24 || res[1].(float64) != 18 {
		t.Errorf("unexpected resolution: %v", res)
	}
}

func TestProcessVideoInvalidFPS(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, nil)
	out := postMultipart(t, srv, "/process-video", testJPEG(t), map[string]string{"fps": "-1"})
	if out["success"] != false {
		t.Fatalf("expected failure for invalid fps, got %v", out)
	}
}

func TestProcessVideoSegmentationWithoutModel(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, nil)
	out := postMultipart(t, srv, "/process-video", testJPEG(t), map[string]string{"enable_segmentation": "true"})
	if out["success"] != false {
		t.Fatalf("expected failure, got %v", out)
	}
}

func TestWebSocketEndpoint(t *testing.T) {
	box := types.BoundingBox{X1: 0, Y1: 0, X2: 4, Y2: 4}
	det := &stubDetector{dets: []types.Detection{{Class: "pear", Confidence: 0.7, BBox: box.Array(), Box: box}}}
	srv := newTestServer(t, det, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing /ws: %v", err)
	}
	defer conn.Close()

	msg, _ := json.Marshal(map[string]string{"type": "frame", "frame": hex.EncodeToString(testJPEG(t))})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	if reply["type"] != "detection_results" {
		t.Fatalf("unexpected reply: %v", reply)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &stubDetector{}, nil)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/detect", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /detect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}
