package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fruitvision/vision-server/internal/frame"
	"github.com/fruitvision/vision-server/internal/inference"
	"github.com/fruitvision/vision-server/internal/logger"
	"github.com/fruitvision/vision-server/internal/metrics"
	"github.com/fruitvision/vision-server/pkg/types"
)

// clientMessage is the envelope clients send over the websocket.
type clientMessage struct {
	Type  string `json:"type"`
	Frame string `json:"frame"`
}

// detectionResults is the reply to a successfully processed frame.
type detectionResults struct {
	Type             string            `json:"type"`
	Detections       []types.Detection `json:"detections"`
	ProcessingTimeMs float64           `json:"processing_time_ms"`
}

// errorMessage is the reply to any frame, message or decode failure. Errors
// never terminate the session.
type errorMessage struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Loop drives sessions. One Run call per connection; frames within a session
// are strictly sequential, one in flight at a time.
type Loop struct {
	detector      inference.Detector
	metrics       *metrics.Metrics
	maxFrameBytes int64
	idleTimeout   time.Duration
}

func NewLoop(detector inference.Detector, m *metrics.Metrics, maxFrameBytes int64, idleTimeout time.Duration) *Loop {
	return &Loop{
		detector:      detector,
		metrics:       m,
		maxFrameBytes: maxFrameBytes,
		idleTimeout:   idleTimeout,
	}
}

// Run processes messages on s until the peer disconnects or the read fails.
// The caller is responsible for registry cleanup and closing the connection.
func (l *Loop) Run(s *Session) {
	if l.maxFrameBytes > 0 {
		s.conn.SetReadLimit(l.maxFrameBytes)
	}

	for {
		if l.idleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(l.idleTimeout))
		}
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("relay", "session %s read ended: %v", s.ID, err)
			}
			return
		}
		l.handleMessage(s, payload)
	}
}

// handleMessage processes one inbound message. All failures are reported to
// the client and the loop continues.
func (l *Loop) handleMessage(s *Session, payload []byte) {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		l.metrics.ProtocolErrors.Add(1)
		l.sendError(s, "invalid message: malformed JSON")
		return
	}
	if msg.Type != "frame" {
		l.metrics.ProtocolErrors.Add(1)
		l.sendError(s, "unknown message type")
		return
	}

	l.metrics.FramesReceived.Add(1)

	f, err := frame.DecodeString(msg.Frame)
	if err != nil {
		l.metrics.DecodeErrors.Add(1)
		l.sendError(s, "frame decode failed")
		return
	}

	start := time.Now()
	dets, err := l.detector.Detect(f)
	if err != nil {
		l.metrics.InferenceErrors.Add(1)
		logger.Error("relay", "session %s inference failed: %v", s.ID, err)
		l.sendError(s, err.Error())
		return
	}
	elapsed := time.Since(start)
	l.metrics.UpdateDetectLatency(elapsed)

	if dets == nil {
		dets = []types.Detection{}
	}
	reply := detectionResults{
		Type:             "detection_results",
		Detections:       dets,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
	}
	if err := s.send(reply); err != nil {
		logger.Debug("relay", "session %s write failed: %v", s.ID, err)
		return
	}

	s.framesProcessed++
	s.lastFrameAt = time.Now()
	l.metrics.FramesProcessed.Add(1)
}

func (l *Loop) sendError(s *Session, msg string) {
	if err := s.send(errorMessage{Success: false, Error: msg}); err != nil {
		logger.Debug("relay", "session %s error write failed: %v", s.ID, err)
	}
}
