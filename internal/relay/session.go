// Package relay implements the per-connection frame processing loop behind
// the websocket endpoint: receive a frame message, run detection, send the
// results back, repeat until the peer disconnects.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fruitvision/vision-server/internal/logger"
	"github.com/fruitvision/vision-server/internal/metrics"
)

// ErrRegistryFull is returned by Add when the configured session limit is
// reached.
var ErrRegistryFull = errors.New("session limit reached")

// Session is one live websocket connection. All fields except the write
// mutex are owned by the single loop driving the connection; framesProcessed
// is only ever incremented by that loop.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex

	framesProcessed int
	lastFrameAt     time.Time
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		conn:      conn,
	}
}

// send serializes writes to the connection so loop responses and registry
// broadcasts do not interleave.
func (s *Session) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// FramesProcessed reports how many frame messages this session has
// successfully processed. Only meaningful from the owning loop.
func (s *Session) FramesProcessed() int { return s.framesProcessed }

// Registry tracks live sessions for bookkeeping, the optional session limit
// and shutdown broadcast.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	max      int
	metrics  *metrics.Metrics
}

// NewRegistry creates a registry. max <= 0 means unbounded.
func NewRegistry(max int, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
		metrics:  m,
	}
}

// Add registers a new session for conn, enforcing the session limit.
func (r *Registry) Add(conn *websocket.Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		return nil, ErrRegistryFull
	}
	s := newSession(conn)
	r.sessions[s.ID] = s
	r.metrics.ActiveSessions.Store(uint64(len(r.sessions)))
	r.metrics.TotalSessions.Add(1)
	logger.Debug("relay", "session %s registered (%d active)", s.ID, len(r.sessions))
	return s, nil
}

// Remove deregisters a session after its loop exits.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
	r.metrics.ActiveSessions.Store(uint64(len(r.sessions)))
	logger.Debug("relay", "session %s removed (%d active)", s.ID, len(r.sessions))
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Broadcast sends v to every active session. Write failures are logged and
// left for the owning loop to observe on its next read.
func (r *Registry) Broadcast(v any) {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		if err := s.send(v); err != nil {
			logger.Warn("relay", "broadcast to %s failed: %v", s.ID, err)
		}
	}
}

// CloseAll closes every active connection. Used during shutdown; the loops
// observe the close on their next read and unregister themselves.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		s.writeMu.Unlock()
		s.conn.Close()
	}
}
