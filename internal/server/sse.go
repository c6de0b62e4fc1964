package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zurk-ai/zurk/internal/event"
)

// SSEHeartbeatInterval is the interval for SSE heartbeat comments.
const SSEHeartbeatInterval = 30 * time.Second

// sseEvent is the wire envelope for streamed events.
type sseEvent struct {
	Type event.EventType `json:"type"`
	Data any             `json:"data"`
}

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeEvent writes one SSE event and flushes it out immediately.
func (s *sseWriter) writeEvent(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", jsonData); err != nil {
		return err
	}

	// ResponseController flushes through middleware wrappers; fall back
	// to the plain Flusher if it cannot.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// sessionEvents handles GET /sessions/{sessionID}/stream: the current
// session status is replayed first, then live bus events for the
// session are streamed until the client disconnects.
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	// Replay current status so late subscribers know where the session
	// stands before live events arrive.
	if err := sse.writeEvent(sseEvent{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{
			SessionID:    sess.ID,
			Status:       sess.Status,
			ErrorMessage: sess.ErrorMessage,
		},
	}); err != nil {
		return
	}

	// Small buffer keeps latency low; bursts beyond it are dropped.
	events := make(chan event.Event, 16)
	unsub := s.bus.SubscribeSession(sessionID, func(e event.Event) {
		select {
		case events <- e:
		default:
			s.log.Warn().
				Str("eventType", string(e.Type)).
				Str("sessionID", sessionID).
				Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(sseEvent{Type: e.Type, Data: e.Data}); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
