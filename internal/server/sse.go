package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/chartforge/chartforge/internal/streaming"
	"github.com/chartforge/chartforge/pkg/schema"
)

// sseStream wraps a flushable response for event framing.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeStore, "streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseStream{w: w, flusher: flusher}, nil
}

func (s *sseStream) send(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, data)
	s.flusher.Flush()
}

func (s *sseStream) done() {
	fmt.Fprint(s.w, "event: done\ndata: {}\n\n")
	s.flusher.Flush()
}

// handleSSEGlobal streams every hub event, history notifications included.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{})
}

// handleSessionEvents streams one session's events. With Accept:
// application/json it instead returns the persisted event log, optionally
// after ?since=N.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if !wantsSSE(r) {
		since := int64(0)
		if q := r.URL.Query().Get("since"); q != "" {
			parsed, err := strconv.ParseInt(q, 10, 64)
			if err != nil {
				writeError(w, s.deps.Logger,
					schema.NewErrorf(schema.ErrCodeInvalidRequest, "invalid since value %q", q))
				return
			}
			since = parsed
		}
		events, err := s.deps.Store.GetEvents(r.Context(), sessionID, since)
		if err != nil {
			writeError(w, s.deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}
	s.serveSSE(w, r, streaming.EventFilter{SessionID: sessionID})
}

// serveSSE is the common live-stream implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("sse subscribe failed", "error", err)
		writeError(w, s.deps.Logger, err)
		return
	}
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			stream.send(event.EventType, event)
		}
	}
}
