package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/chartforge/chartforge/internal/store"
	"github.com/chartforge/chartforge/internal/streaming"
	"github.com/chartforge/chartforge/pkg/schema"
)

// planRequest is the body of POST /api/plan and POST /api/sessions.
type planRequest struct {
	Messages []schema.Message `json:"messages"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	plans, err := s.deps.Orchestrator.Plan(r.Context(), req.Messages)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	if !wantsSSE(r) {
		writeJSON(w, http.StatusOK, plans)
		return
	}
	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	for _, p := range plans {
		stream.send("plan", p)
	}
	stream.done()
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req schema.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	res, err := s.deps.Orchestrator.Generate(r.Context(), &req)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	if !wantsSSE(r) {
		writeJSON(w, http.StatusOK, res)
		return
	}
	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	stream.send("result", res)
	stream.done()
}

func (s *Server) handleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []schema.GenerationRequest
	if err := decodeJSON(r, &reqs); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	results, err := s.deps.Orchestrator.GenerateBatch(r.Context(), reqs)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req schema.RepairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	res, err := s.deps.Orchestrator.Repair(r.Context(), &req)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCreateSession allocates the session id synchronously and returns
// it before any model work starts; the pipeline runs in the background
// under that id.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, s.deps.Logger,
			schema.NewError(schema.ErrCodeInvalidRequest, "conversation is required"))
		return
	}
	id := uuid.NewString()
	prompt := schema.LastUserMessage(req.Messages)
	if err := s.deps.Store.CreateSession(r.Context(), id, prompt); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	_ = s.deps.Store.AppendEvent(r.Context(), &store.Event{
		SessionID: id,
		Type:      schema.EventSessionCreated,
	})
	_ = s.deps.Hub.Publish(r.Context(), streaming.StreamEvent{
		SessionID: id,
		EventType: schema.EventSessionCreated,
	})
	s.deps.Orchestrator.Submit(id, req.Messages)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.deps.Store.ListRecentSessions(r.Context(), recentSessionsCap)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Store.LoadSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// syncRequest is the body of PUT /api/sessions/{id}: a partial update
// plus the revision the caller read.
type syncRequest struct {
	Revision int64                 `json:"revision"`
	Results  *[]schema.Result      `json:"results,omitempty"`
	Status   *schema.SessionStatus `json:"status,omitempty"`
}

func (s *Server) handleSyncSession(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	id := r.PathValue("id")
	err := s.deps.Store.SyncSession(r.Context(), id, req.Revision, schema.SessionUpdate{
		Results: req.Results,
		Status:  req.Status,
	})
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	s.notifyHistoryChanged(r.Context(), id)
	sess, err := s.deps.Store.LoadSession(r.Context(), id)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.deps.Orchestrator.Abandon(id)
	if err := s.deps.Store.DeleteSession(r.Context(), id); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	s.notifyHistoryChanged(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// notifyHistoryChanged fans the cross-view change notification out after
// a durable session write. Hub-only: history notifications are not part
// of any one session's event log.
func (s *Server) notifyHistoryChanged(ctx context.Context, sessionID string) {
	_ = s.deps.Hub.Publish(ctx, streaming.StreamEvent{
		EventType: schema.EventHistoryChanged,
		Payload:   map[string]string{"session_id": sessionID},
	})
}

// versionRequest is the body of the pointer-move endpoint. Version is an
// index into the chart's version list.
type versionRequest struct {
	Version int `json:"version"`
}

func (s *Server) handleSetVersion(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	sessionID := r.PathValue("id")
	chartID := r.PathValue("chartID")

	sess, err := s.deps.Store.LoadSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	resultID := ""
	for i := range sess.Results {
		for j := range sess.Results[i].Charts {
			if sess.Results[i].Charts[j].ID == chartID {
				resultID = sess.Results[i].ID
			}
		}
	}
	if resultID == "" {
		writeError(w, s.deps.Logger,
			schema.NewErrorf(schema.ErrCodeChartNotFound, "chart %s not found", chartID))
		return
	}
	if err := s.deps.Store.SetCurrentVersion(r.Context(), sessionID, resultID, chartID, req.Version); err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	s.notifyHistoryChanged(r.Context(), sessionID)
	updated, err := s.deps.Store.LoadSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, s.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
