package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zurk-ai/zurk/internal/discovery"
	"github.com/zurk-ai/zurk/internal/orchestrator"
	"github.com/zurk-ai/zurk/internal/store"
	"github.com/zurk-ai/zurk/pkg/types"
)

type sessionCreateRequest struct {
	ProjectID string `json:"project_id"`
	Prompt    string `json:"prompt"`
	Name      string `json:"name"`
}

type sessionListResponse struct {
	Sessions []*types.Session `json:"sessions"`
	Total    int              `json:"total"`
}

type sessionWithMessages struct {
	*types.Session
	Messages []*types.Message `json:"messages"`
}

type messageListResponse struct {
	Messages []*types.Message `json:"messages"`
	Total    int              `json:"total"`
}

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// listSessions handles GET /sessions with project, status and paging
// filters.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.SessionFilter{
		ProjectID: q.Get("project_id"),
		Limit:     queryInt(q.Get("limit"), types.DefaultListLimit),
		Offset:    queryInt(q.Get("offset"), 0),
	}
	if raw := q.Get("session_status"); raw != "" {
		status := types.SessionStatus(raw)
		if !validStatus(status) {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid status: "+raw)
			return
		}
		filter.Status = status
	}

	sessions, total, err := s.store.ListSessions(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: sessions, Total: total})
}

// createSession handles POST /sessions: the session row is created
// immediately and the agent starts in the background. Clients follow
// progress over the SSE stream.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProjectID == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "project_id and prompt are required")
		return
	}

	p, err := s.registry.Get(req.ProjectID)
	if err != nil {
		s.writeProjectError(w, err)
		return
	}

	sess := &types.Session{
		ProjectID:      p.ID,
		Name:           req.Name,
		PermissionMode: p.PermissionMode,
		LastPrompt:     req.Prompt,
	}
	if err := s.store.CreateSession(sess); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	go s.orch.RunStart(context.Background(), p, sess.ID, req.Prompt)

	writeJSON(w, http.StatusCreated, sess)
}

// getSession handles GET /sessions/{sessionID}. Messages are included
// unless include_messages=false.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	messages := []*types.Message{}
	if r.URL.Query().Get("include_messages") != "false" {
		var err error
		messages, _, err = s.store.GetMessages(sess.ID, 0, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, sessionWithMessages{Session: sess, Messages: messages})
}

// sendPrompt handles POST /sessions/{sessionID}/prompt. A session that
// already has an agent session id resumes that conversation; otherwise
// a fresh run starts. The fresh path also covers crashed sessions that
// never bound an agent id.
func (s *Server) sendPrompt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt is required")
		return
	}

	p, err := s.registry.Get(sess.ProjectID)
	if err != nil {
		s.writeProjectError(w, err)
		return
	}

	if sess.AgentSessionID != "" {
		go s.orch.RunResume(context.Background(), p, sess.ID, sess.AgentSessionID, req.Prompt)
	} else {
		go s.orch.RunStart(context.Background(), p, sess.ID, req.Prompt)
	}

	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /sessions/{sessionID}.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if s.runtime.IsActive(sessionID) {
		s.runtime.Disconnect(sessionID)
	}

	if err := s.store.DeleteSession(sessionID); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getMessages handles GET /sessions/{sessionID}/messages with paging.
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	messages, total, err := s.store.GetMessages(
		chi.URLParam(r, "sessionID"),
		queryInt(q.Get("limit"), 0),
		queryInt(q.Get("offset"), 0),
	)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageListResponse{Messages: messages, Total: total})
}

// approveToolUse handles POST /sessions/{sessionID}/approve.
func (s *Server) approveToolUse(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.orch.Approve(chi.URLParam(r, "sessionID"), req.Feedback); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "resumed"})
}

// denyToolUse handles POST /sessions/{sessionID}/deny. The feedback is
// relayed to the agent as the denial reason.
func (s *Server) denyToolUse(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.orch.Deny(chi.URLParam(r, "sessionID"), req.Feedback); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "denied"})
}

// cancelSession handles POST /sessions/{sessionID}/cancel: tear down
// the agent, release any pending approval, land the session in error.
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.Cancel(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(result)})
}

// interruptSession handles POST /sessions/{sessionID}/interrupt: ask a
// running agent to stop its current turn without tearing it down.
func (s *Server) interruptSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.runtime.Interrupt(sess.ID); err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "interrupted"})
}

type globalExternalSession struct {
	discovery.ExternalSession
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

type globalExternalListResponse struct {
	Sessions []globalExternalSession `json:"sessions"`
	Total    int                     `json:"total"`
}

// listAllExternalSessions handles GET /sessions/external: transcripts
// across every registered project, enriched with project context and
// sorted newest first.
func (s *Server) listAllExternalSessions(w http.ResponseWriter, r *http.Request) {
	projects, err := s.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), types.DefaultListLimit)

	all := []globalExternalSession{}
	for _, p := range projects {
		for _, ext := range s.scanner.DiscoverSessions(p.Path) {
			all = append(all, globalExternalSession{
				ExternalSession: ext,
				ProjectID:       p.ID,
				ProjectName:     p.Name,
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartedAt > all[j].StartedAt
	})

	total := len(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	writeJSON(w, http.StatusOK, globalExternalListResponse{Sessions: all, Total: total})
}

// lookupSession resolves the sessionID URL param, writing the error
// response itself when the session is missing.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	sess, err := s.store.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeSessionError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrNotWaitingApproval),
		errors.Is(err, orchestrator.ErrNoPendingApproval):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

func validStatus(status types.SessionStatus) bool {
	switch status {
	case types.StatusIdle, types.StatusRunning, types.StatusWaitingApproval,
		types.StatusCompleted, types.StatusError:
		return true
	}
	return false
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
