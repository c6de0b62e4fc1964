package server

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/zurk-ai/zurk/internal/discovery"
	"github.com/zurk-ai/zurk/internal/project"
	"github.com/zurk-ai/zurk/internal/store"
	"github.com/zurk-ai/zurk/pkg/types"
)

type projectCreateRequest struct {
	Name                string               `json:"name"`
	Path                string               `json:"path"`
	Description         string               `json:"description"`
	DefaultAllowedTools []string             `json:"default_allowed_tools"`
	PermissionMode      types.PermissionMode `json:"permission_mode"`
	AutoApprovePatterns []string             `json:"auto_approve_patterns"`
	ValidatePath        *bool                `json:"validate_path"`
	DevCommand          string               `json:"dev_command"`
	DevPort             int                  `json:"dev_port"`
}

type projectListResponse struct {
	Projects []*types.Project `json:"projects"`
	Total    int              `json:"total"`
}

// listProjects handles GET /projects.
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projectListResponse{Projects: projects, Total: len(projects)})
}

// createProject handles POST /projects.
func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name and path are required")
		return
	}

	created, err := s.registry.Register(project.RegisterArgs{
		Name:                req.Name,
		Path:                req.Path,
		Description:         req.Description,
		DefaultAllowedTools: req.DefaultAllowedTools,
		PermissionMode:      req.PermissionMode,
		AutoApprovePatterns: req.AutoApprovePatterns,
		DevCommand:          req.DevCommand,
		DevPort:             req.DevPort,
		SkipPathCheck:       req.ValidatePath != nil && !*req.ValidatePath,
	})
	if err != nil {
		s.writeProjectError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// getProject handles GET /projects/{projectID}.
func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// updateProject handles PUT /projects/{projectID}.
func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var upd types.ProjectUpdate
	if !decodeBody(w, r, &upd) {
		return
	}

	updated, err := s.registry.Update(chi.URLParam(r, "projectID"), upd)
	if err != nil {
		s.writeProjectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// deleteProject handles DELETE /projects/{projectID}. All sessions of
// the project go with it.
func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "projectID")); err != nil {
		s.writeProjectError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateProjectPath handles GET /projects/{projectID}/validate.
func (s *Server) validateProjectPath(w http.ResponseWriter, r *http.Request) {
	valid, err := s.registry.ValidatePath(chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeProjectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// startPreview handles POST /projects/{projectID}/preview/start.
func (s *Server) startPreview(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	if p.DevCommand == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "No dev_command configured for this project")
		return
	}
	writeJSON(w, http.StatusOK, s.preview.Start(p))
}

// stopPreview handles POST /projects/{projectID}/preview/stop.
func (s *Server) stopPreview(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	if !s.preview.GetStatus(p.ID).Running {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "No preview running for this project")
		return
	}
	writeJSON(w, http.StatusOK, s.preview.Stop(p.ID))
}

// previewStatus handles GET /projects/{projectID}/preview/status.
func (s *Server) previewStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.preview.GetStatus(p.ID))
}

type externalSessionListResponse struct {
	Sessions    []discovery.ExternalSession `json:"sessions"`
	Total       int                         `json:"total"`
	ProjectPath string                      `json:"project_path"`
	AgentDir    string                      `json:"claude_dir"`
}

// listExternalSessions handles GET /projects/{projectID}/external-sessions.
// It surfaces transcripts the agent CLI recorded for this project without
// importing them.
func (s *Server) listExternalSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}

	sessions := s.scanner.DiscoverSessions(p.Path)
	writeJSON(w, http.StatusOK, externalSessionListResponse{
		Sessions:    sessions,
		Total:       len(sessions),
		ProjectPath: p.Path,
		AgentDir:    s.scanner.SessionsDir(p.Path),
	})
}

type externalSessionDetailResponse struct {
	discovery.SessionMeta
	Messages      []discovery.ParsedMessage `json:"messages"`
	TotalMessages int                       `json:"total_messages"`
}

// getExternalSession handles GET /projects/{projectID}/external-sessions/{externalID}.
// Read-only: the transcript file is never modified.
func (s *Server) getExternalSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}

	path, ok := s.resolveSessionFile(w, p, chi.URLParam(r, "externalID"))
	if !ok {
		return
	}

	meta, messages, err := discovery.ReadSessionMessages(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to read session file: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, externalSessionDetailResponse{
		SessionMeta:   meta,
		Messages:      messages,
		TotalMessages: len(messages),
	})
}

type continueExternalRequest struct {
	Prompt string `json:"prompt"`
	Name   string `json:"name"`
}

// continueExternalSession handles POST
// /projects/{projectID}/external-sessions/{externalID}/continue. A new
// session row is created with the external agent session ID pre-bound,
// and the run resumes in the background.
func (s *Server) continueExternalSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}

	var req continueExternalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt is required")
		return
	}

	path, ok := s.resolveSessionFile(w, p, chi.URLParam(r, "externalID"))
	if !ok {
		return
	}
	agentSessionID := discovery.ReadAgentSessionID(path)

	sess := &types.Session{
		ProjectID:      p.ID,
		Name:           req.Name,
		AgentSessionID: agentSessionID,
		PermissionMode: p.PermissionMode,
		LastPrompt:     req.Prompt,
	}
	if err := s.store.CreateSession(sess); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	go s.orch.RunResume(context.Background(), p, sess.ID, agentSessionID, req.Prompt)

	writeJSON(w, http.StatusCreated, sess)
}

// lookupProject resolves the projectID URL param, writing the error
// response itself when the project is missing.
func (s *Server) lookupProject(w http.ResponseWriter, r *http.Request) (*types.Project, bool) {
	p, err := s.registry.Get(chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeProjectError(w, err)
		return nil, false
	}
	return p, true
}

// resolveSessionFile locates the transcript file for an external session
// id within a project, writing a 404 when it does not exist.
func (s *Server) resolveSessionFile(w http.ResponseWriter, p *types.Project, externalID string) (string, bool) {
	path := s.scanner.SessionFile(p.Path, externalID)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session file not found: "+externalID)
		return "", false
	}
	return path, true
}

func (s *Server) writeProjectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, project.ErrPathExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, project.ErrPathInvalid), errors.Is(err, project.ErrInvalidPermissionMode):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
