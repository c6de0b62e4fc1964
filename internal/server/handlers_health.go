package server

import (
	"context"
	"net/http"
	"os/exec"
	"time"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type agentHealthResponse struct {
	Status       string `json:"status"`
	CLIAvailable bool   `json:"cli_available"`
	Error        string `json:"error,omitempty"`
}

// health reports service liveness.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: Version})
}

// agentHealth checks that the agent CLI is installed and runnable. It
// invokes --version locally; no network call is made.
func (s *Server) agentHealth(w http.ResponseWriter, r *http.Request) {
	binary := s.config.AgentBinary
	if binary == "" {
		binary = "claude"
	}

	if _, err := exec.LookPath(binary); err != nil {
		writeJSON(w, http.StatusOK, agentHealthResponse{
			Status:       "unhealthy",
			CLIAvailable: false,
			Error:        "agent CLI not found in PATH",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := exec.CommandContext(ctx, binary, "--version").Run()
	switch {
	case ctx.Err() != nil:
		writeJSON(w, http.StatusOK, agentHealthResponse{
			Status:       "unhealthy",
			CLIAvailable: false,
			Error:        "CLI check timed out",
		})
	case err != nil:
		writeJSON(w, http.StatusOK, agentHealthResponse{
			Status:       "degraded",
			CLIAvailable: false,
			Error:        "CLI check failed: " + err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, agentHealthResponse{
			Status:       "healthy",
			CLIAvailable: true,
		})
	}
}
