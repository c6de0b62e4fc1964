package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Health
	r.Route("/health", func(r chi.Router) {
		r.Get("/", s.health)
		r.Get("/agent", s.agentHealth)
	})

	// Project routes
	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.listProjects)
		r.Post("/", s.createProject)

		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.getProject)
			r.Put("/", s.updateProject)
			r.Delete("/", s.deleteProject)
			r.Get("/validate", s.validateProjectPath)

			// Live preview
			r.Post("/preview/start", s.startPreview)
			r.Post("/preview/stop", s.stopPreview)
			r.Get("/preview/status", s.previewStatus)

			// Transcripts recorded by the agent CLI outside zurk
			r.Route("/external-sessions", func(r chi.Router) {
				r.Get("/", s.listExternalSessions)
				r.Get("/{externalID}", s.getExternalSession)
				r.Post("/{externalID}/continue", s.continueExternalSession)
			})
		})
	})

	// Session routes
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)
		r.Get("/external", s.listAllExternalSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Get("/messages", s.getMessages)
			r.Post("/prompt", s.sendPrompt)

			// Approval workflow
			r.Post("/approve", s.approveToolUse)
			r.Post("/deny", s.denyToolUse)

			r.Post("/cancel", s.cancelSession)
			r.Post("/interrupt", s.interruptSession)

			// Event streaming (SSE)
			r.Get("/stream", s.sessionEvents)
		})
	})

	// Filesystem browsing for the folder picker
	r.Get("/filesystem/browse", s.browseDirectories)
}
