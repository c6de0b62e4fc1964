// Package agent runs coding-agent CLI sessions as subprocesses and
// normalizes their stream-json output into events. The runtime tracks
// one live client per session and bridges the CLI's tool permission
// requests into the approval workflow.
package agent

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/zurk-ai/zurk/internal/approval"
	"github.com/zurk-ai/zurk/internal/config"
	"github.com/zurk-ai/zurk/internal/logging"
	"github.com/zurk-ai/zurk/pkg/types"
)

// NotifyFunc is called when a tool invocation is waiting on a user
// decision, before the runtime blocks on the approval gate.
type NotifyFunc func(sessionID string, req *approval.Request)

// Runtime manages active agent processes keyed by session id.
type Runtime struct {
	cfg       *config.Config
	approvals *approval.Handler

	mu      sync.Mutex
	clients map[string]*Client
	notify  map[string]NotifyFunc
}

// NewRuntime creates a runtime. The approval handler may be shared
// with the HTTP layer that resolves decisions.
func NewRuntime(cfg *config.Config, approvals *approval.Handler) *Runtime {
	return &Runtime{
		cfg:       cfg,
		approvals: approvals,
		clients:   make(map[string]*Client),
		notify:    make(map[string]NotifyFunc),
	}
}

// SetNotify registers a callback invoked when the session's agent is
// blocked waiting for a tool approval.
func (r *Runtime) SetNotify(sessionID string, fn NotifyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify[sessionID] = fn
}

// StartSession launches a new agent process for the session and sends
// the initial prompt. The returned channel carries the session's event
// stream and closes when the process exits.
func (r *Runtime) StartSession(ctx context.Context, project *types.Project, sess *types.Session, prompt string) (<-chan types.AgentEvent, error) {
	return r.launch(ctx, project, sess, prompt, "")
}

// ResumeSession launches an agent process that resumes a previous
// agent-side conversation, preserving its context.
func (r *Runtime) ResumeSession(ctx context.Context, project *types.Project, sess *types.Session, prompt, agentSessionID string) (<-chan types.AgentEvent, error) {
	if agentSessionID == "" {
		return nil, fmt.Errorf("session %s has no agent session to resume", sess.ID)
	}
	return r.launch(ctx, project, sess, prompt, agentSessionID)
}

func (r *Runtime) launch(ctx context.Context, project *types.Project, sess *types.Session, prompt, resume string) (<-chan types.AgentEvent, error) {
	if info, err := os.Stat(project.Path); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrProjectPathMissing, project.Path)
	}

	client := NewClient(Options{
		Binary:         r.cfg.AgentBinary,
		WorkDir:        project.Path,
		Model:          r.effectiveModel(sess),
		PermissionMode: r.effectiveMode(project, sess),
		AllowedTools:   r.effectiveTools(project, sess),
		SystemPrompt:   sess.SystemPrompt,
		Resume:         resume,
		CanUseTool:     r.makeCanUseTool(sess.ID),
	})
	if err := client.Start(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.clients[sess.ID] = client
	r.mu.Unlock()

	if err := client.Query(prompt); err != nil {
		r.Disconnect(sess.ID)
		return nil, fmt.Errorf("failed to send prompt: %w", err)
	}

	logger := logging.ForSession(sess.ID)
	logger.Info().
		Str("project_id", project.ID).
		Bool("resume", resume != "").
		Msg("agent session launched")
	return r.watch(client), nil
}

// Interrupt stops the session's current turn without disconnecting.
func (r *Runtime) Interrupt(sessionID string) error {
	r.mu.Lock()
	client := r.clients[sessionID]
	r.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, sessionID)
	}
	return client.Interrupt()
}

// Disconnect shuts down the session's agent process and clears any
// pending approval so a blocked gate cannot hang forever.
func (r *Runtime) Disconnect(sessionID string) {
	r.mu.Lock()
	client := r.clients[sessionID]
	delete(r.clients, sessionID)
	delete(r.notify, sessionID)
	r.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			logger := logging.ForSession(sessionID)
			logger.Warn().Err(err).Msg("error closing agent client")
		}
	}
	if r.approvals != nil {
		r.approvals.ClearPending(sessionID)
	}
}

// IsActive reports whether the session has a live agent process.
func (r *Runtime) IsActive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[sessionID]
	return ok
}

// Cleanup disconnects every active session. Called on shutdown.
func (r *Runtime) Cleanup() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Disconnect(id)
	}
	if len(ids) > 0 {
		logger := logging.ForComponent("agent")
		logger.Info().Int("sessions", len(ids)).Msg("cleaned up active sessions")
	}
}

// watch forwards client events. A process that dies without sending a
// result event gets a synthetic error result carrying its stderr tail.
func (r *Runtime) watch(client *Client) <-chan types.AgentEvent {
	out := make(chan types.AgentEvent, 64)
	go func() {
		defer close(out)
		sawResult := false
		for ev := range client.Events() {
			if ev.Kind == types.EventResult {
				sawResult = true
			}
			out <- ev
		}
		if err := client.Err(); err != nil && !sawResult {
			msg := fmt.Sprintf("agent process failed: %v", err)
			if tail := client.StderrTail(); tail != "" {
				msg += "\n" + tail
			}
			out <- types.AgentEvent{Kind: types.EventResult, Success: false, ErrorText: msg}
		}
	}()
	return out
}

// makeCanUseTool builds the permission callback for one session. Tools
// covered by auto-approve rules pass straight through; everything else
// queues an approval request and blocks until the user decides or the
// configured timeout denies it.
func (r *Runtime) makeCanUseTool(sessionID string) CanUseToolFunc {
	return func(ctx context.Context, toolName string, toolInput map[string]any, toolUseID string) (bool, string) {
		if r.approvals == nil || !r.approvals.RequiresApproval(toolName, toolInput) {
			return true, ""
		}

		log := logging.ForSession(sessionID)
		log.Info().Str("tool", toolName).Msg("tool requires approval")

		req := r.approvals.Queue(sessionID, toolName, toolInput, toolUseID)

		r.mu.Lock()
		notify := r.notify[sessionID]
		r.mu.Unlock()
		if notify != nil {
			notify(sessionID, req)
		}

		approved, feedback := req.Wait(ctx, r.cfg.ApprovalTimeout)
		// The request must leave the queue however Wait resolved, or a
		// timed-out approval would still accept a later decision.
		r.approvals.Release(req)
		if approved {
			log.Info().Str("tool", toolName).Msg("tool approved")
			return true, ""
		}
		if feedback == "" {
			feedback = fmt.Sprintf("User denied %s execution", toolName)
		}
		log.Info().Str("tool", toolName).Str("reason", feedback).Msg("tool denied")
		return false, feedback
	}
}

func (r *Runtime) effectiveModel(sess *types.Session) string {
	if sess.Model != "" {
		return sess.Model
	}
	return r.cfg.DefaultModel
}

func (r *Runtime) effectiveMode(project *types.Project, sess *types.Session) types.PermissionMode {
	if sess.PermissionMode != "" {
		return sess.PermissionMode
	}
	if project.PermissionMode != "" {
		return project.PermissionMode
	}
	return types.PermissionMode(r.cfg.DefaultPermissionMode)
}

func (r *Runtime) effectiveTools(project *types.Project, sess *types.Session) []string {
	if len(sess.AllowedTools) > 0 {
		return sess.AllowedTools
	}
	if len(project.DefaultAllowedTools) > 0 {
		return project.DefaultAllowedTools
	}
	return append([]string(nil), types.DefaultAllowedTools...)
}
