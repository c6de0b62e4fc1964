// Package approval decides which tool calls need a human decision and
// coordinates the wait between the paused agent runtime and the API.
//
// Each session holds at most one pending request. The agent runtime
// queues a request before pausing and waits on it; the API resolves it
// through ProcessDecision or ClearPending. A request resolves exactly
// once no matter how many resolution paths race.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/zurk-ai/zurk/internal/diff"
	"github.com/zurk-ai/zurk/internal/logging"
	"github.com/zurk-ai/zurk/pkg/types"
)

// ClearedFeedback is the synthetic denial reason attached when a
// pending approval is dropped because its session was cancelled.
const ClearedFeedback = "Approval cleared (session cancelled)"

// TimeoutFeedback is the denial reason when nobody decides in time.
const TimeoutFeedback = "Approval request timed out"

// Request is an approval waiting for a user decision. The runtime
// blocks on Wait; the decision side calls resolve through the Handler.
type Request struct {
	SessionID   string
	ToolName    string
	ToolInput   map[string]any
	ToolUseID   string
	FilePath    string
	Diff        *diff.Result
	RequestedAt time.Time

	once     sync.Once
	done     chan struct{}
	approved bool
	feedback string
}

// resolve records the decision and opens the gate. Only the first call
// has any effect.
func (r *Request) resolve(approved bool, feedback string) {
	r.once.Do(func() {
		r.approved = approved
		r.feedback = feedback
		close(r.done)
	})
}

// Wait blocks until the request is decided, the context ends, or the
// timeout elapses. A timeout of zero or less waits forever. Timeouts
// and context cancellation both resolve the request as denied so late
// deciders see a consistent outcome.
func (r *Request) Wait(ctx context.Context, timeout time.Duration) (approved bool, feedback string) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-r.done:
	case <-timer:
		r.resolve(false, TimeoutFeedback)
		<-r.done
	case <-ctx.Done():
		r.resolve(false, ClearedFeedback)
		<-r.done
	}
	return r.approved, r.feedback
}

// Decision returns the recorded outcome. Valid only after Wait returns
// or done is closed.
func (r *Request) Decision() (approved bool, feedback string) {
	return r.approved, r.feedback
}

// isResolved reports whether the request already carries an outcome.
func (r *Request) isResolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// ToPendingApproval converts the request to its storage form.
func (r *Request) ToPendingApproval() *types.PendingApproval {
	pa := &types.PendingApproval{
		ToolName:    r.ToolName,
		ToolInput:   r.ToolInput,
		ToolUseID:   r.ToolUseID,
		FilePath:    r.FilePath,
		RequestedAt: r.RequestedAt,
	}
	if r.Diff != nil {
		pa.Risk = r.Diff.Risk
		pa.Diff = r.Diff.Payload()
	}
	return pa
}

// Handler owns the approval rules and the per-session pending queue.
type Handler struct {
	mu      sync.Mutex
	rules   map[string]*Rule
	pending map[string]*Request // sessionID -> request
}

// NewHandler creates a handler with the default rules plus any extra
// auto-approve bash patterns.
func NewHandler(customPatterns ...string) *Handler {
	rules := DefaultRules()
	if len(customPatterns) > 0 {
		if bash, ok := rules["Bash"]; ok {
			bash.Patterns = append(bash.Patterns, customPatterns...)
		}
	}
	return &Handler{
		rules:   rules,
		pending: make(map[string]*Request),
	}
}

// NewHandlerWithRules creates a handler with a custom rule set.
func NewHandlerWithRules(rules map[string]*Rule) *Handler {
	return &Handler{
		rules:   rules,
		pending: make(map[string]*Request),
	}
}

// RequiresApproval reports whether a tool call needs a user decision.
// Unknown tools require approval.
func (h *Handler) RequiresApproval(toolName string, toolInput map[string]any) bool {
	h.mu.Lock()
	rule := h.rules[toolName]
	h.mu.Unlock()

	if rule == nil {
		logging.Warn().Str("tool", toolName).Msg("unknown tool, requiring approval")
		return true
	}
	if rule.AutoApprove {
		return false
	}
	if toolName == "Bash" && len(rule.Patterns) > 0 {
		command, _ := toolInput["command"].(string)
		if rule.MatchesPattern(command) {
			logging.Debug().Str("command", truncate(command, 50)).Msg("bash command matches safe pattern")
			return false
		}
	}
	return true
}

// FilePath extracts the file path from tool input if applicable.
func (h *Handler) FilePath(toolName string, toolInput map[string]any) string {
	switch toolName {
	case "Write", "Read", "Edit":
		if p, ok := toolInput["file_path"].(string); ok && p != "" {
			return p
		}
		if p, ok := toolInput["path"].(string); ok {
			return p
		}
	case "MultiEdit":
		edits, _ := toolInput["edits"].([]any)
		if len(edits) > 0 {
			if first, ok := edits[0].(map[string]any); ok {
				if p, ok := first["file_path"].(string); ok {
					return p
				}
			}
		}
	}
	return ""
}

// Queue registers a tool call as pending for a session and returns the
// request to wait on. A session holds one pending approval at a time;
// queuing over an existing one replaces it.
func (h *Handler) Queue(sessionID, toolName string, toolInput map[string]any, toolUseID string) *Request {
	req := &Request{
		SessionID:   sessionID,
		ToolName:    toolName,
		ToolInput:   toolInput,
		ToolUseID:   toolUseID,
		FilePath:    h.FilePath(toolName, toolInput),
		Diff:        diff.Generate(toolName, toolInput),
		RequestedAt: time.Now().UTC(),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if existing := h.pending[sessionID]; existing != nil {
		logging.Warn().
			Str("session_id", sessionID).
			Str("was", existing.ToolName).
			Str("now", toolName).
			Msg("overwriting existing pending approval")
	}
	h.pending[sessionID] = req
	h.mu.Unlock()

	logging.Info().
		Str("session_id", sessionID).
		Str("tool", toolName).
		Str("tool_use_id", toolUseID).
		Msg("queued approval")

	return req
}

// GetPending returns the pending request for a session, or nil.
func (h *Handler) GetPending(sessionID string) *Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending[sessionID]
}

// ProcessDecision applies a user decision to the session's pending
// request and unblocks the waiting runtime. Returns false when nothing
// was pending or the request already resolved on its own, say through a
// timeout, so callers can report the stale decision.
func (h *Handler) ProcessDecision(sessionID string, approved bool, feedback string) bool {
	h.mu.Lock()
	req := h.pending[sessionID]
	if req != nil {
		delete(h.pending, sessionID)
	}
	h.mu.Unlock()

	if req == nil {
		logging.Warn().Str("session_id", sessionID).Msg("no pending approval")
		return false
	}
	if req.isResolved() {
		logging.Warn().
			Str("session_id", sessionID).
			Str("tool_use_id", req.ToolUseID).
			Msg("decision arrived after the approval already resolved")
		return false
	}

	req.resolve(approved, feedback)

	action := "denied"
	if approved {
		action = "approved"
	}
	logging.Info().Str("session_id", sessionID).Str("decision", action).Msg("processed tool approval")
	return true
}

// ClearPending drops any pending approval for a session, resolving it
// as denied so a waiting runtime unblocks immediately instead of
// hanging until its timeout.
func (h *Handler) ClearPending(sessionID string) {
	h.mu.Lock()
	req := h.pending[sessionID]
	if req != nil {
		delete(h.pending, sessionID)
	}
	h.mu.Unlock()

	if req != nil {
		req.resolve(false, ClearedFeedback)
	}
}

// Release drops a request from the pending queue once its waiter has
// returned. Only the exact request is removed, so a newer request that
// replaced it stays queued.
func (h *Handler) Release(req *Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending[req.SessionID] == req {
		delete(h.pending, req.SessionID)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
