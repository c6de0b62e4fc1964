// Package orchestrator drives agent session runs in the background:
// it owns the status transitions around a run, persists the streamed
// messages, and coordinates the tool approval workflow between the
// runtime's blocking gate and the HTTP decision endpoints.
package orchestrator

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/zurk-ai/zurk/internal/agent"
	"github.com/zurk-ai/zurk/internal/approval"
	"github.com/zurk-ai/zurk/internal/event"
	"github.com/zurk-ai/zurk/internal/logging"
	"github.com/zurk-ai/zurk/internal/store"
	"github.com/zurk-ai/zurk/pkg/types"
)

var (
	// ErrNotWaitingApproval indicates a decision was submitted for a
	// session that is not blocked on one.
	ErrNotWaitingApproval = errors.New("session is not waiting for approval")
	// ErrNoPendingApproval indicates the handler holds no request for
	// the session (the gate already resolved).
	ErrNoPendingApproval = errors.New("no pending approval request found")
)

// Runtime is the slice of the agent runtime the orchestrator uses.
type Runtime interface {
	StartSession(ctx context.Context, project *types.Project, sess *types.Session, prompt string) (<-chan types.AgentEvent, error)
	ResumeSession(ctx context.Context, project *types.Project, sess *types.Session, prompt, agentSessionID string) (<-chan types.AgentEvent, error)
	SetNotify(sessionID string, fn agent.NotifyFunc)
	Disconnect(sessionID string)
	IsActive(sessionID string) bool
}

// Orchestrator coordinates session runs across the store, runtime,
// approval handler, and event bus.
type Orchestrator struct {
	store     *store.Store
	runtime   Runtime
	approvals *approval.Handler
	bus       *event.Bus
}

// New creates an orchestrator.
func New(st *store.Store, runtime Runtime, approvals *approval.Handler, bus *event.Bus) *Orchestrator {
	return &Orchestrator{store: st, runtime: runtime, approvals: approvals, bus: bus}
}

// RunStart runs a fresh agent session to completion. Intended to be
// called on its own goroutine; all errors are absorbed into session
// state.
func (o *Orchestrator) RunStart(ctx context.Context, project *types.Project, sessionID, prompt string) {
	o.run(ctx, project, sessionID, prompt, "")
}

// RunResume resumes a prior agent conversation with a new prompt.
func (o *Orchestrator) RunResume(ctx context.Context, project *types.Project, sessionID, agentSessionID, prompt string) {
	o.run(ctx, project, sessionID, prompt, agentSessionID)
}

func (o *Orchestrator) run(ctx context.Context, project *types.Project, sessionID, prompt, agentSessionID string) {
	log := logging.ForSession(sessionID)
	o.runtime.SetNotify(sessionID, o.onApprovalRequired)
	defer o.runtime.Disconnect(sessionID)

	if err := o.transitionToRunning(sessionID); err != nil {
		log.Error().Err(err).Msg("cannot start session run")
		return
	}

	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		log.Error().Err(err).Msg("session vanished before run")
		return
	}

	// The prompt is stored before streaming begins so the transcript
	// always opens with what the user asked for.
	o.addMessage(log, sessionID, types.RoleUser, prompt, "user", nil)

	var stream <-chan types.AgentEvent
	if agentSessionID != "" {
		stream, err = o.runtime.ResumeSession(ctx, project, sess, prompt, agentSessionID)
	} else {
		stream, err = o.runtime.StartSession(ctx, project, sess, prompt)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to launch agent")
		o.safeFail(sessionID, err.Error())
		return
	}

	o.processStream(ctx, log, sessionID, stream)
	o.ensureTerminalState(log, sessionID)
}

// processStream consumes agent events until a result event or the end
// of the stream. Storable events become persisted messages; the result
// event settles cost and terminal status.
func (o *Orchestrator) processStream(ctx context.Context, log zerolog.Logger, sessionID string, stream <-chan types.AgentEvent) {
	for {
		var ev types.AgentEvent
		var ok bool
		select {
		case ev, ok = <-stream:
		case <-ctx.Done():
			return
		}
		if !ok {
			return
		}

		if ev.Kind == types.EventInit && ev.AgentSessionID != "" {
			if _, err := o.store.BindAgentSessionID(sessionID, ev.AgentSessionID); err != nil {
				log.Warn().Err(err).Msg("failed to bind agent session id")
			}
		}

		role := messageRole(ev.Kind)
		content := messageContent(ev)
		if role != "" && content != "" {
			o.addMessage(log, sessionID, role, content, string(ev.Kind), eventExtra(ev))
		}

		if ev.Kind == types.EventResult {
			o.finishRun(log, sessionID, ev)
			return
		}
	}
}

func (o *Orchestrator) finishRun(log zerolog.Logger, sessionID string, ev types.AgentEvent) {
	if ev.CostUSD != 0 {
		if _, err := o.store.AddSessionCost(sessionID, ev.CostUSD); err != nil {
			log.Warn().Err(err).Msg("failed to record session cost")
		}
	}
	if ev.Success {
		sess, err := o.store.CompleteSession(sessionID, 0)
		if err != nil {
			log.Warn().Err(err).Msg("failed to complete session")
			return
		}
		o.publishStatus(sess)
		return
	}
	o.safeFail(sessionID, resultError(ev))
}

// ensureTerminalState completes a session whose stream ended without a
// result event. A run must never leave a session stuck in running.
func (o *Orchestrator) ensureTerminalState(log zerolog.Logger, sessionID string) {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return
	}
	if sess.Status != types.StatusRunning {
		return
	}
	sess, err = o.store.CompleteSession(sessionID, 0)
	if err != nil {
		log.Warn().Err(err).Msg("failed to settle terminal state")
		return
	}
	o.publishStatus(sess)
}

// transitionToRunning is a no-op when the session already runs.
func (o *Orchestrator) transitionToRunning(sessionID string) error {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status == types.StatusRunning {
		return nil
	}
	sess, err = o.store.UpdateSessionStatus(sessionID, types.StatusRunning, "")
	if err != nil {
		return err
	}
	o.publishStatus(sess)
	return nil
}

// safeFail moves the session to error, tolerating sessions that
// already reached a terminal state through another path.
func (o *Orchestrator) safeFail(sessionID, errorMessage string) {
	sess, err := o.store.FailSession(sessionID, errorMessage)
	if err != nil {
		if store.IsStateError(err) {
			return
		}
		logger := logging.ForSession(sessionID)
		logger.Warn().Err(err).Msg("failed to fail session")
		return
	}
	o.publishStatus(sess)
}

// onApprovalRequired persists the waiting state and announces the
// pending request. Runs on the runtime's hook goroutine right before
// it blocks on the approval gate.
func (o *Orchestrator) onApprovalRequired(sessionID string, req *approval.Request) {
	pending := req.ToPendingApproval()
	sess, err := o.store.SetPendingApproval(sessionID, pending)
	if err != nil {
		logger := logging.ForSession(sessionID)
		logger.Error().Err(err).Msg("failed to persist pending approval")
		return
	}
	o.publishStatus(sess)
	o.bus.Publish(event.Event{
		Type:      event.ApprovalRequired,
		SessionID: sessionID,
		Data:      event.ApprovalRequiredData{SessionID: sessionID, Approval: pending},
	})
}

// Approve resolves the pending tool use as allowed.
func (o *Orchestrator) Approve(sessionID, feedback string) error {
	return o.processDecision(sessionID, true, feedback)
}

// Deny resolves the pending tool use as rejected. The feedback is
// passed to the agent as the denial reason.
func (o *Orchestrator) Deny(sessionID, feedback string) error {
	if feedback == "" {
		feedback = "User denied tool execution"
	}
	return o.processDecision(sessionID, false, feedback)
}

// processDecision validates the waiting state, durably transitions the
// session back to running, and only then opens the gate. Storing the
// status first prevents a race where the resumed agent completes and
// transitions the session before this write lands.
func (o *Orchestrator) processDecision(sessionID string, approved bool, feedback string) error {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != types.StatusWaitingApproval {
		return ErrNotWaitingApproval
	}

	// A session can still read waiting_approval after the gate already
	// resolved on its own, for example on an approval timeout. Such a
	// late decision must change nothing.
	req := o.approvals.GetPending(sessionID)
	if req == nil {
		return ErrNoPendingApproval
	}
	toolUseID := req.ToolUseID

	sess, err = o.store.UpdateSessionStatus(sessionID, types.StatusRunning, "")
	if err != nil {
		return err
	}
	o.publishStatus(sess)

	if !o.approvals.ProcessDecision(sessionID, approved, feedback) {
		return ErrNoPendingApproval
	}

	o.bus.Publish(event.Event{
		Type:      event.ApprovalProcessed,
		SessionID: sessionID,
		Data: event.ApprovalProcessedData{
			SessionID:  sessionID,
			ApprovalID: toolUseID,
			Approved:   approved,
			Feedback:   feedback,
		},
	})
	return nil
}

// CancelResult reports what Cancel did.
type CancelResult string

const (
	CancelDone            CancelResult = "cancelled"
	CancelAlreadyTerminal CancelResult = "already_terminal"
)

// Cancel force-stops a session: any blocked approval gate is released
// as denied, the agent process is torn down, and the session lands in
// error state.
func (o *Orchestrator) Cancel(sessionID string) (CancelResult, error) {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	if sess.Status.IsTerminal() {
		return CancelAlreadyTerminal, nil
	}

	// A waiting session cannot fail directly; route through running
	// so the transition table stays honest. The error state is stored
	// before the gate is released, which keeps the resumed run from
	// overwriting it.
	if sess.Status == types.StatusWaitingApproval {
		if s, err := o.store.UpdateSessionStatus(sessionID, types.StatusRunning, ""); err == nil {
			o.publishStatus(s)
		}
	}
	o.safeFail(sessionID, "Session cancelled by user")

	o.approvals.ClearPending(sessionID)
	if o.runtime.IsActive(sessionID) {
		o.runtime.Disconnect(sessionID)
	}

	return CancelDone, nil
}

func (o *Orchestrator) addMessage(log zerolog.Logger, sessionID string, role types.MessageRole, content, messageType string, extra map[string]any) {
	msg, err := o.store.AddMessage(sessionID, role, content, messageType, extra)
	if err != nil {
		log.Warn().Err(err).Str("role", string(role)).Msg("failed to store message")
		return
	}
	o.bus.Publish(event.Event{
		Type:      event.MessageCreated,
		SessionID: sessionID,
		Data:      event.MessageCreatedData{Info: msg},
	})
}

func (o *Orchestrator) publishStatus(sess *types.Session) {
	o.bus.Publish(event.Event{
		Type:      event.SessionStatus,
		SessionID: sess.ID,
		Data: event.SessionStatusData{
			SessionID:    sess.ID,
			Status:       sess.Status,
			ErrorMessage: sess.ErrorMessage,
		},
	})
}
