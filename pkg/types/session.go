package types

import "time"

// SessionStatus is the lifecycle state of an agent session.
type SessionStatus string

const (
	StatusIdle            SessionStatus = "idle"
	StatusRunning         SessionStatus = "running"
	StatusWaitingApproval SessionStatus = "waiting_approval"
	StatusCompleted       SessionStatus = "completed"
	StatusError           SessionStatus = "error"
)

// ValidTransitions maps each status to the statuses it may move to.
// Transitions to the same status are always allowed.
var ValidTransitions = map[SessionStatus][]SessionStatus{
	StatusIdle:            {StatusRunning},
	StatusRunning:         {StatusWaitingApproval, StatusCompleted, StatusError},
	StatusWaitingApproval: {StatusRunning},
	StatusCompleted:       {StatusRunning},
	StatusError:           {StatusRunning},
}

// CanTransition reports whether moving from one status to another is
// legal. Only the pairs in ValidTransitions are accepted; that includes
// rejecting a transition to the current status.
func CanTransition(from, to SessionStatus) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the active run.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Session is a single conversation with the agent runtime inside a project.
type Session struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	Name            string           `json:"name,omitempty"`
	Status          SessionStatus    `json:"status"`
	AgentSessionID  string           `json:"agent_session_id,omitempty"`
	Model           string           `json:"model,omitempty"`
	PermissionMode  PermissionMode   `json:"permission_mode"`
	AllowedTools    []string         `json:"allowed_tools"`
	SystemPrompt    string           `json:"system_prompt,omitempty"`
	LastPrompt      string           `json:"last_prompt,omitempty"`
	PendingApproval *PendingApproval `json:"pending_approval,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	MessageCount    int              `json:"message_count"`
	TotalCostUSD    float64          `json:"total_cost_usd"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// LastPromptMaxLength bounds the stored copy of the most recent user prompt.
const LastPromptMaxLength = 1000

// DefaultListLimit is the page size used by list endpoints when the
// caller does not supply one.
const DefaultListLimit = 50
