package event

import "github.com/zurk-ai/zurk/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"session_id"`
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	SessionID    string              `json:"session_id"`
	Status       types.SessionStatus `json:"status"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// MessageCreatedData is the data for message.created events.
type MessageCreatedData struct {
	Info *types.Message `json:"info"`
}

// ApprovalRequiredData is the data for approval.required events.
type ApprovalRequiredData struct {
	SessionID string                 `json:"session_id"`
	Approval  *types.PendingApproval `json:"approval"`
}

// ApprovalProcessedData is the data for approval.processed events.
type ApprovalProcessedData struct {
	SessionID  string `json:"session_id"`
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	Feedback   string `json:"feedback,omitempty"`
}

// PreviewStatusData is the data for preview.status events.
type PreviewStatusData struct {
	ProjectID string `json:"project_id"`
	Running   bool   `json:"running"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}
