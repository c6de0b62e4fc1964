package types

import "time"

// RiskLevel classifies how dangerous a proposed tool call is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// MaxRisk returns the more severe of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// DiffTier describes how the generated diff is delivered.
type DiffTier string

const (
	// DiffTierInline means the full diff is embedded in the approval payload.
	DiffTierInline DiffTier = "inline"
	// DiffTierTruncated means only the head and tail of a large diff are kept.
	DiffTierTruncated DiffTier = "truncated"
)

// DiffStats summarizes a diff regardless of how much of it is delivered.
// Stats are always computed from the full diff, never the preview.
type DiffStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// DiffPayload is the rendered diff attached to an approval request.
type DiffPayload struct {
	Diff       string     `json:"diff,omitempty"`
	Stats      *DiffStats `json:"diff_stats,omitempty"`
	Tier       DiffTier   `json:"tier"`
	TotalBytes int        `json:"total_bytes"`
	TotalLines int        `json:"total_lines"`
	Truncated  bool       `json:"truncated"`
}

// PendingApproval is the payload a session carries while waiting for a
// human decision on a tool call.
type PendingApproval struct {
	ToolName    string         `json:"tool_name"`
	ToolInput   map[string]any `json:"tool_input"`
	ToolUseID   string         `json:"tool_use_id"`
	FilePath    string         `json:"file_path,omitempty"`
	Risk        RiskLevel      `json:"risk_level,omitempty"`
	Diff        *DiffPayload   `json:"diff,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// ApprovalDecision is a human response to a pending approval.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// DeniedReason renders the reason attached to a denial. Human feedback
// wins over the generic default.
func (d ApprovalDecision) DeniedReason() string {
	if d.Feedback != "" {
		return d.Feedback
	}
	return "Denied by user"
}
