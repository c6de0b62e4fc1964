package types

// AgentEventKind is the unified event vocabulary emitted by the agent
// runtime stream.
type AgentEventKind string

const (
	EventInit       AgentEventKind = "init"
	EventText       AgentEventKind = "text"
	EventToolUse    AgentEventKind = "tool_use"
	EventToolResult AgentEventKind = "tool_result"
	EventResult     AgentEventKind = "result"
)

// AgentEvent is one normalized event from the agent runtime. Fields are
// populated according to Kind; unused fields stay zero.
type AgentEvent struct {
	Kind AgentEventKind `json:"kind"`

	// init
	AgentSessionID string `json:"agent_session_id,omitempty"`
	Model          string `json:"model,omitempty"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use / tool_result
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`

	// result
	Success    bool    `json:"success,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
	ErrorText  string  `json:"error_text,omitempty"`
}
