package orchestrator

import (
	"encoding/json"

	"github.com/zurk-ai/zurk/pkg/types"
)

// eventRole maps an agent event kind to the role its stored message
// gets. Kinds absent here are not persisted: init only binds the agent
// session id and result only drives completion.
var eventRole = map[types.AgentEventKind]types.MessageRole{
	types.EventText:       types.RoleAssistant,
	types.EventToolUse:    types.RoleToolUse,
	types.EventToolResult: types.RoleToolResult,
}

// messageRole returns the storage role for an event, or "" when the
// event should not be stored.
func messageRole(kind types.AgentEventKind) types.MessageRole {
	return eventRole[kind]
}

// messageContent renders the human-readable content for a stored
// message. Empty content means the event is skipped.
func messageContent(ev types.AgentEvent) string {
	switch ev.Kind {
	case types.EventText:
		return ev.Text
	case types.EventToolUse:
		name := ev.ToolName
		if name == "" {
			name = "unknown"
		}
		return "Tool: " + name
	case types.EventToolResult:
		return ev.ToolOutput
	}
	return ""
}

// eventExtra preserves the full event payload alongside the rendered
// content so clients can reconstruct tool metadata.
func eventExtra(ev types.AgentEvent) map[string]any {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	var extra map[string]any
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil
	}
	return extra
}

// resultError returns the error message for a failed result event.
func resultError(ev types.AgentEvent) string {
	if ev.ErrorText != "" {
		return ev.ErrorText
	}
	return "Session ended with error"
}
