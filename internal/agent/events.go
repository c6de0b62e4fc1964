package agent

import (
	"encoding/json"

	"github.com/zurk-ai/zurk/pkg/types"
)

// wireMessage is one line of the agent CLI's stream-json output.
type wireMessage struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype"`
	SessionID string       `json:"session_id"`
	Model     string       `json:"model"`
	Message   *wirePayload `json:"message"`

	// result fields
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
	Result       string  `json:"result"`

	// control protocol
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

type wirePayload struct {
	Model   string      `json:"model"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// decodeEvents converts one stream-json line into zero or more
// normalized events. Unknown message types and control traffic yield
// nothing. An assistant message may carry several content blocks and
// produces one event per block.
func decodeEvents(line []byte) ([]types.AgentEvent, error) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}

	switch msg.Type {
	case "system":
		if msg.Subtype != "init" {
			return nil, nil
		}
		return []types.AgentEvent{{
			Kind:           types.EventInit,
			AgentSessionID: msg.SessionID,
			Model:          msg.Model,
		}}, nil

	case "assistant", "user":
		if msg.Message == nil {
			return nil, nil
		}
		var events []types.AgentEvent
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if msg.Type != "assistant" {
					continue
				}
				events = append(events, types.AgentEvent{
					Kind:  types.EventText,
					Text:  block.Text,
					Model: msg.Message.Model,
				})
			case "tool_use":
				events = append(events, types.AgentEvent{
					Kind:      types.EventToolUse,
					ToolName:  block.Name,
					ToolInput: block.Input,
					ToolUseID: block.ID,
					Model:     msg.Message.Model,
				})
			case "tool_result":
				events = append(events, types.AgentEvent{
					Kind:       types.EventToolResult,
					ToolUseID:  block.ToolUseID,
					ToolOutput: blockContentText(block.Content),
					IsError:    block.IsError,
				})
			}
		}
		return events, nil

	case "result":
		ev := types.AgentEvent{
			Kind:           types.EventResult,
			AgentSessionID: msg.SessionID,
			Success:        !msg.IsError,
			CostUSD:        msg.TotalCostUSD,
			DurationMS:     msg.DurationMS,
			NumTurns:       msg.NumTurns,
		}
		if msg.IsError {
			ev.ErrorText = msg.Result
		}
		return []types.AgentEvent{ev}, nil
	}

	return nil, nil
}

// blockContentText flattens tool result content, which the wire format
// carries either as a plain string or as a list of typed blocks.
func blockContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	out := ""
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}
