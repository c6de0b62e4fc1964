package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurk-ai/zurk/pkg/types"
)

func TestDecodeInitEvent(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"agent-abc","model":"claude-sonnet-4-5"}`
	events, err := decodeEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventInit, events[0].Kind)
	assert.Equal(t, "agent-abc", events[0].AgentSessionID)
	assert.Equal(t, "claude-sonnet-4-5", events[0].Model)
}

func TestDecodeNonInitSystemMessage(t *testing.T) {
	events, err := decodeEvents([]byte(`{"type":"system","subtype":"compact_boundary"}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodeAssistantTextAndToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"model":"claude-sonnet-4-5","content":[` +
		`{"type":"text","text":"Let me check that file."},` +
		`{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"main.go"}}]}}`
	events, err := decodeEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, types.EventText, events[0].Kind)
	assert.Equal(t, "Let me check that file.", events[0].Text)
	assert.Equal(t, "claude-sonnet-4-5", events[0].Model)

	assert.Equal(t, types.EventToolUse, events[1].Kind)
	assert.Equal(t, "Read", events[1].ToolName)
	assert.Equal(t, "toolu_1", events[1].ToolUseID)
	assert.Equal(t, "main.go", events[1].ToolInput["file_path"])
}

func TestDecodeToolResultFromUserMessage(t *testing.T) {
	line := `{"type":"user","message":{"content":[` +
		`{"type":"tool_result","tool_use_id":"toolu_1","content":"package main","is_error":false}]}}`
	events, err := decodeEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventToolResult, events[0].Kind)
	assert.Equal(t, "toolu_1", events[0].ToolUseID)
	assert.Equal(t, "package main", events[0].ToolOutput)
	assert.False(t, events[0].IsError)
}

func TestDecodeToolResultBlockListContent(t *testing.T) {
	line := `{"type":"user","message":{"content":[` +
		`{"type":"tool_result","tool_use_id":"toolu_2","is_error":true,` +
		`"content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}]}}`
	events, err := decodeEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "line one\nline two", events[0].ToolOutput)
	assert.True(t, events[0].IsError)
}

func TestDecodeUserTextIgnored(t *testing.T) {
	// Echoed user prompts are not re-emitted as assistant text.
	line := `{"type":"user","message":{"content":[{"type":"text","text":"fix the bug"}]}}`
	events, err := decodeEvents([]byte(line))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodeResultSuccess(t *testing.T) {
	line := `{"type":"result","subtype":"success","session_id":"agent-abc",` +
		`"is_error":false,"total_cost_usd":0.0215,"duration_ms":8200,"num_turns":3}`
	events, err := decodeEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, types.EventResult, ev.Kind)
	assert.True(t, ev.Success)
	assert.InDelta(t, 0.0215, ev.CostUSD, 1e-9)
	assert.Equal(t, int64(8200), ev.DurationMS)
	assert.Equal(t, 3, ev.NumTurns)
	assert.Empty(t, ev.ErrorText)
}

func TestDecodeResultError(t *testing.T) {
	line := `{"type":"result","subtype":"error_during_execution","is_error":true,` +
		`"result":"process exited unexpectedly","num_turns":1}`
	events, err := decodeEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Equal(t, "process exited unexpectedly", events[0].ErrorText)
}

func TestDecodeUnknownTypeIgnored(t *testing.T) {
	events, err := decodeEvents([]byte(`{"type":"stream_event","event":{}}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodeMalformedLine(t *testing.T) {
	_, err := decodeEvents([]byte(`{not json`))
	assert.Error(t, err)
}

func TestBlockContentText(t *testing.T) {
	assert.Equal(t, "", blockContentText(nil))
	assert.Equal(t, "plain", blockContentText([]byte(`"plain"`)))
	assert.Equal(t, "a\nb", blockContentText([]byte(`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`)))
	assert.Equal(t, "a", blockContentText([]byte(`[{"type":"text","text":"a"},{"type":"image"}]`)))
	assert.Equal(t, "", blockContentText([]byte(`42`)))
}
