package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SessionMeta is the header information for a parsed transcript.
type SessionMeta struct {
	SessionID    string `json:"session_id"`
	Slug         string `json:"slug,omitempty"`
	Model        string `json:"model,omitempty"`
	AgentVersion string `json:"claude_code_version,omitempty"`
	StartedAt    string `json:"started_at,omitempty"`
	EndedAt      string `json:"ended_at,omitempty"`
}

// ParsedMessage is a single transcript message in the shape the message
// API returns, so external sessions render through the same client views
// as native ones.
type ParsedMessage struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type transcriptEntry struct {
	Type      string `json:"type"`
	UUID      string `json:"uuid"`
	SessionID string `json:"sessionId"`
	Slug      string `json:"slug"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Model   string          `json:"model"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// ReadSessionMessages parses a JSONL transcript file into its metadata and
// ordered messages. Only user and assistant entries produce messages;
// progress, system and snapshot entries are skipped. Malformed lines are
// skipped rather than failing the whole file.
func ReadSessionMessages(path string) (SessionMeta, []ParsedMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return SessionMeta{}, nil, err
	}
	defer f.Close()

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	meta := SessionMeta{SessionID: stem}
	messages := []ParsedMessage{}

	var (
		sawFirst      bool
		lastTimestamp string
	)

	sc := newLineScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var entry transcriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		if !sawFirst {
			sawFirst = true
			if entry.SessionID != "" {
				meta.SessionID = entry.SessionID
			}
			meta.Slug = entry.Slug
			meta.AgentVersion = entry.Version
			meta.StartedAt = entry.Timestamp
		}
		if entry.Timestamp != "" {
			lastTimestamp = entry.Timestamp
		}

		entryID := entry.UUID
		if entryID == "" {
			entryID = fmt.Sprintf("line-%d", lineNo)
		}
		sessionID := entry.SessionID
		if sessionID == "" {
			sessionID = meta.SessionID
		}

		switch entry.Type {
		case "user":
			messages = append(messages, parseUserEntry(entry, entryID, sessionID)...)
		case "assistant":
			messages = append(messages, parseAssistantEntry(entry, entryID, sessionID)...)
		}
	}
	if err := sc.Err(); err != nil {
		return SessionMeta{}, nil, err
	}

	meta.EndedAt = lastTimestamp

	// The model lives on assistant messages, not the file header.
	for _, m := range messages {
		if m.Role != "assistant" || m.Metadata == nil {
			continue
		}
		if model, ok := m.Metadata["model"].(string); ok && model != "" {
			meta.Model = model
			break
		}
	}

	return meta, messages, nil
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// parseUserEntry handles user entries, whose content is either a plain
// prompt string or a block list carrying tool results.
func parseUserEntry(entry transcriptEntry, entryID, sessionID string) []ParsedMessage {
	raw := entry.Message.Content

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return []ParsedMessage{{
			ID:          entryID,
			SessionID:   sessionID,
			Role:        "user",
			Content:     plain,
			MessageType: "user",
			Timestamp:   entry.Timestamp,
		}}
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	msgs := make([]ParsedMessage, 0, len(blocks))
	for i, block := range blocks {
		id := blockID(entryID, i, len(blocks))
		switch block.Type {
		case "tool_result":
			msgs = append(msgs, ParsedMessage{
				ID:          id,
				SessionID:   sessionID,
				Role:        "tool_result",
				Content:     resultContentText(block.Content),
				MessageType: "tool_result",
				Metadata: map[string]any{
					"tool_use_id": block.ToolUseID,
					"is_error":    block.IsError,
				},
				Timestamp: entry.Timestamp,
			})
		case "text":
			msgs = append(msgs, ParsedMessage{
				ID:          id,
				SessionID:   sessionID,
				Role:        "user",
				Content:     block.Text,
				MessageType: "user",
				Timestamp:   entry.Timestamp,
			})
		}
	}
	return msgs
}

// parseAssistantEntry handles assistant entries, whose content is a block
// list of text and tool_use blocks.
func parseAssistantEntry(entry transcriptEntry, entryID, sessionID string) []ParsedMessage {
	var blocks []contentBlock
	if err := json.Unmarshal(entry.Message.Content, &blocks); err != nil {
		return nil
	}
	model := entry.Message.Model

	msgs := make([]ParsedMessage, 0, len(blocks))
	for i, block := range blocks {
		id := blockID(entryID, i, len(blocks))
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			var metadata map[string]any
			if model != "" {
				metadata = map[string]any{"model": model}
			}
			msgs = append(msgs, ParsedMessage{
				ID:          id,
				SessionID:   sessionID,
				Role:        "assistant",
				Content:     block.Text,
				MessageType: "text",
				Metadata:    metadata,
				Timestamp:   entry.Timestamp,
			})
		case "tool_use":
			name := block.Name
			if name == "" {
				name = "unknown"
			}
			msgs = append(msgs, ParsedMessage{
				ID:          id,
				SessionID:   sessionID,
				Role:        "tool_use",
				Content:     "Tool: " + name,
				MessageType: "tool_use",
				Metadata: map[string]any{
					"tool_name":   name,
					"tool_input":  block.Input,
					"tool_use_id": block.ID,
					"model":       model,
				},
				Timestamp: entry.Timestamp,
			})
		}
	}
	return msgs
}

func blockID(entryID string, index, total int) string {
	if total > 1 {
		return fmt.Sprintf("%s-%d", entryID, index)
	}
	return entryID
}

// resultContentText flattens tool_result content, which is a plain string
// or a list of text blocks.
func resultContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
