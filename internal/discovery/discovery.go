// Package discovery scans the agent CLI's local transcript store for
// sessions that were started outside of zurk, e.g. from an editor
// integration or directly on the command line.
//
// The agent CLI writes one JSONL file per session at
// <agent-home>/projects/<encoded-path>/<session-id>.jsonl, where the
// encoded path replaces every '/' in the project's absolute path with '-'.
package discovery

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/zurk-ai/zurk/internal/logging"
)

const (
	// TailReadBytes is how many bytes to read from the end of a file when
	// looking for the last entry's timestamp.
	TailReadBytes = 8192

	// MaxFilesPerProject caps how many JSONL files are scanned per project.
	MaxFilesPerProject = 100

	// metadataScanLines bounds the search for slug, cwd and gitBranch.
	// These fields may not appear on line 1 when the first entry is a
	// file-history snapshot.
	metadataScanLines = 10

	// titleScanLines bounds the search for the first user message.
	titleScanLines = 50

	// Transcript lines can be very large when tool results embed whole
	// files, so the line scanner buffer has to grow well past the default.
	maxLineBytes = 10 * 1024 * 1024
)

// ExternalSession is the metadata extracted from a single transcript file.
type ExternalSession struct {
	SessionID         string `json:"session_id"`
	FilePath          string `json:"file_path"`
	FileSizeBytes     int64  `json:"file_size_bytes"`
	Slug              string `json:"slug,omitempty"`
	StartedAt         string `json:"started_at,omitempty"`
	EndedAt           string `json:"ended_at,omitempty"`
	Model             string `json:"model,omitempty"`
	AgentVersion      string `json:"claude_code_version,omitempty"`
	TotalEntries      int    `json:"total_entries"`
	UserMessages      int    `json:"user_messages"`
	AssistantMessages int    `json:"assistant_messages"`
	HasSubagents      bool   `json:"has_subagents"`
	CWD               string `json:"cwd,omitempty"`
	GitBranch         string `json:"git_branch,omitempty"`
	Title             string `json:"title,omitempty"`
}

// EncodeProjectPath converts an absolute project path to the directory
// name the agent CLI uses under its projects root.
//
//	/Users/mike/Documents/zurk -> -Users-mike-Documents-zurk
func EncodeProjectPath(projectPath string) string {
	return strings.ReplaceAll(filepath.Clean(projectPath), "/", "-")
}

// Scanner discovers transcript files under a single agent home directory.
type Scanner struct {
	projectsDir string
	log         zerolog.Logger
}

// NewScanner returns a Scanner rooted at agentHome (usually ~/.claude).
func NewScanner(agentHome string) *Scanner {
	return &Scanner{
		projectsDir: filepath.Join(agentHome, "projects"),
		log:         logging.ForComponent("discovery"),
	}
}

// SessionsDir returns the transcript directory for a project path.
func (s *Scanner) SessionsDir(projectPath string) string {
	return filepath.Join(s.projectsDir, EncodeProjectPath(projectPath))
}

// SessionFile returns the transcript file path for a session ID within a
// project, whether or not the file exists.
func (s *Scanner) SessionFile(projectPath, sessionID string) string {
	return filepath.Join(s.SessionsDir(projectPath), sessionID+".jsonl")
}

// DiscoverSessions lists the transcript metadata for every session the
// agent CLI recorded against projectPath, newest first by start time.
// A missing transcript directory yields an empty slice, not an error.
func (s *Scanner) DiscoverSessions(projectPath string) []ExternalSession {
	dir := s.SessionsDir(projectPath)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		s.log.Debug().Str("dir", dir).Msg("no transcript directory for project")
		return []ExternalSession{}
	}

	paths, err := doublestar.FilepathGlob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		s.log.Warn().Err(err).Str("dir", dir).Msg("transcript glob failed")
		return []ExternalSession{}
	}

	// Newest files first, capped so a huge history cannot stall a request.
	type candidate struct {
		path  string
		mtime int64
	}
	candidates := make([]candidate, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: p, mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime > candidates[j].mtime
	})
	if len(candidates) > MaxFilesPerProject {
		candidates = candidates[:MaxFilesPerProject]
	}

	sessions := make([]ExternalSession, 0, len(candidates))
	for _, c := range candidates {
		session, err := s.DiscoverSession(c.path)
		if err != nil {
			s.log.Warn().Err(err).Str("file", c.path).Msg("failed to read session file")
			continue
		}
		if session != nil {
			sessions = append(sessions, *session)
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt > sessions[j].StartedAt
	})
	return sessions
}

// DiscoverSession extracts metadata from one transcript file. It returns
// (nil, nil) for files that are empty or whose first line is not JSON.
func (s *Scanner) DiscoverSession(path string) (*ExternalSession, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, nil
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	first, err := readFirstEntry(path)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, nil
	}

	meta := scanMetadataFields(path)
	last := parseTailEntry(readTail(path, info.Size()))
	total, users, assistants := countEntries(path)

	session := &ExternalSession{
		SessionID:         stringField(first, "sessionId", stem),
		FilePath:          path,
		FileSizeBytes:     info.Size(),
		Slug:              firstNonEmpty(meta["slug"], stringField(first, "slug", "")),
		StartedAt:         stringField(first, "timestamp", ""),
		EndedAt:           stringField(last, "timestamp", ""),
		Model:             findModel(path),
		AgentVersion:      stringField(first, "version", ""),
		TotalEntries:      total,
		UserMessages:      users,
		AssistantMessages: assistants,
		HasSubagents:      hasSubagents(path, stem),
		CWD:               meta["cwd"],
		GitBranch:         meta["gitBranch"],
		Title:             firstUserMessage(path),
	}
	return session, nil
}

// ReadAgentSessionID reads the agent's own session ID from the first
// transcript entry, falling back to the filename stem.
func ReadAgentSessionID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	first, err := readFirstEntry(path)
	if err != nil || first == nil {
		return stem
	}
	return stringField(first, "sessionId", stem)
}

func readFirstEntry(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := newLineScanner(f)
	if !sc.Scan() {
		return nil, sc.Err()
	}
	var entry map[string]any
	if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
		return nil, nil
	}
	return entry, nil
}

// readTail returns up to TailReadBytes from the end of the file.
func readTail(path string, size int64) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	offset := size - TailReadBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil
	}
	data := make([]byte, size-offset)
	n, _ := f.Read(data)
	return data[:n]
}

// parseTailEntry parses the last complete JSONL line from a tail read.
func parseTailEntry(data []byte) map[string]any {
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil
		}
		return entry
	}
	return nil
}

// countEntries streams the file counting total lines plus user and
// assistant entries. It avoids a full JSON parse per line: a substring
// check on the type field is enough for counting.
func countEntries(path string) (total, users, assistants int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0
	}
	defer f.Close()

	sc := newLineScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		switch {
		case isEntryType(line, "user"):
			users++
		case isEntryType(line, "assistant"):
			assistants++
		}
	}
	return total, users, assistants
}

func isEntryType(line, typ string) bool {
	return strings.Contains(line, `"type":"`+typ+`"`) ||
		strings.Contains(line, `"type": "`+typ+`"`)
}

// findModel scans for the first assistant entry carrying a model field.
func findModel(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := newLineScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !isEntryType(line, "assistant") {
			continue
		}
		var entry struct {
			Message struct {
				Model string `json:"model"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Message.Model != "" {
			return entry.Message.Model
		}
	}
	return ""
}

// scanMetadataFields looks through the first few lines for slug, cwd and
// gitBranch, which can appear on any early entry.
func scanMetadataFields(path string) map[string]string {
	result := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		return result
	}
	defer f.Close()

	targets := []string{"slug", "cwd", "gitBranch"}
	sc := newLineScanner(f)
	for i := 0; i < metadataScanLines && sc.Scan(); i++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		for _, key := range targets {
			if _, seen := result[key]; seen {
				continue
			}
			if v, ok := entry[key].(string); ok {
				result[key] = v
			}
		}
		if len(result) == len(targets) {
			break
		}
	}
	return result
}

// firstUserMessage extracts the text of the first user entry for use as a
// session title. Callers truncate for display.
func firstUserMessage(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := newLineScanner(f)
	for i := 0; i < titleScanLines && sc.Scan(); i++ {
		line := sc.Text()
		if !isEntryType(line, "user") {
			continue
		}
		var entry struct {
			Type    string          `json:"type"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Type != "user" {
			continue
		}
		if text := userMessageText(entry.Message); text != "" {
			return text
		}
	}
	return ""
}

// userMessageText pulls display text out of a user entry's message field,
// which can be a plain string, an object with string content, or an object
// whose content is a list of blocks.
func userMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	// Older transcripts store the message as a bare string.
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var msg struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return ""
	}
	for _, b := range blocks {
		if b.Type == "text" {
			if t := strings.TrimSpace(b.Text); t != "" {
				return t
			}
		}
	}
	return ""
}

// hasSubagents reports whether the session spawned subagents, stored as
// <dir>/<session-id>/subagents next to the transcript file.
func hasSubagents(path, sessionID string) bool {
	dir := filepath.Join(filepath.Dir(path), sessionID, "subagents")
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func newLineScanner(f *os.File) *bufio.Scanner {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return sc
}

func stringField(entry map[string]any, key, fallback string) string {
	if entry == nil {
		return fallback
	}
	if v, ok := entry[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
