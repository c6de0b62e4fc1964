// Package diff generates unified diffs and risk assessments for
// proposed tool calls. The output enriches pending approvals so a
// reviewer can see exactly what a Write, Edit, or Bash call will do.
//
// Diffs follow a two-tier model:
//   - inline (<=100KB): full diff stored and sent as-is
//   - truncated (>100KB): head+tail preview with an omission marker
package diff

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/zurk-ai/zurk/pkg/types"
)

// InlineMaxBytes is the inline threshold. Diffs at or under this size
// are delivered in full; larger diffs get a head+tail preview.
const InlineMaxBytes = 100_000

// PreviewHeadLines and PreviewTailLines bound a truncated preview.
const (
	PreviewHeadLines = 250
	PreviewTailLines = 250
)

// binaryCheckSize is how many leading bytes are scanned for null bytes
// when detecting binary content.
const binaryCheckSize = 8192

// Result is the outcome of diff generation for one tool call.
// All fields are always meaningful; Diff is empty when no diff applies.
type Result struct {
	Diff       string
	Stats      *types.DiffStats
	Risk       types.RiskLevel
	Tier       types.DiffTier
	TotalBytes int
	TotalLines int
	Truncated  bool
}

// Payload converts the result into the wire form attached to a pending
// approval. Returns nil when there is nothing to show.
func (r *Result) Payload() *types.DiffPayload {
	if r.Diff == "" && r.Stats == nil {
		return nil
	}
	return &types.DiffPayload{
		Diff:       r.Diff,
		Stats:      r.Stats,
		Tier:       r.Tier,
		TotalBytes: r.TotalBytes,
		TotalLines: r.TotalLines,
		Truncated:  r.Truncated,
	}
}

// Generate produces a diff for any tool call, routing on tool name.
// Unknown tools yield an empty inline result with no risk.
func Generate(toolName string, toolInput map[string]any) *Result {
	switch toolName {
	case "Edit":
		return GenerateEdit(
			stringField(toolInput, "file_path", "unknown"),
			stringField(toolInput, "old_string", ""),
			stringField(toolInput, "new_string", ""),
		)
	case "Write":
		return GenerateWrite(
			stringField(toolInput, "file_path", "unknown"),
			stringField(toolInput, "content", ""),
		)
	case "Bash":
		return GenerateBash(stringField(toolInput, "command", ""))
	case "MultiEdit":
		return generateMultiEdit(toolInput)
	}
	return &Result{Tier: types.DiffTierInline}
}

// GenerateEdit renders a unified diff for an Edit call with three
// context lines, the way git presents hunks.
func GenerateEdit(filePath, oldString, newString string) *Result {
	if isBinary(oldString) || isBinary(newString) {
		size := max(len(oldString), len(newString))
		return binaryResult(filepath.Base(filePath), size, types.RiskLow)
	}

	text := unified(filepath.Base(filePath), oldString, newString, 3)
	return finalize(text, types.RiskLow)
}

// GenerateWrite renders a diff for a Write call. The source side is
// empty; Write may overwrite an existing file but the proposed content
// is all that is known at approval time.
func GenerateWrite(filePath, content string) *Result {
	if isBinary(content) {
		return binaryResult(filepath.Base(filePath), len(content), types.RiskLow)
	}

	text := unified(filepath.Base(filePath), "", content, 0)
	return finalize(text, types.RiskLow)
}

// GenerateBash renders display info and a risk assessment for a Bash
// call. The command text itself stands in for a diff and is never
// truncated.
func GenerateBash(command string) *Result {
	return &Result{
		Diff:       command,
		Risk:       AssessBashRisk(command),
		Tier:       types.DiffTierInline,
		TotalBytes: len(command),
		TotalLines: strings.Count(command, "\n") + 1,
	}
}

// generateMultiEdit concatenates the per-edit diffs of a MultiEdit call
// and accumulates their stats individually before truncation.
func generateMultiEdit(toolInput map[string]any) *Result {
	rawEdits, _ := toolInput["edits"].([]any)
	if len(rawEdits) == 0 {
		return &Result{Risk: types.RiskLow, Tier: types.DiffTierInline}
	}

	var combined strings.Builder
	totalAdd, totalDel := 0, 0

	for _, raw := range rawEdits {
		edit, _ := raw.(map[string]any)
		filePath := stringField(edit, "file_path", "unknown")
		oldString := stringField(edit, "old_string", "")
		newString := stringField(edit, "new_string", "")

		if isBinary(oldString) || isBinary(newString) {
			size := max(len(oldString), len(newString))
			fmt.Fprintf(&combined, "Binary file %s (%s)\n", filepath.Base(filePath), formatBytes(size))
			continue
		}

		text := unified(filepath.Base(filePath), oldString, newString, 3)
		if text == "" {
			continue
		}
		combined.WriteString(text)
		stats := computeStats(text)
		totalAdd += stats.Additions
		totalDel += stats.Deletions
	}

	if combined.Len() == 0 {
		return &Result{
			Stats: &types.DiffStats{Additions: totalAdd, Deletions: totalDel},
			Risk:  types.RiskLow,
			Tier:  types.DiffTierInline,
		}
	}

	result := finalize(combined.String(), types.RiskLow)
	// Sub-diffs were counted individually; keep the accumulated totals.
	result.Stats = &types.DiffStats{Additions: totalAdd, Deletions: totalDel}
	return result
}

// unified renders a unified diff between two strings. Both sides get a
// trailing newline on their final line so hunks stay clean.
func unified(filename, oldString, newString string, context int) string {
	ud := difflib.UnifiedDiff{
		A:        splitKeepEnds(oldString),
		B:        splitKeepEnds(newString),
		FromFile: "a/" + filename,
		ToFile:   "b/" + filename,
		Context:  context,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}
	return text
}

// finalize is the central exit point for file diff generators. It
// computes metadata from the full diff, then decides between inline
// delivery and a head+tail preview.
func finalize(fullText string, risk types.RiskLevel) *Result {
	stats := computeStats(fullText)
	if fullText == "" {
		return &Result{Stats: stats, Risk: risk, Tier: types.DiffTierInline}
	}

	totalBytes := len(fullText)
	totalLines := strings.Count(fullText, "\n")

	if totalBytes <= InlineMaxBytes {
		return &Result{
			Diff:       fullText,
			Stats:      stats,
			Risk:       risk,
			Tier:       types.DiffTierInline,
			TotalBytes: totalBytes,
			TotalLines: totalLines,
		}
	}

	return &Result{
		Diff:       buildPreview(fullText),
		Stats:      stats,
		Risk:       risk,
		Tier:       types.DiffTierTruncated,
		TotalBytes: totalBytes,
		TotalLines: totalLines,
		Truncated:  true,
	}
}

// buildPreview shows the first PreviewHeadLines and last
// PreviewTailLines of a large diff with an omission marker in between.
func buildPreview(diffText string) string {
	lines := strings.SplitAfter(diffText, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	if len(lines) <= PreviewHeadLines+PreviewTailLines {
		return diffText
	}

	head := lines[:PreviewHeadLines]
	tail := lines[len(lines)-PreviewTailLines:]
	omitted := len(lines) - PreviewHeadLines - PreviewTailLines

	return strings.Join(head, "") +
		fmt.Sprintf("\n... (%d lines omitted) ...\n\n", omitted) +
		strings.Join(tail, "")
}

func binaryResult(filename string, size int, risk types.RiskLevel) *Result {
	return &Result{
		Diff:       fmt.Sprintf("Binary file %s (%s)", filename, formatBytes(size)),
		Stats:      &types.DiffStats{},
		Risk:       risk,
		Tier:       types.DiffTierInline,
		TotalBytes: size,
	}
}

// isBinary reports whether content looks binary by scanning the leading
// bytes for a null byte.
func isBinary(content string) bool {
	head := content
	if len(head) > binaryCheckSize {
		head = head[:binaryCheckSize]
	}
	return strings.ContainsRune(head, 0)
}

func formatBytes(size int) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}

// computeStats counts additions and deletions from unified diff text.
// File header lines (+++/---) are excluded.
func computeStats(diffText string) *types.DiffStats {
	stats := &types.DiffStats{}
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			stats.Additions++
		case strings.HasPrefix(line, "-"):
			stats.Deletions++
		}
	}
	return stats
}

// splitKeepEnds splits into lines keeping newlines, giving the final
// line a trailing newline. Empty input yields no lines.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}

// stringField pulls a string out of a tool input map with a default.
func stringField(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}
