package approval

import (
	"regexp"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/pattern"

	"github.com/zurk-ai/zurk/internal/logging"
)

// Rule defines the approval policy for one tool.
type Rule struct {
	// ToolName is the tool this rule applies to (e.g. "Write", "Bash").
	ToolName string
	// AutoApprove skips user interaction entirely.
	AutoApprove bool
	// Patterns auto-approve matching Bash commands (shell glob style).
	Patterns []string
	// Description is for operators reading the config.
	Description string
}

// shellSplitRe splits compound commands on shell operators:
// &&, ||, ;, and single |.
var shellSplitRe = regexp.MustCompile(`\s*(?:&&|\|\||[;|])\s*`)

// MatchesPattern reports whether a command is safe under this rule's
// patterns. Compound commands are split and EVERY segment must match a
// safe pattern; an unrecognized segment makes the whole command require
// approval.
func (r *Rule) MatchesPattern(command string) bool {
	if len(r.Patterns) == 0 {
		return false
	}

	var segments []string
	for _, s := range shellSplitRe.Split(strings.TrimSpace(command), -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return false
	}

	for _, segment := range segments {
		if !r.matchesAnyPattern(segment) {
			return false
		}
	}
	return true
}

func (r *Rule) matchesAnyPattern(command string) bool {
	for _, p := range r.Patterns {
		re, err := compilePattern(p)
		if err != nil {
			logging.Warn().Str("pattern", p).Err(err).Msg("invalid approval pattern")
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

// compilePattern turns a shell glob into an anchored regexp. Unlike
// path matching, * here crosses slashes so "cat *" covers
// "cat /tmp/x". Compiled patterns are cached.
func compilePattern(glob string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()

	if re, ok := patternCache[glob]; ok {
		return re, nil
	}
	expr, err := pattern.Regexp(glob, pattern.EntireString)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patternCache[glob] = re
	return re, nil
}

// DefaultRules returns a fresh copy of the built-in approval policy.
// Read-only tools are auto-approved; mutating tools require approval,
// with a safe-pattern escape hatch for common Bash commands.
func DefaultRules() map[string]*Rule {
	return map[string]*Rule{
		"Read": {
			ToolName:    "Read",
			AutoApprove: true,
			Description: "File reading is always safe",
		},
		"Glob": {
			ToolName:    "Glob",
			AutoApprove: true,
			Description: "File pattern matching is always safe",
		},
		"Grep": {
			ToolName:    "Grep",
			AutoApprove: true,
			Description: "File content searching is always safe",
		},
		"WebSearch": {
			ToolName:    "WebSearch",
			AutoApprove: true,
			Description: "Web searching is always safe",
		},
		"WebFetch": {
			ToolName:    "WebFetch",
			AutoApprove: true,
			Description: "Web fetching is always safe",
		},
		"Write": {
			ToolName:    "Write",
			Description: "File writing requires approval",
		},
		"Edit": {
			ToolName:    "Edit",
			Description: "File editing requires approval",
		},
		"MultiEdit": {
			ToolName:    "MultiEdit",
			Description: "Multiple file editing requires approval",
		},
		"Bash": {
			ToolName: "Bash",
			Patterns: []string{
				"git status*",
				"git log*",
				"git diff*",
				"git branch*",
				"git show*",
				"ls*",
				"pwd",
				"cat *",
				"echo *",
				"head *",
				"tail *",
				"wc *",
				"which *",
				"type *",
				"npm list*",
				"npm outdated*",
				"npm view*",
				"pip list*",
				"pip show*",
				"python --version*",
				"node --version*",
			},
			Description: "Bash commands require approval unless safe pattern matches",
		},
	}
}
