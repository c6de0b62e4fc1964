package diff

import (
	"regexp"
	"strings"

	"github.com/zurk-ai/zurk/pkg/types"
)

// Bash risk classification. High risk is destructive, irreversible, or
// arbitrary code execution; medium risk is side effects, installs,
// network, or process control.

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+.*-[^\s]*r[^\s]*f`), // rm -rf, rm -irf, etc.
	regexp.MustCompile(`\brm\s+.*-[^\s]*f[^\s]*r`), // rm -fr
	regexp.MustCompile(`\bsudo\s+rm\b`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`\|\s*sh\b`),
	regexp.MustCompile(`\|\s*bash\b`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(sh|bash)\b`),
	regexp.MustCompile(`\bwget\b.*\|\s*(sh|bash)\b`),
	regexp.MustCompile(`\bchmod\s+777\b`),
	regexp.MustCompile(`\bchown\s+-R\b`),
	regexp.MustCompile(`\bgit\s+push\s+.*--force\b`),
	regexp.MustCompile(`\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`\bgit\s+clean\s+-f`),
	regexp.MustCompile(`:\(\)\s*\{`), // fork bomb
	regexp.MustCompile(`\beval\s+`),
	regexp.MustCompile(`\bsh\s+-c\b`),
	regexp.MustCompile(`\bbash\s+-c\b`),
}

var mediumRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bgit\s+push\b`),
	regexp.MustCompile(`\bgit\s+checkout\s+\.`),
	regexp.MustCompile(`\bgit\s+stash\s+drop\b`),
	regexp.MustCompile(`\bpip\s+install\b`),
	regexp.MustCompile(`\bnpm\s+install\b`),
	regexp.MustCompile(`\byarn\s+add\b`),
	regexp.MustCompile(`\bcurl\b`),
	regexp.MustCompile(`\bwget\b`),
	regexp.MustCompile(`\bkill\b`),
	regexp.MustCompile(`\bpkill\b`),
	regexp.MustCompile(`\bmv\s+`),
	regexp.MustCompile(`\bcp\s+-r`),
	regexp.MustCompile(`\benv\s+\S`), // env prefix to run commands
}

// compoundSplit over-splits compound commands on ;, &&, ||. False
// positives are safer than false negatives here.
var compoundSplit = regexp.MustCompile(`\s*(?:&&|\|\||;)\s*`)

// AssessBashRisk classifies a bash command. Compound commands are split
// on ;, &&, || and the highest risk across all segments wins. The full
// command is checked first so cross-segment patterns like piping to sh
// are caught.
func AssessBashRisk(command string) types.RiskLevel {
	fullRisk := assessSingle(command)
	if fullRisk == types.RiskHigh {
		return types.RiskHigh
	}

	segments := compoundSplit.Split(command, -1)
	if len(segments) <= 1 {
		return fullRisk
	}

	maxRisk := fullRisk
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		maxRisk = types.MaxRisk(maxRisk, assessSingle(segment))
		if maxRisk == types.RiskHigh {
			return types.RiskHigh
		}
	}
	return maxRisk
}

func assessSingle(command string) types.RiskLevel {
	for _, p := range dangerousPatterns {
		if p.MatchString(command) {
			return types.RiskHigh
		}
	}
	for _, p := range mediumRiskPatterns {
		if p.MatchString(command) {
			return types.RiskMedium
		}
	}
	return types.RiskLow
}
