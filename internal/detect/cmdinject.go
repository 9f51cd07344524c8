package detect

import (
	"fmt"
	"regexp"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// ruleGroup is one signature group: a message matches the group if any of
// its patterns match.
type ruleGroup struct {
	name     string
	category string // "critical" | "high" | "medium"
	severity types.Severity
	score    int
	patterns []*regexp.Regexp
}

// CommandInjectionEngine evaluates payloads against signature rule groups.
// The highest-severity matching group determines the engine's severity; the
// score is the maximum among matched groups.
type CommandInjectionEngine struct {
	groups []ruleGroup
}

func NewCommandInjectionEngine() *CommandInjectionEngine {
	return &CommandInjectionEngine{groups: commandInjectionGroups()}
}

func (e *CommandInjectionEngine) Name() string { return "command_injection" }

func (e *CommandInjectionEngine) Evaluate(msg types.CanonicalMessage) []types.Finding {
	if msg.Payload == "" {
		return nil
	}

	var (
		matched  []string
		severity types.Severity
		score    int
		category string
	)
	for _, g := range e.groups {
		for _, re := range g.patterns {
			if !re.MatchString(msg.Payload) {
				continue
			}
			matched = append(matched, g.name)
			if g.severity > severity || (g.severity == severity && g.score > score) {
				severity = g.severity
				category = g.category
			}
			if g.score > score {
				score = g.score
			}
			break
		}
	}
	if len(matched) == 0 {
		return nil
	}

	f := newFinding(e.Name(), msg, severity, score, category,
		fmt.Sprintf("matched rule groups: %v", matched))
	return []types.Finding{f}
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func commandInjectionGroups() []ruleGroup {
	return []ruleGroup{
		{
			name:     "chaining_destructive",
			category: "critical",
			severity: types.SeverityHigh,
			score:    95,
			patterns: compileAll(
				`(?:&&|\|\||;)\s*(?:rm|rmdir|del|format|mkfs|dd|shred|shutdown|reboot|halt)\b`,
				`\brm\s+(?:-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`,
				`\bdd\s+if=.*of=/dev/`,
				`\bmkfs(?:\.\w+)?\s`,
				`>\s*/dev/s[dr][a-z]`,
			),
		},
		{
			name:     "command_substitution",
			category: "critical",
			severity: types.SeverityHigh,
			score:    90,
			patterns: compileAll(
				"\\$\\([^)]*\\)",
				"`[^`]+`",
				`\$\{IFS\}`,
			),
		},
		{
			name:     "dynamic_evaluation",
			category: "high",
			severity: types.SeverityMedium,
			score:    80,
			patterns: compileAll(
				`\beval\s*\(`,
				`\bexec\s*\(`,
				`\bFunction\s*\(\s*["']`,
				`\bchild_process\b`,
				`\bos\.system\s*\(`,
				`\bsubprocess\.(?:run|call|Popen)\s*\(`,
			),
		},
		{
			name:     "privilege_escalation",
			category: "high",
			severity: types.SeverityMedium,
			score:    75,
			patterns: compileAll(
				`\bsudo\s+`,
				`\bchmod\s+(?:\+s|[0-7]*[4-7][0-7]{2}7)\b`,
				`\bchmod\s+777\b`,
				`\bsetuid\b`,
				`/etc/sudoers`,
			),
		},
		{
			name:     "network_exfiltration",
			category: "high",
			severity: types.SeverityMedium,
			score:    85,
			patterns: compileAll(
				`\bcurl\b[^|]*\|\s*(?:sh|bash)\b`,
				`\bwget\b[^|]*\|\s*(?:sh|bash)\b`,
				`\bnc\s+(?:-[a-z]+\s+)*\d{1,3}(?:\.\d{1,3}){3}\b`,
				`\bbase64\b.*\|\s*curl\b`,
				`/dev/tcp/`,
			),
		},
		{
			name:     "shell_metacharacters",
			category: "medium",
			severity: types.SeverityLow,
			score:    40,
			patterns: compileAll(
				`[;&|]{1,2}\s*\w`,
				`>\s*/\w`,
				`<\(`,
			),
		},
	}
}
