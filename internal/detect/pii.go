package detect

import (
	"regexp"
	"strings"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// piiPattern is one structured PII category.
type piiPattern struct {
	category string
	severity types.Severity
	score    int
	regex    *regexp.Regexp
}

// PIILeakEngine matches payloads against structured PII patterns, producing
// one finding per category detected.
type PIILeakEngine struct {
	patterns []piiPattern
	medical  []string
}

func NewPIILeakEngine() *PIILeakEngine {
	return &PIILeakEngine{
		patterns: []piiPattern{
			{
				category: "Korean Resident Registration Number",
				severity: types.SeverityHigh,
				score:    95,
				regex:    regexp.MustCompile(`\b\d{6}-[1-4]\d{6}\b`),
			},
			{
				category: "Korean Mobile Phone",
				severity: types.SeverityMedium,
				score:    70,
				regex:    regexp.MustCompile(`\b01[016789]-\d{3,4}-\d{4}\b`),
			},
			{
				category: "Korean Driver License",
				severity: types.SeverityHigh,
				score:    85,
				regex:    regexp.MustCompile(`\b\d{2}-\d{2}-\d{6}-\d{2}\b`),
			},
			{
				category: "Passport Number",
				severity: types.SeverityHigh,
				score:    85,
				regex:    regexp.MustCompile(`\b[A-Z]{1,2}\d{7,8}\b`),
			},
			{
				category: "US SSN",
				severity: types.SeverityHigh,
				score:    90,
				regex:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			},
			{
				category: "Credit Card",
				severity: types.SeverityHigh,
				score:    90,
				regex:    regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6(?:011|5\d{2}))[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,4}\b`),
			},
			{
				category: "Bank Account",
				severity: types.SeverityMedium,
				score:    75,
				regex:    regexp.MustCompile(`\b\d{3}-\d{3}-\d{6,8}\b`),
			},
			{
				category: "Email",
				severity: types.SeverityLow,
				score:    40,
				regex:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			},
			{
				category: "IPv4 Address",
				severity: types.SeverityLow,
				score:    30,
				regex:    regexp.MustCompile(`\b(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]?\d)(?:\.(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]?\d)){3}\b`),
			},
		},
		medical: []string{
			"diagnosis", "prescription", "blood type", "medical record",
			"patient id", "icd-10",
		},
	}
}

func (e *PIILeakEngine) Name() string { return "pii_leak" }

func (e *PIILeakEngine) Evaluate(msg types.CanonicalMessage) []types.Finding {
	if msg.Payload == "" {
		return nil
	}

	var findings []types.Finding
	for _, p := range e.patterns {
		if !p.regex.MatchString(msg.Payload) {
			continue
		}
		findings = append(findings, newFinding(e.Name(), msg, p.severity, p.score,
			p.category, "structured PII pattern matched"))
	}

	lower := strings.ToLower(msg.Payload)
	for _, kw := range e.medical {
		if strings.Contains(lower, kw) {
			findings = append(findings, newFinding(e.Name(), msg, types.SeverityMedium, 60,
				"Medical Information", "medical keyword matched"))
			break
		}
	}
	return findings
}
