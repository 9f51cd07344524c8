package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// DataExfiltrationEngine detects sensitive-data access combined with an
// outbound-transfer idiom inside the same message window, e.g. reading a
// credential path and invoking a network tool in one call.
type DataExfiltrationEngine struct {
	sensitive []string
	outbound  []*regexp.Regexp
}

func NewDataExfiltrationEngine() *DataExfiltrationEngine {
	return &DataExfiltrationEngine{
		sensitive: []string{
			".ssh", ".env", ".aws", ".gnupg", ".netrc", "id_rsa", "id_ed25519",
			"credentials", "secret", "token", "wallet", "keychain",
			"/etc/passwd", "/etc/shadow",
		},
		outbound: []*regexp.Regexp{
			regexp.MustCompile(`\bcurl\b`),
			regexp.MustCompile(`\bwget\b`),
			regexp.MustCompile(`\bnc\b|\bnetcat\b`),
			regexp.MustCompile(`\bscp\b|\brsync\b.*:`),
			regexp.MustCompile(`https?://`),
			regexp.MustCompile(`\bfetch\s*\(`),
			regexp.MustCompile(`\brequests\.(?:post|put)\s*\(`),
			regexp.MustCompile(`/dev/tcp/`),
		},
	}
}

func (e *DataExfiltrationEngine) Name() string { return "data_exfiltration" }

func (e *DataExfiltrationEngine) Evaluate(msg types.CanonicalMessage) []types.Finding {
	if msg.Payload == "" {
		return nil
	}
	lower := strings.ToLower(msg.Payload)

	var accessed string
	for _, marker := range e.sensitive {
		if strings.Contains(lower, marker) {
			accessed = marker
			break
		}
	}
	if accessed == "" {
		return nil
	}

	var transfer string
	for _, re := range e.outbound {
		if re.MatchString(lower) {
			transfer = re.String()
			break
		}
	}
	if transfer == "" {
		return nil
	}

	f := newFinding(e.Name(), msg, types.SeverityHigh, 85, "exfiltration",
		fmt.Sprintf("sensitive marker %q combined with outbound transfer", accessed))
	return []types.Finding{f}
}
