package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// FilesystemExposureEngine matches path-like payload content against
// OS-critical path lists, sensitive keywords, dangerous extensions, and
// traversal patterns. Signal scores are additive within a message up to a
// cap, then banded into a severity.
type FilesystemExposureEngine struct {
	criticalPaths  []glob.Glob
	credentialDirs []glob.Glob
	keywords       []string
	extensions     []string
	traversal      []*regexp.Regexp
}

// Additive weights and the severity bands they feed.
const (
	fsScoreCap        = 100
	fsCriticalPath    = 50
	fsCredentialDir   = 35
	fsSensitiveWord   = 15
	fsDangerousExt    = 15
	fsTraversal       = 30
	fsBandCritical    = 75
	fsBandHigh        = 55
	fsBandMedium      = 35
)

func NewFilesystemExposureEngine() *FilesystemExposureEngine {
	compile := func(patterns []string) []glob.Glob {
		out := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			out = append(out, glob.MustCompile(p))
		}
		return out
	}

	return &FilesystemExposureEngine{
		// Patterns are lowercase: payloads are lowered before matching.
		criticalPaths: compile([]string{
			// Unix
			`*/etc/passwd*`, `*/etc/shadow*`, `*/etc/sudoers*`, `*/etc/ssh/*`,
			`*/boot/*`, `*/proc/kcore*`, `*/root/*`,
			// Windows
			`*[\\/]windows[\\/]system32[\\/]*`, `*[\\/]system32[\\/]config[\\/]sam*`,
			`*[\\/]ntds.dit*`,
			// macOS
			`*/system/library/*`, `*/library/keychains/*`, `*/private/etc/*`,
		}),
		credentialDirs: compile([]string{
			`*/.ssh/*`, `*/.ssh`, `*/.aws/*`, `*/.gnupg/*`, `*/.kube/*`,
			`*/.config/gcloud/*`, `*/.docker/config.json*`, `*/.netrc*`,
			`*[\\/]appdata[\\/]*credentials*`,
		}),
		keywords: []string{
			"password", "passwd", "secret", "credential", "token",
			"private_key", "privatekey", "apikey", "api_key", "keychain",
		},
		extensions: []string{
			".pem", ".key", ".p12", ".pfx", ".kdbx", ".env", ".ppk", ".crt",
		},
		traversal: []*regexp.Regexp{
			regexp.MustCompile(`\.\.[\\/]`),                      // plain
			regexp.MustCompile(`(?i)(?:\.\.|%2e%2e)%2f`),         // URL-encoded
			regexp.MustCompile(`(?i)(?:%252e%252e|\.\.)%252f`),   // double-encoded
		},
	}
}

func (e *FilesystemExposureEngine) Name() string { return "filesystem_exposure" }

func (e *FilesystemExposureEngine) Evaluate(msg types.CanonicalMessage) []types.Finding {
	payload := msg.Payload
	if payload == "" {
		return nil
	}
	lower := strings.ToLower(payload)
	decoded := decodeTraversal(lower)

	score := 0
	signals := map[string]struct{}{}

	for _, re := range e.traversal {
		if re.MatchString(lower) {
			score += fsTraversal
			signals["path_traversal"] = struct{}{}
			break
		}
	}
	for _, g := range e.criticalPaths {
		if g.Match(decoded) {
			score += fsCriticalPath
			signals["critical_system_path"] = struct{}{}
			break
		}
	}
	for _, g := range e.credentialDirs {
		if g.Match(decoded) {
			score += fsCredentialDir
			signals["credential_directory"] = struct{}{}
			break
		}
	}
	for _, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			score += fsSensitiveWord
			signals["sensitive_keyword"] = struct{}{}
			break
		}
	}
	for _, ext := range e.extensions {
		if strings.Contains(lower, ext) {
			score += fsDangerousExt
			signals["dangerous_extension"] = struct{}{}
			break
		}
	}

	if score == 0 {
		return nil
	}
	if score > fsScoreCap {
		score = fsScoreCap
	}

	var severity types.Severity
	var category string
	switch {
	case score >= fsBandCritical:
		severity, category = types.SeverityHigh, "critical"
	case score >= fsBandHigh:
		severity, category = types.SeverityMedium, "high"
	case score >= fsBandMedium:
		severity, category = types.SeverityMedium, "medium"
	default:
		severity, category = types.SeverityLow, "low"
	}

	names := make([]string, 0, len(signals))
	for s := range signals {
		names = append(names, s)
	}
	sort.Strings(names)

	f := newFinding(e.Name(), msg, severity, score, category,
		fmt.Sprintf("signals: %v", names))
	return []types.Finding{f}
}

// decodeTraversal collapses single and double URL encoding so encoded
// traversal still reaches the path lists.
func decodeTraversal(s string) string {
	r := strings.NewReplacer(
		"%252e", ".", "%252f", "/", "%255c", `\`,
		"%2e", ".", "%2f", "/", "%5c", `\`,
	)
	return r.Replace(s)
}
