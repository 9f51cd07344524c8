package types

import (
	"fmt"
	"time"
)

// Severity of a detection finding.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of Severity.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for Severity.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Severity.
func (s *Severity) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"none"`:
		*s = SeverityNone
	case `"low"`:
		*s = SeverityLow
	case `"medium"`:
		*s = SeverityMedium
	case `"high"`:
		*s = SeverityHigh
	case `"critical"`:
		*s = SeverityCritical
	default:
		*s = SeverityNone
	}
	return nil
}

// ParseSeverity converts a severity name, rejecting unknown names. Wire
// decoding stays lenient through UnmarshalJSON; validation of
// caller-supplied input goes through here.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "none":
		return SeverityNone, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityNone, fmt.Errorf("unknown severity %q", s)
	}
}

// Finding is one detection engine's output for one canonical message.
// Immutable once produced; ownership transfers to the store.
type Finding struct {
	ID        string    `json:"id"`
	Engine    string    `json:"engine"`
	Detected  bool      `json:"detected"`
	Severity  Severity  `json:"severity"`
	Score     int       `json:"score"` // 0-100
	Category  string    `json:"category,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	MessageID string    `json:"message_id"`
	Tag       string    `json:"tag,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Deterministic is false for engines whose score may vary run-to-run
	// (the semantic tool-poisoning evaluator). Sync engines always set true.
	Deterministic bool `json:"deterministic"`
}
