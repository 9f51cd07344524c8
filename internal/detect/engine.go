// Package detect scores canonical messages with a battery of independent
// detection engines and aggregates their findings.
//
// Every engine is pure with respect to a message: its rule table is built
// once at startup and never mutated, so scoring the same payload twice yields
// identical findings. The one exception is the semantic tool-poisoning
// engine, which runs asynchronously and flags its findings non-deterministic.
package detect

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// Engine scores one canonical message. Engines are independent: they never
// suppress each other, and each may contribute zero or more findings.
type Engine interface {
	Name() string
	Evaluate(msg types.CanonicalMessage) []types.Finding
}

// newFinding stamps the fields every finding shares.
func newFinding(engine string, msg types.CanonicalMessage, sev types.Severity, score int, category, detail string) types.Finding {
	return types.Finding{
		ID:            uuid.NewString(),
		Engine:        engine,
		Detected:      true,
		Severity:      sev,
		Score:         score,
		Category:      category,
		Detail:        detail,
		MessageID:     msg.ID,
		Tag:           msg.Tag,
		PID:           msg.PID,
		Timestamp:     time.Now().UTC(),
		Deterministic: true,
	}
}
