package types

import (
	"encoding/json"
	"time"
)

// CanonicalMessage is the normalized, tag-annotated representation of any
// captured event. Produced once per event, consumed once by the detection
// pipeline.
type CanonicalMessage struct {
	ID        string    `json:"id"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`

	// Tag is the single resolved identity, or TagUnlabeled when the
	// correlator could not attribute the event to exactly one server.
	Tag string `json:"tag"`
	// Tags preserves the full active set at normalization time.
	Tags []string `json:"tags,omitempty"`

	// Payload is the text the detection engines scan: the command line for
	// process events, the path for file events, the frame body for RPC.
	Payload string `json:"payload"`

	// Tool call context, set for rpc tools/call frames. Consumed by the
	// semantic tool-poisoning engine.
	ToolName string          `json:"tool_name,omitempty"`
	ToolSpec string          `json:"tool_spec,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`
}

// EventQuery filters stored events and findings.
type EventQuery struct {
	Tag      string
	Types    []string
	Since    *time.Time
	Until    *time.Time
	Severity *Severity

	Limit  int
	Offset int
	Asc    bool
}
