// Package normalize converts raw ingress events into canonical,
// tag-annotated messages for the detection pipeline.
package normalize

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mcpwatch/mcpwatch/internal/correlate"
	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// Normalizer attaches resolved identity to events. Frames with no resolvable
// tag are normalized as unlabeled rather than dropped, preserving the audit
// trail.
type Normalizer struct {
	corr   *correlate.Manager
	logger *slog.Logger

	// Declared tool specs observed on tools/list responses, keyed by
	// tag + tool name. Read by tools/call normalization so the semantic
	// engine can compare declared capability against actual arguments.
	specMu sync.RWMutex
	specs  map[string]string
}

func New(corr *correlate.Manager, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		corr:   corr,
		logger: logger,
		specs:  make(map[string]string),
	}
}

func specKey(tag, tool string) string { return tag + "\x00" + tool }

// Normalize converts one ingress event. A returned error means the single
// unit was malformed and should be discarded and logged; sibling events are
// unaffected.
func (n *Normalizer) Normalize(ev types.Event) (types.CanonicalMessage, error) {
	if err := ev.Validate(); err != nil {
		return types.CanonicalMessage{}, err
	}

	// Keep the ingress id so stored messages join back to their raw event.
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	msg := types.CanonicalMessage{
		ID:        id,
		Source:    ev.Source,
		Timestamp: ev.Timestamp,
		PID:       ev.PID,
	}

	switch ev.Source {
	case types.SourceProcess:
		msg.Payload = ev.Process.CommandLine
		n.attachProcessTags(&msg)

	case types.SourceFile:
		msg.Payload = ev.File.Operation + " " + ev.File.Path
		if ev.File.DestPath != "" {
			msg.Payload += " -> " + ev.File.DestPath
		}
		n.attachProcessTags(&msg)

	case types.SourceNetwork:
		msg.Payload = ev.Network.Operation + " " + ev.Network.Remote.String()
		tag, ok := n.corr.CorrelateNetwork(ev.PID, ev.Network.Remote)
		if !ok {
			return types.CanonicalMessage{}, fmt.Errorf("normalize: invalid endpoint %s", ev.Network.Remote)
		}
		msg.Tag = tag
		msg.Tags = []string{tag}

	case types.SourceRPC:
		frame, err := ParseFrame(ev.RPC.Frame)
		if err != nil {
			return types.CanonicalMessage{}, err
		}
		msg.Payload = string(ev.RPC.Frame)

		if ev.RPC.Remote != nil {
			tag, ok := n.corr.CorrelateNetwork(ev.PID, *ev.RPC.Remote)
			if !ok {
				return types.CanonicalMessage{}, fmt.Errorf("normalize: invalid endpoint %s", ev.RPC.Remote)
			}
			msg.Tag = tag
			msg.Tags = []string{tag}
		} else {
			n.attachProcessTags(&msg)
		}

		if tools, ok := frame.ToolList(); ok {
			n.recordSpecs(msg.Tag, tools)
		}
		if name, args, ok := frame.ToolCall(); ok {
			msg.ToolName = name
			msg.ToolArgs = args
			msg.ToolSpec = n.lookupSpec(msg.Tag, name)
		}
	}

	return msg, nil
}

// attachProcessTags sets the message tag from the pid's active set: a single
// active tag resolves directly, anything else is conservatively unlabeled.
// The full set is preserved on Tags.
func (n *Normalizer) attachProcessTags(msg *types.CanonicalMessage) {
	active := n.corr.ActiveTags(msg.PID)
	switch len(active) {
	case 1:
		msg.Tag = active[0]
		msg.Tags = active
	case 0:
		msg.Tag = types.TagUnlabeled
		msg.Tags = []string{types.TagUnlabeled}
	default:
		msg.Tag = types.TagUnlabeled
		msg.Tags = active
	}
}

func (n *Normalizer) recordSpecs(tag string, tools []toolDefinition) {
	n.specMu.Lock()
	defer n.specMu.Unlock()
	for _, t := range tools {
		spec := t.Description
		if len(t.InputSchema) > 0 {
			spec += "\n" + string(t.InputSchema)
		}
		n.specs[specKey(tag, t.Name)] = spec
	}
}

func (n *Normalizer) lookupSpec(tag, tool string) string {
	n.specMu.RLock()
	defer n.specMu.RUnlock()
	return n.specs[specKey(tag, tool)]
}
