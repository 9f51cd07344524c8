package events

import "github.com/mcpwatch/mcpwatch/pkg/types"

// Category groups event types for storage and querying.
var Category = map[string]string{
	types.TypeProcessStart: "process",
	types.TypeProcessStop:  "process",
	types.TypeFileRead:     "file",
	types.TypeFileWrite:    "file",
	types.TypeFileRename:   "file",
	types.TypeNetSend:      "network",
	types.TypeNetRecv:      "network",
	types.TypeRPCFrame:     "rpc",
}

// AllTypes lists every event type the ingress provider may deliver.
var AllTypes = []string{
	types.TypeProcessStart, types.TypeProcessStop,
	types.TypeFileRead, types.TypeFileWrite, types.TypeFileRename,
	types.TypeNetSend, types.TypeNetRecv,
	types.TypeRPCFrame,
}

// Update is one item on the live stream: either a normalized message or a
// finding. Exactly one field is set.
type Update struct {
	Message *types.CanonicalMessage `json:"message,omitempty"`
	Finding *types.Finding          `json:"finding,omitempty"`
}
