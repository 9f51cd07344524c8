package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Source identifies which subsystem produced an event.
type Source string

const (
	SourceProcess Source = "process"
	SourceFile    Source = "file"
	SourceNetwork Source = "network"
	SourceRPC     Source = "rpc"
)

// Direction of an intercepted protocol frame relative to the MCP server.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// TagUnlabeled is the explicit identity assigned when correlation cannot
// attribute an event to a single MCP server. It is never guessed away.
const TagUnlabeled = "unlabeled"

// Endpoint is a remote network endpoint.
type Endpoint struct {
	Addr string `json:"addr"`
	Port int    `json:"port"`
}

// Valid reports whether the endpoint can be used for correlation.
func (e Endpoint) Valid() bool {
	return e.Addr != "" && e.Port > 0 && e.Port <= 65535
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Addr, strconv.Itoa(e.Port))
}

// Event is the closed variant type delivered by the ingress collaborators.
// Exactly one payload pointer is set, matching the event's Source; anything
// else is rejected at the ingress boundary by Validate.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Type      string    `json:"type"`
	PID       int       `json:"pid"`

	Process *ProcessEvent `json:"process,omitempty"`
	File    *FileEvent    `json:"file,omitempty"`
	Network *NetworkEvent `json:"network,omitempty"`
	RPC     *RPCEvent     `json:"rpc,omitempty"`
}

// ProcessEvent carries process lifecycle details.
type ProcessEvent struct {
	ParentPID   int    `json:"parent_pid"`
	CommandLine string `json:"command_line"`
	ExitCode    *int   `json:"exit_code,omitempty"`
}

// FileEvent carries file I/O details.
type FileEvent struct {
	Path      string `json:"path"`
	Operation string `json:"operation"` // "read" | "write" | "rename"
	DestPath  string `json:"dest_path,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
}

// NetworkEvent carries socket send/recv details.
type NetworkEvent struct {
	Remote    Endpoint `json:"remote"`
	Operation string   `json:"operation"` // "send" | "recv"
	Bytes     int64    `json:"bytes,omitempty"`
}

// RPCEvent carries one framed JSON-RPC message captured from an MCP
// server's stdio or socket transport.
type RPCEvent struct {
	Direction Direction `json:"direction"`
	Frame     []byte    `json:"frame"`
	Remote    *Endpoint `json:"remote,omitempty"` // set for network transports
}

// Event type constants as emitted by the ingress provider.
const (
	TypeProcessStart = "process_start"
	TypeProcessStop  = "process_stop"
	TypeFileRead     = "file_read"
	TypeFileWrite    = "file_write"
	TypeFileRename   = "file_rename"
	TypeNetSend      = "net_send"
	TypeNetRecv      = "net_recv"
	TypeRPCFrame     = "rpc_frame"
)

// Validate rejects events whose payload does not match their source. Unknown
// shapes stop here instead of propagating dynamic access into the pipeline.
func (e Event) Validate() error {
	if e.PID <= 0 {
		return fmt.Errorf("event %s: non-positive pid %d", e.Type, e.PID)
	}
	switch e.Source {
	case SourceProcess:
		if e.Process == nil || e.File != nil || e.Network != nil || e.RPC != nil {
			return fmt.Errorf("event %s: process payload required", e.Type)
		}
		if e.Type != TypeProcessStart && e.Type != TypeProcessStop {
			return fmt.Errorf("event: unknown process type %q", e.Type)
		}
	case SourceFile:
		if e.File == nil || e.Process != nil || e.Network != nil || e.RPC != nil {
			return fmt.Errorf("event %s: file payload required", e.Type)
		}
		if e.File.Path == "" {
			return fmt.Errorf("event %s: empty path", e.Type)
		}
	case SourceNetwork:
		if e.Network == nil || e.Process != nil || e.File != nil || e.RPC != nil {
			return fmt.Errorf("event %s: network payload required", e.Type)
		}
	case SourceRPC:
		if e.RPC == nil || e.Process != nil || e.File != nil || e.Network != nil {
			return fmt.Errorf("event %s: rpc payload required", e.Type)
		}
		if len(e.RPC.Frame) == 0 {
			return fmt.Errorf("event %s: empty frame", e.Type)
		}
	default:
		return fmt.Errorf("event: unknown source %q", e.Source)
	}
	return nil
}
