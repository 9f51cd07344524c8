package normalize

import (
	"encoding/json"
	"fmt"
)

// Frame is one JSON-RPC message captured from an MCP transport.
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ParseFrame parses a raw frame. A malformed frame fails here and is
// discarded by the caller without affecting sibling messages.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if f.JSONRPC == "" {
		return nil, fmt.Errorf("parse frame: missing jsonrpc version")
	}
	return &f, nil
}

// toolCallParams is the params shape of a tools/call request.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCall extracts the tool invocation from a tools/call request frame.
func (f *Frame) ToolCall() (name string, args json.RawMessage, ok bool) {
	if f.Method != "tools/call" || len(f.Params) == 0 {
		return "", nil, false
	}
	var p toolCallParams
	if err := json.Unmarshal(f.Params, &p); err != nil || p.Name == "" {
		return "", nil, false
	}
	return p.Name, p.Arguments, true
}

// toolDefinition is one entry of a tools/list result.
type toolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolList extracts declared tool definitions from a tools/list response
// frame, if this frame is one.
func (f *Frame) ToolList() ([]toolDefinition, bool) {
	if len(f.Result) == 0 {
		return nil, false
	}
	var res struct {
		Tools []toolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(f.Result, &res); err != nil || len(res.Tools) == 0 {
		return nil, false
	}
	return res.Tools, true
}
