package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/internal/correlate"
	"github.com/mcpwatch/mcpwatch/pkg/types"
)

type mapResolver struct {
	tags map[string]string
	mgr  *correlate.Manager
}

func (r *mapResolver) Resolve(pid int, commandLine string) (string, bool) {
	tag, ok := r.tags[commandLine]
	if ok {
		r.mgr.Assign(pid, tag)
	}
	return tag, ok
}

func setup(t *testing.T) (*Normalizer, *correlate.Manager) {
	t.Helper()
	mgr := correlate.NewManager(3, nil)
	mgr.SetResolver(&mapResolver{tags: map[string]string{"mcp-fs": "filesystem"}, mgr: mgr})
	return New(mgr, nil), mgr
}

func procEvent(pid, ppid int, cmdline string) types.Event {
	return types.Event{
		ID: "e1", Timestamp: time.Now(), Source: types.SourceProcess,
		Type: types.TypeProcessStart, PID: pid,
		Process: &types.ProcessEvent{ParentPID: ppid, CommandLine: cmdline},
	}
}

func TestNormalizeFileEventCarriesTag(t *testing.T) {
	n, mgr := setup(t)
	mgr.OnProcessStart(100, 1, "mcp-fs", time.Now())

	msg, err := n.Normalize(types.Event{
		ID: "e2", Timestamp: time.Now(), Source: types.SourceFile,
		Type: types.TypeFileRead, PID: 100,
		File: &types.FileEvent{Path: "/home/u/notes.txt", Operation: "read"},
	})
	require.NoError(t, err)
	assert.Equal(t, "filesystem", msg.Tag)
	assert.Equal(t, "read /home/u/notes.txt", msg.Payload)
	assert.NotEmpty(t, msg.ID)
}

func TestNormalizeUntaggedBecomesUnlabeled(t *testing.T) {
	n, _ := setup(t)

	msg, err := n.Normalize(types.Event{
		ID: "e3", Timestamp: time.Now(), Source: types.SourceFile,
		Type: types.TypeFileWrite, PID: 999,
		File: &types.FileEvent{Path: "/tmp/x", Operation: "write"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TagUnlabeled, msg.Tag)
}

func TestNormalizeMalformedFrameRejected(t *testing.T) {
	n, _ := setup(t)

	_, err := n.Normalize(types.Event{
		ID: "e4", Timestamp: time.Now(), Source: types.SourceRPC,
		Type: types.TypeRPCFrame, PID: 100,
		RPC: &types.RPCEvent{Direction: types.DirectionInbound, Frame: []byte("{oops")},
	})
	require.Error(t, err)

	// A sibling well-formed frame still normalizes.
	msg, err := n.Normalize(types.Event{
		ID: "e5", Timestamp: time.Now(), Source: types.SourceRPC,
		Type: types.TypeRPCFrame, PID: 100,
		RPC: &types.RPCEvent{Direction: types.DirectionInbound, Frame: []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.SourceRPC, msg.Source)
}

func TestNormalizeToolCallAttachesDeclaredSpec(t *testing.T) {
	n, mgr := setup(t)
	mgr.OnProcessStart(100, 1, "mcp-fs", time.Now())

	// tools/list response declares the tool.
	listFrame := `{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"read_file","description":"Reads a file from the workspace","inputSchema":{"type":"object"}}]}}`
	_, err := n.Normalize(types.Event{
		ID: "e6", Timestamp: time.Now(), Source: types.SourceRPC,
		Type: types.TypeRPCFrame, PID: 100,
		RPC: &types.RPCEvent{Direction: types.DirectionOutbound, Frame: []byte(listFrame)},
	})
	require.NoError(t, err)

	callFrame := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"read_file","arguments":{"path":"/etc/shadow"}}}`
	msg, err := n.Normalize(types.Event{
		ID: "e7", Timestamp: time.Now(), Source: types.SourceRPC,
		Type: types.TypeRPCFrame, PID: 100,
		RPC: &types.RPCEvent{Direction: types.DirectionInbound, Frame: []byte(callFrame)},
	})
	require.NoError(t, err)
	assert.Equal(t, "read_file", msg.ToolName)
	assert.Contains(t, msg.ToolSpec, "Reads a file from the workspace")
	assert.JSONEq(t, `{"path":"/etc/shadow"}`, string(msg.ToolArgs))
	assert.Equal(t, "filesystem", msg.Tag)
}

func TestNormalizeNetworkFrameUsesCorrelator(t *testing.T) {
	n, mgr := setup(t)
	mgr.OnProcessStart(100, 1, "mcp-fs", time.Now())

	remote := types.Endpoint{Addr: "192.0.2.8", Port: 8443}
	msg, err := n.Normalize(types.Event{
		ID: "e8", Timestamp: time.Now(), Source: types.SourceNetwork,
		Type: types.TypeNetSend, PID: 100,
		Network: &types.NetworkEvent{Remote: remote, Operation: "send", Bytes: 512},
	})
	require.NoError(t, err)
	assert.Equal(t, "filesystem", msg.Tag)
	assert.Equal(t, "send 192.0.2.8:8443", msg.Payload)
}

func TestNormalizeProcessEvent(t *testing.T) {
	n, _ := setup(t)
	msg, err := n.Normalize(procEvent(55, 1, "node server.js"))
	require.NoError(t, err)
	assert.Equal(t, "node server.js", msg.Payload)
	assert.Equal(t, types.SourceProcess, msg.Source)
}
