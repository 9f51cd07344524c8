package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mcpwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fileEvent(id, msgID, tag, path string, ts time.Time) (types.Event, types.CanonicalMessage) {
	ev := types.Event{
		ID:        id,
		Timestamp: ts,
		Source:    types.SourceFile,
		Type:      types.TypeFileRead,
		PID:       42,
		File:      &types.FileEvent{Path: path, Operation: "read"},
	}
	msg := types.CanonicalMessage{
		ID: msgID, Source: types.SourceFile, Timestamp: ts, PID: 42,
		Tag: tag, Payload: "read " + path,
	}
	return ev, msg
}

func TestAppendAndQueryMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev1, m1 := fileEvent("e1", "m1", "filesystem", "/etc/hosts", base)
	ev2, m2 := fileEvent("e2", "m2", "github", "/repo/README.md", base.Add(time.Second))
	require.NoError(t, s.AppendEvent(ctx, ev1, m1))
	require.NoError(t, s.AppendEvent(ctx, ev2, m2))

	got, err := s.QueryMessages(ctx, types.EventQuery{Tag: "filesystem"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "read /etc/hosts", got[0].Payload)
	assert.Equal(t, 42, got[0].PID)

	// Default ordering is newest first.
	all, err := s.QueryMessages(ctx, types.EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m2", all[0].ID)

	asc, err := s.QueryMessages(ctx, types.EventQuery{Asc: true})
	require.NoError(t, err)
	assert.Equal(t, "m1", asc[0].ID)
}

func TestQueryMessagesTimeWindowAndTypes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev, m := fileEvent(
			"e"+string(rune('a'+i)), "m"+string(rune('a'+i)),
			"filesystem", "/tmp/f", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.AppendEvent(ctx, ev, m))
	}

	since := base.Add(90 * time.Second)
	until := base.Add(210 * time.Second)
	got, err := s.QueryMessages(ctx, types.EventQuery{Since: &since, Until: &until})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	byType, err := s.QueryMessages(ctx, types.EventQuery{Types: []string{types.TypeFileRead}})
	require.NoError(t, err)
	assert.Len(t, byType, 5)

	none, err := s.QueryMessages(ctx, types.EventQuery{Types: []string{types.TypeNetSend}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev, m := fileEvent("e1", "m1", "filesystem", "/etc/shadow", ts)
	require.NoError(t, s.AppendEvent(ctx, ev, m))

	f := types.Finding{
		ID: "f1", MessageID: "m1", Engine: "filesystem_exposure",
		Detected: true, Severity: types.SeverityHigh, Score: 80,
		Category: "critical", Detail: "/etc/shadow",
		Tag: "filesystem", PID: 42, Deterministic: true, Timestamp: ts,
	}
	require.NoError(t, s.AppendFinding(ctx, f))

	got, err := s.QueryFindings(ctx, types.EventQuery{Tag: "filesystem"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.ID, got[0].ID)
	assert.Equal(t, types.SeverityHigh, got[0].Severity)
	assert.Equal(t, 80, got[0].Score)
	assert.True(t, got[0].Deterministic)
	assert.True(t, got[0].Detected)

	high := types.SeverityHigh
	bySev, err := s.QueryFindings(ctx, types.EventQuery{Severity: &high})
	require.NoError(t, err)
	assert.Len(t, bySev, 1)

	low := types.SeverityLow
	none, err := s.QueryFindings(ctx, types.EventQuery{Severity: &low})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteEventCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	ev := types.Event{
		ID: "e1", Timestamp: ts, Source: types.SourceRPC, Type: types.TypeRPCFrame, PID: 7,
		RPC: &types.RPCEvent{
			Direction: types.DirectionInbound,
			Frame:     json.RawMessage(`{"jsonrpc":"2.0","method":"tools/call"}`),
		},
	}
	msg := types.CanonicalMessage{ID: "m1", Source: types.SourceRPC, Timestamp: ts, PID: 7, Tag: "github", Payload: "x"}
	require.NoError(t, s.AppendEvent(ctx, ev, msg))
	require.NoError(t, s.AppendFinding(ctx, types.Finding{
		ID: "f1", MessageID: "m1", Engine: "command_injection",
		Severity: types.SeverityHigh, Score: 90, Timestamp: ts,
	}))

	require.NoError(t, s.DeleteEvent(ctx, "e1"))

	msgs, err := s.QueryMessages(ctx, types.EventQuery{})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	findings, err := s.QueryFindings(ctx, types.EventQuery{})
	require.NoError(t, err)
	assert.Empty(t, findings, "findings must cascade with the originating event")

	var rpcRows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM rpc_events`).Scan(&rpcRows))
	assert.Zero(t, rpcRows, "derived rows must cascade with the originating event")
}

func TestQueryLimitAndOffset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		ev, m := fileEvent(
			"e"+string(rune('a'+i)), "m"+string(rune('a'+i)),
			"filesystem", "/tmp/f", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.AppendEvent(ctx, ev, m))
	}

	page, err := s.QueryMessages(ctx, types.EventQuery{Limit: 3, Offset: 3, Asc: true})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "md", page[0].ID)
}
