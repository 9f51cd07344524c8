package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

func ep(addr string, port int) types.Endpoint {
	return types.Endpoint{Addr: addr, Port: port}
}

func TestCorrelateInvalidEndpointIgnored(t *testing.T) {
	m, _ := newTestManager(t, 3, nil)

	_, ok := m.CorrelateNetwork(1, ep("", 443))
	assert.False(t, ok)
	_, ok = m.CorrelateNetwork(1, ep("1.2.3.4", 0))
	assert.False(t, ok)
	_, ok = m.CorrelateNetwork(0, ep("1.2.3.4", 443))
	assert.False(t, ok)
}

func TestCorrelateSingleTagBindsAndSticks(t *testing.T) {
	m, _ := newTestManager(t, 3, map[string]string{"mcp-gh": "github"})
	m.OnProcessStart(100, 1, "mcp-gh", time.Now())

	dest := ep("140.82.112.3", 443)
	tag, ok := m.CorrelateNetwork(100, dest)
	require.True(t, ok)
	assert.Equal(t, "github", tag)

	bound, ok := m.Binding(100, "github")
	require.True(t, ok)
	assert.Equal(t, dest, bound)

	// Same destination reattributes through the cache.
	tag, ok = m.CorrelateNetwork(100, dest)
	require.True(t, ok)
	assert.Equal(t, "github", tag)

	// A different destination may not silently steal the binding.
	tag, ok = m.CorrelateNetwork(100, ep("203.0.113.9", 8443))
	require.True(t, ok)
	assert.Equal(t, types.TagUnlabeled, tag)

	bound, ok = m.Binding(100, "github")
	require.True(t, ok)
	assert.Equal(t, dest, bound, "original binding must survive")
}

func TestCorrelateAmbiguousGoesUnlabeled(t *testing.T) {
	m, _ := newTestManager(t, 3, nil)
	m.OnProcessStart(200, 1, "host", time.Now())
	m.Assign(200, "filesystem")
	m.Assign(200, "github")

	tag, ok := m.CorrelateNetwork(200, ep("10.0.0.5", 9000))
	require.True(t, ok)
	assert.Equal(t, types.TagUnlabeled, tag)
	assert.Equal(t, int64(1), m.Ambiguities())

	// Neither tag picked up a binding.
	_, ok = m.Binding(200, "filesystem")
	assert.False(t, ok)
	_, ok = m.Binding(200, "github")
	assert.False(t, ok)
}

func TestCorrelateCacheHitBreaksAmbiguity(t *testing.T) {
	m, _ := newTestManager(t, 3, map[string]string{"mcp-gh": "github"})
	now := time.Now()

	// Bind while unambiguous, then add a second tag.
	m.OnProcessStart(300, 1, "mcp-gh", now)
	dest := ep("140.82.112.3", 443)
	tag, ok := m.CorrelateNetwork(300, dest)
	require.True(t, ok)
	require.Equal(t, "github", tag)

	m.Assign(300, "filesystem")

	// The cached binding still resolves deterministically.
	tag, ok = m.CorrelateNetwork(300, dest)
	require.True(t, ok)
	assert.Equal(t, "github", tag)
}

func TestCorrelateWalksUpToTaggedAncestor(t *testing.T) {
	m, _ := newTestManager(t, 2, map[string]string{"mcp-fs": "filesystem"})
	now := time.Now()

	m.OnProcessStart(400, 1, "mcp-fs", now)      // depth 2
	m.OnProcessStart(401, 400, "node worker.js", now) // depth 1

	// A descendant past the inheritance horizon opens the socket; the walk
	// still lands on the nearest tagged ancestor.
	m.OnProcessStart(402, 401, "curl-helper", now)
	require.Empty(t, m.ActiveTags(402))

	dest := ep("192.0.2.10", 8080)
	tag, ok := m.CorrelateNetwork(402, dest)
	require.True(t, ok)
	assert.Equal(t, "filesystem", tag)

	// The binding lives at the ancestor that owns the tag.
	bound, ok := m.Binding(401, "filesystem")
	require.True(t, ok)
	assert.Equal(t, dest, bound)
}

func TestCorrelateReplayIsDeterministic(t *testing.T) {
	type netEvent struct {
		pid  int
		dest types.Endpoint
	}
	events := []netEvent{
		{101, ep("192.0.2.1", 443)},
		{101, ep("192.0.2.1", 443)},
		{102, ep("192.0.2.2", 443)},
		{101, ep("198.51.100.7", 80)},
		{102, ep("192.0.2.2", 443)},
	}

	run := func() []string {
		m, _ := newTestManager(t, 3, map[string]string{
			"mcp-fs": "filesystem",
			"mcp-gh": "github",
		})
		now := time.Now()
		m.OnProcessStart(101, 1, "mcp-fs", now)
		m.OnProcessStart(102, 1, "mcp-gh", now)

		var tags []string
		for _, ev := range events {
			tag, ok := m.CorrelateNetwork(ev.pid, ev.dest)
			require.True(t, ok)
			tags = append(tags, tag)
		}
		return tags
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"filesystem", "filesystem", "github", types.TagUnlabeled, "github"}, first)
}

func TestCorrelateUntrackedPidGoesUnlabeled(t *testing.T) {
	m, _ := newTestManager(t, 3, nil)

	tag, ok := m.CorrelateNetwork(999, ep("8.8.8.8", 53))
	require.True(t, ok)
	assert.Equal(t, types.TagUnlabeled, tag)
}
