package tagreg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestParseHostConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "claude_desktop_config.json", `{
		"mcpServers": {
			"filesystem": {"command": "/usr/local/bin/mcp-fs", "args": ["--root", "/home"]}
		}
	}`)

	entries, err := parseConfigFile(p)
	require.NoError(t, err)
	assert.Equal(t, "filesystem", entries["/usr/local/bin/mcp-fs --root /home"])
}

func TestParseManifestDirnameSubstitution(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "manifest.json", `{
		"server": {
			"mcpServers": {
				"notes": {"command": "${__dirname}/server/main.js", "args": ["--data", "${__dirname}/data"]}
			}
		}
	}`)

	entries, err := parseConfigFile(p)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	for cmdline, tag := range entries {
		assert.Equal(t, "notes", tag)
		// .js entrypoints are wrapped with their interpreter.
		assert.Contains(t, cmdline, "node")
		assert.Contains(t, cmdline, filepath.Join(dir, "server", "main.js"))
		assert.True(t, strings.HasSuffix(cmdline, "--data "+filepath.Join(dir, "data")))
		assert.NotContains(t, cmdline, dirnameToken)
	}
}

func TestLoadSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", `{
		"mcpServers": {"github": {"command": "/opt/mcp/github-server"}}
	}`)
	bad := writeFile(t, dir, "bad.json", `{not json`)
	missing := filepath.Join(dir, "missing.json")

	r := New("claude", nil)
	r.Load(good, bad, missing)

	m := r.Mappings()
	assert.Equal(t, map[string]string{"/opt/mcp/github-server": "github"}, m)
}

func TestLoadReplacesMappingAtomically(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.json", `{
		"mcpServers": {"alpha": {"command": "/opt/alpha"}}
	}`)

	r := New("claude", nil)
	r.Load(p)
	require.Equal(t, map[string]string{"/opt/alpha": "alpha"}, r.Mappings())

	writeFile(t, dir, "cfg.json", `{
		"mcpServers": {"beta": {"command": "/opt/beta"}}
	}`)
	r.Load(p)

	m := r.Mappings()
	assert.NotContains(t, m, "/opt/alpha")
	assert.Equal(t, "beta", m["/opt/beta"])
}
