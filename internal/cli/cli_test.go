package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "mcpwatch test\n", out)
}

func TestConfigCheckValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host:\n  name: claude\n"), 0o644))

	out, err := execute(t, "config", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

func TestConfigCheckInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sink:\n  on_failure: explode\n"), 0o644))

	_, err := execute(t, "config", "check", path)
	require.Error(t, err)
}

func TestConfigShowAppliesDefaults(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_depth: 3")
	assert.Contains(t, out, "on_failure: buffer")
}

func configWithLevel(level string) config.LoggingConfig {
	return config.LoggingConfig{Level: level, Format: "text"}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger(configWithLevel("verbose"))
	require.Error(t, err)

	logger, err := newLogger(configWithLevel("debug"))
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
