// Package tagreg maps MCP server command lines to logical server tags.
//
// Mappings come from desktop-host configuration files and per-extension
// manifests. The registry is safe for concurrent use; Load swaps the whole
// mapping atomically so hot reload never exposes a half-parsed state.
package tagreg

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Propagator receives tag assignments resolved by the registry and answers
// ancestry queries for the fallback rules. Implemented by the correlation
// manager.
type Propagator interface {
	Assign(pid int, tag string)
	NearestAncestorTag(pid int) (string, bool)
}

// Registry resolves command lines to tags.
type Registry struct {
	hostName string
	logger   *slog.Logger

	propMu sync.RWMutex
	prop   Propagator

	mu    sync.RWMutex
	exact map[string]string // full command line -> tag
}

// New creates a registry for the given monitored host application name.
func New(hostName string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		hostName: hostName,
		logger:   logger,
		exact:    make(map[string]string),
	}
}

// HostName returns the monitored host application name.
func (r *Registry) HostName() string { return r.hostName }

// SetPropagator wires the correlation manager. Must be called before Resolve.
func (r *Registry) SetPropagator(p Propagator) {
	r.propMu.Lock()
	defer r.propMu.Unlock()
	r.prop = p
}

func (r *Registry) propagator() Propagator {
	r.propMu.RLock()
	defer r.propMu.RUnlock()
	return r.prop
}

// Load parses the given config and manifest files and replaces the exact
// mapping with the merged result. Unreadable or malformed files are logged
// and skipped; monitoring continues with whatever parsed.
func (r *Registry) Load(paths ...string) {
	merged := make(map[string]string)
	for _, p := range paths {
		entries, err := parseConfigFile(p)
		if err != nil {
			r.logger.Warn("tagreg: skipping config", "path", p, "error", err)
			continue
		}
		for cmdline, tag := range entries {
			merged[cmdline] = tag
		}
	}

	r.mu.Lock()
	r.exact = merged
	r.mu.Unlock()
	r.logger.Info("tagreg: loaded mappings", "count", len(merged), "sources", len(paths))
}

// Mappings returns a copy of the current exact command-line mapping.
func (r *Registry) Mappings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.exact))
	for k, v := range r.exact {
		out[k] = v
	}
	return out
}

// Package-name conventions used by MCP server distributions. Host-specific
// invocation wrappers (npx, bunx, uvx) alter the literal command line, so
// these fire when no exact mapping matches.
var heuristicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\\/@]server-([A-Za-z0-9_][A-Za-z0-9_.-]*)`),
	regexp.MustCompile(`\bmcp-server-([A-Za-z0-9_][A-Za-z0-9_.-]*)`),
	regexp.MustCompile(`\b([A-Za-z0-9_][A-Za-z0-9_-]*)-mcp-server\b`),
}

// Resolve maps a command line to a tag. Priority: exact mapping, heuristic
// package-name extraction, nearest tagged ancestor, host application name.
// First matching rule wins. On success the (pid, tag) assignment is
// registered with the propagator.
func (r *Registry) Resolve(pid int, commandLine string) (string, bool) {
	tag, ok := r.lookup(commandLine)
	if !ok {
		if p := r.propagator(); p != nil {
			tag, ok = p.NearestAncestorTag(pid)
		}
	}
	if !ok && r.matchesHost(commandLine) {
		tag, ok = r.hostName, true
	}
	if !ok {
		return "", false
	}
	if p := r.propagator(); p != nil {
		p.Assign(pid, tag)
	}
	return tag, true
}

// lookup applies the exact and heuristic rules only.
func (r *Registry) lookup(commandLine string) (string, bool) {
	r.mu.RLock()
	tag, ok := r.exact[commandLine]
	r.mu.RUnlock()
	if ok {
		return tag, true
	}

	for _, re := range heuristicPatterns {
		m := re.FindStringSubmatch(commandLine)
		if m == nil {
			continue
		}
		name := m[1]
		// Package entrypoints carry their extension ("server-github.js").
		if ext := filepath.Ext(name); ext == ".js" || ext == ".mjs" || ext == ".py" {
			name = strings.TrimSuffix(name, ext)
		}
		return name, true
	}
	return "", false
}

func (r *Registry) matchesHost(commandLine string) bool {
	if r.hostName == "" {
		return false
	}
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return false
	}
	base := filepath.Base(fields[0])
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.EqualFold(base, r.hostName)
}
