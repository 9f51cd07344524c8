// Package correlate owns the shared identity state: which logical MCP server
// each observed process belongs to, and which remote endpoint each (pid, tag)
// pair is bound to.
//
// State is sharded by pid so updates to different processes never contend;
// updates to a single pid are serialized by its shard lock. Ancestry walks
// take one shard lock at a time and carry a cycle guard, so malformed event
// ordering cannot loop or deadlock.
package correlate

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// Resolver assigns fresh tags to processes that did not inherit one.
// Implemented by the tag registry.
type Resolver interface {
	Resolve(pid int, commandLine string) (string, bool)
}

// DefaultMaxDepth covers the typical launcher -> interpreter -> server chain
// while keeping tags out of unrelated long-lived descendants.
const DefaultMaxDepth = 3

// maxAncestryWalk bounds ancestry traversal as a cycle guard.
const maxAncestryWalk = 256

const shardCount = 64

type tagState struct {
	depth int
	bound *types.Endpoint
}

type trackedProcess struct {
	pid         int
	ppid        int
	commandLine string
	start       time.Time
	tags        map[string]*tagState
}

type shard struct {
	mu    sync.Mutex
	procs map[int]*trackedProcess
}

// Manager is the correlation-state manager.
type Manager struct {
	maxDepth int
	logger   *slog.Logger

	resolverMu sync.RWMutex
	resolver   Resolver

	shards [shardCount]shard

	ambiguous atomic.Int64
}

// NewManager creates a manager with the given maximum inheritance depth.
func NewManager(maxDepth int, logger *slog.Logger) *Manager {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{maxDepth: maxDepth, logger: logger}
	for i := range m.shards {
		m.shards[i].procs = make(map[int]*trackedProcess)
	}
	return m
}

// SetResolver wires the tag registry. Must be set before process events flow.
func (m *Manager) SetResolver(r Resolver) {
	m.resolverMu.Lock()
	defer m.resolverMu.Unlock()
	m.resolver = r
}

func (m *Manager) getResolver() Resolver {
	m.resolverMu.RLock()
	defer m.resolverMu.RUnlock()
	return m.resolver
}

// MaxDepth returns the configured maximum inheritance depth.
func (m *Manager) MaxDepth() int { return m.maxDepth }

func (m *Manager) shardFor(pid int) *shard {
	return &m.shards[uint(pid)%shardCount]
}

// OnProcessStart registers a process and propagates identity. Active parent
// tags are inherited at depth-1; only depths > 0 survive. If nothing was
// inherited, the resolver is consulted for a fresh assignment at max depth.
func (m *Manager) OnProcessStart(pid, ppid int, commandLine string, start time.Time) {
	inherited := make(map[string]*tagState)
	for tag, depth := range m.activeTagDepths(ppid) {
		if depth-1 > 0 {
			inherited[tag] = &tagState{depth: depth - 1}
		}
	}

	s := m.shardFor(pid)
	s.mu.Lock()
	s.procs[pid] = &trackedProcess{
		pid:         pid,
		ppid:        ppid,
		commandLine: commandLine,
		start:       start,
		tags:        inherited,
	}
	hasTags := len(inherited) > 0
	s.mu.Unlock()

	if hasTags {
		return
	}
	if r := m.getResolver(); r != nil {
		// Resolve calls back into Assign on success; the shard lock is not
		// held across this call.
		r.Resolve(pid, commandLine)
	}
}

// OnProcessStop releases all TagState and NetworkBinding entries for pid.
// Terminal: subsequent lookups return empty.
func (m *Manager) OnProcessStop(pid int) {
	s := m.shardFor(pid)
	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()
}

// Assign grants pid the tag at maximum depth (a root resolution). Processes
// unknown to the arena get a stub record so a late registry resolution is
// not lost.
func (m *Manager) Assign(pid int, tag string) {
	s := m.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		p = &trackedProcess{pid: pid, tags: make(map[string]*tagState)}
		s.procs[pid] = p
	}
	p.tags[tag] = &tagState{depth: m.maxDepth}
}

// ActiveTags returns the tags active for pid (depth > 0), sorted for
// deterministic consumption.
func (m *Manager) ActiveTags(pid int) []string {
	depths := m.activeTagDepths(pid)
	if len(depths) == 0 {
		return nil
	}
	out := make([]string, 0, len(depths))
	for tag := range depths {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// activeTagDepths snapshots pid's active tags and their depths.
func (m *Manager) activeTagDepths(pid int) map[string]int {
	if pid <= 0 {
		return nil
	}
	s := m.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		return nil
	}
	out := make(map[string]int, len(p.tags))
	for tag, st := range p.tags {
		if st.depth > 0 {
			out[tag] = st.depth
		}
	}
	return out
}

// parentOf snapshots pid's parent, or ok=false if pid is untracked.
func (m *Manager) parentOf(pid int) (int, bool) {
	s := m.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		return 0, false
	}
	return p.ppid, true
}

// NearestAncestorTag walks up from pid's parent to the first process with
// active tags and returns the lexically smallest of them, which keeps the
// registry's ancestor fallback deterministic.
func (m *Manager) NearestAncestorTag(pid int) (string, bool) {
	anc, ok := m.nearestTaggedAncestor(pid, false)
	if !ok {
		return "", false
	}
	tags := m.ActiveTags(anc)
	if len(tags) == 0 {
		return "", false
	}
	return tags[0], true
}

// nearestTaggedAncestor finds the closest process at or above pid with a
// non-empty active tag set. includeSelf controls whether pid itself counts.
func (m *Manager) nearestTaggedAncestor(pid int, includeSelf bool) (int, bool) {
	visited := make(map[int]struct{})
	cur := pid
	first := true
	for steps := 0; steps < maxAncestryWalk; steps++ {
		if cur <= 0 {
			return 0, false
		}
		if _, seen := visited[cur]; seen {
			m.logger.Warn("correlate: ancestry cycle detected", "pid", pid, "at", cur)
			return 0, false
		}
		visited[cur] = struct{}{}

		if (!first || includeSelf) && len(m.activeTagDepths(cur)) > 0 {
			return cur, true
		}
		ppid, ok := m.parentOf(cur)
		if !ok {
			return 0, false
		}
		cur = ppid
		first = false
	}
	return 0, false
}

// Depth reports the effective depth of tag for pid, for tests and the API.
func (m *Manager) Depth(pid int, tag string) (int, bool) {
	s := m.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		return 0, false
	}
	st, ok := p.tags[tag]
	if !ok {
		return 0, false
	}
	return st.depth, true
}

// CommandLine reports the command line recorded at pid's process start.
func (m *Manager) CommandLine(pid int) (string, bool) {
	s := m.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok || p.commandLine == "" {
		return "", false
	}
	return p.commandLine, true
}

// Binding reports the endpoint bound to (pid, tag), if any.
func (m *Manager) Binding(pid int, tag string) (types.Endpoint, bool) {
	s := m.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		return types.Endpoint{}, false
	}
	st, ok := p.tags[tag]
	if !ok || st.bound == nil {
		return types.Endpoint{}, false
	}
	return *st.bound, true
}

// Ambiguities returns how many network events were attributed to the
// unlabeled tag because no deterministic choice existed.
func (m *Manager) Ambiguities() int64 { return m.ambiguous.Load() }
