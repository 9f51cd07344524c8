package correlate

import (
	"sort"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// CorrelateNetwork attributes a network event on pid toward dest to a tag.
//
// Strategy, in order: ignore invalid endpoints; walk up to the nearest
// process with active tags; prefer an existing binding equal to dest (sticky
// reattribution); otherwise bind iff exactly one active unbound candidate
// exists; otherwise attribute to the explicit unlabeled tag. Cache-first and
// greedy, so replaying the same event sequence always yields the same
// bindings.
//
// ok=false means the event carries no usable correlation input and should be
// ignored entirely.
func (m *Manager) CorrelateNetwork(pid int, dest types.Endpoint) (string, bool) {
	if pid <= 0 || !dest.Valid() {
		return "", false
	}

	owner, found := m.nearestTaggedAncestor(pid, true)
	if !found {
		return types.TagUnlabeled, true
	}

	s := m.shardFor(owner)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[owner]
	if !ok {
		return types.TagUnlabeled, true
	}

	// Sorted iteration keeps the cache check deterministic.
	tags := make([]string, 0, len(p.tags))
	for tag, st := range p.tags {
		if st.depth > 0 {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)

	// Sticky cache hit wins.
	for _, tag := range tags {
		if st := p.tags[tag]; st.bound != nil && *st.bound == dest {
			return tag, true
		}
	}

	// A binding, once set, is never replaced by a different endpoint, so an
	// already-bound tag is not a candidate for dest.
	var unbound []string
	for _, tag := range tags {
		if p.tags[tag].bound == nil {
			unbound = append(unbound, tag)
		}
	}

	if len(tags) == 1 && len(unbound) == 1 {
		ep := dest
		p.tags[unbound[0]].bound = &ep
		return unbound[0], true
	}

	// Genuine ambiguity: never guess.
	m.ambiguous.Add(1)
	return types.TagUnlabeled, true
}
