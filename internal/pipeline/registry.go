package pipeline

import (
	"sort"
	"sync"
)

type registryEntry struct {
	action Action
	seq    uint64
}

// Registry holds Actions ordered by priority, ties broken by registration
// order. Re-registering a name replaces the action but keeps its slot.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	nextSeq uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a or replaces the action with the same name.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[a.Name()]; ok {
		r.entries[a.Name()] = registryEntry{action: a, seq: existing.seq}
		return
	}
	r.entries[a.Name()] = registryEntry{action: a, seq: r.nextSeq}
	r.nextSeq++
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.action, true
}

// All returns every action sorted ascending by priority.
func (r *Registry) All() []Action {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		pi, pj := entries[i].action.Priority(), entries[j].action.Priority()
		if pi != pj {
			return pi < pj
		}
		return entries[i].seq < entries[j].seq
	})

	actions := make([]Action, len(entries))
	for i, e := range entries {
		actions[i] = e.action
	}
	return actions
}

// ForContext returns the sorted actions whose Applies predicate accepts c.
func (r *Registry) ForContext(c *Context) []Action {
	all := r.All()
	matched := all[:0]
	for _, a := range all {
		if a.Applies(c) {
			matched = append(matched, a)
		}
	}
	return matched
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reset removes all actions.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]registryEntry)
	r.nextSeq = 0
}
