// Package storage implements the Storage capability (§6) and its default
// in-memory reference implementation (§4.14): per-key mutual exclusion so
// the Metadata Manager's read-modify-write merge is atomic per node id
// while distinct ids proceed in parallel.
package storage

import (
	"sync"

	"hamgraph/pkg/hamgraph/meta"
	"hamgraph/pkg/hamgraph/types"
)

// keyLock is one node id's private mutex, reference-counted so the lock
// table doesn't grow unboundedly with short-lived ids.
type keyLock struct {
	mu  sync.Mutex
	ref int
}

// Memory is the default Storage implementation: a map of nodes guarded by
// a per-id lock, so a merge into "alice" never blocks a concurrent merge
// into "bob" (§5, §8).
type Memory struct {
	tableMu sync.Mutex
	locks   map[string]*keyLock
	nodesMu sync.RWMutex
	nodes   map[string]types.Node
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		locks: map[string]*keyLock{},
		nodes: map[string]types.Node{},
	}
}

func (m *Memory) acquire(id string) *keyLock {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{}
		m.locks[id] = l
	}
	l.ref++
	return l
}

func (m *Memory) release(id string, l *keyLock) {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	l.ref--
	if l.ref == 0 {
		delete(m.locks, id)
	}
}

// Get returns the current node for id, if present.
func (m *Memory) Get(id string) (types.Node, bool) {
	m.nodesMu.RLock()
	defer m.nodesMu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return types.Node{}, false
	}
	return n.Clone(), true
}

// Merge applies the HAM merge (§4.1, via meta.MergeNodes) of incoming into
// whatever is currently stored for id, atomically with respect to any
// other Merge on the same id.
func (m *Memory) Merge(id string, incoming types.Node) (types.Node, error) {
	l := m.acquire(id)
	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		m.release(id, l)
	}()

	m.nodesMu.RLock()
	current, exists := m.nodes[id]
	m.nodesMu.RUnlock()

	var merged types.Node
	if exists {
		merged = meta.MergeNodes(current, incoming)
	} else {
		merged = incoming
	}

	m.nodesMu.Lock()
	m.nodes[id] = merged
	m.nodesMu.Unlock()
	return merged.Clone(), nil
}

// Has reports whether id currently has a stored node.
func (m *Memory) Has(id string) bool {
	m.nodesMu.RLock()
	defer m.nodesMu.RUnlock()
	_, ok := m.nodes[id]
	return ok
}

// Keys returns every stored node id, in no particular order.
func (m *Memory) Keys() []string {
	m.nodesMu.RLock()
	defer m.nodesMu.RUnlock()
	keys := make([]string, 0, len(m.nodes))
	for k := range m.nodes {
		keys = append(keys, k)
	}
	return keys
}
