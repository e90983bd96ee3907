// Package chain implements the Chain API (§4.12): a fluent, lightweight
// handle capturing (rootRef, path[]) with get/put/once/on/set/map/filter,
// plus the ecosystem's `not`/`back` conveniences (§9 supplement).
package chain

import (
	"encoding/json"
	"time"

	"hamgraph/pkg/hamgraph/clock"
	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/flatten"
	"hamgraph/pkg/hamgraph/idgen"
	"hamgraph/pkg/hamgraph/meta"
	"hamgraph/pkg/hamgraph/query"
	"hamgraph/pkg/hamgraph/types"
)

// Storage is the narrow read/write capability a Handle needs.
type Storage interface {
	Get(id string) (types.Node, bool)
	Merge(id string, incoming types.Node) (types.Node, error)
}

// Publisher is how a Handle's put/set reach the rest of the running Root:
// local subscribers (the Query Engine) and, for nodes that should leave
// the process, the wire (§4.12's "broadcasts to peers/relays").
type Publisher interface {
	PublishLocalPut(node types.Node)
	BroadcastPut(nodes map[string]types.Node)
}

// Engine is the subset of query.Engine a Handle drives directly.
type Engine interface {
	Once(q query.Query, timeout time.Duration) (map[string]types.Node, *damerr.HamError)
	Subscribe(q query.Query, listener func(map[string]types.Node)) func()
}

// Env is the shared, Root-owned dependency set every Handle in a Root's
// tree references; Handles are lightweight values over a shared Env
// (§3's ownership note: "Chain API values... reference the Root by shared
// lifetime").
type Env struct {
	Storage   Storage
	Clock     clock.ProcessClock
	Publisher Publisher
	Engine    Engine
	Timeout   time.Duration
}

// Handle is a Chain API value: (rootRef, path[]) over a shared Env.
type Handle struct {
	env    *Env
	rootID string
	path   []string
}

// New builds the root Handle for rootID (conventionally a short top-level
// name like "users").
func New(env *Env, rootID string) *Handle {
	return &Handle{env: env, rootID: rootID}
}

// Get returns a new Handle with seg appended to the path.
func (h *Handle) Get(seg string) *Handle {
	path := append(append([]string{}, h.path...), seg)
	return &Handle{env: h.env, rootID: h.rootID, path: path}
}

// Back walks the path upward by n segments (§9 supplement; absent from
// spec.md's distillation, present in the upstream ecosystem's chain
// surface). n is clamped to the path's length.
func (h *Handle) Back(n int) *Handle {
	if n > len(h.path) {
		n = len(h.path)
	}
	path := append([]string{}, h.path[:len(h.path)-n]...)
	return &Handle{env: h.env, rootID: h.rootID, path: path}
}

// TerminalID is the conventional node id this Handle's traversal targets
// (rootId + "/" + each path segment), matching the Flattener's own child
// link convention and query.Query.TerminalID.
func (h *Handle) TerminalID() string {
	id := h.rootID
	for _, seg := range h.path {
		id += "/" + seg
	}
	return id
}

func (h *Handle) query() query.Query {
	return query.Query{RootID: h.rootID, Path: h.path}
}

// Put runs Flattener → Metadata Manager → Storage write → local Put event
// → wire broadcast, returning the same Handle for chaining (§4.12).
func (h *Handle) Put(data map[string]interface{}) (*Handle, *damerr.HamError) {
	flattened, err := flatten.Flatten(h.TerminalID(), data)
	if err != nil {
		return h, damerr.New(damerr.Malformed, "chain: put: "+err.Error())
	}

	written := make(map[string]types.Node, len(flattened))
	for id, fields := range flattened {
		var existing *types.Node
		if current, ok := h.env.Storage.Get(id); ok {
			existing = &current
		}
		delta := meta.AddMetadata(id, fields, existing, h.env.Clock)
		merged, mergeErr := h.env.Storage.Merge(id, delta)
		if mergeErr != nil {
			return h, damerr.New(damerr.Storage, "chain: put: "+mergeErr.Error(), damerr.WithNode(id))
		}
		written[id] = merged
	}

	if h.env.Publisher != nil {
		for _, n := range written {
			h.env.Publisher.PublishLocalPut(n)
		}
		h.env.Publisher.BroadcastPut(written)
	}
	return h, nil
}

// Set is Put under a fresh opaque 16-char child id (§4.12).
func (h *Handle) Set(data map[string]interface{}) (*Handle, *damerr.HamError) {
	child := h.Get(idgen.NewSetID())
	return child.Put(data)
}

// Once returns the current value at this Handle's terminal node as a
// wire-shaped map (including "_"), or (nil, nil) for the null result —
// absence of data is not itself an error (§4.11).
func (h *Handle) Once() (map[string]interface{}, *damerr.HamError) {
	timeout := h.env.Timeout
	if timeout <= 0 {
		timeout = query.DefaultTimeout
	}
	nodes, damErr := h.env.Engine.Once(h.query(), timeout)
	if damErr != nil {
		return nil, damErr
	}
	node, ok := nodes[h.TerminalID()]
	if !ok {
		return nil, nil
	}
	return nodeToWireMap(node)
}

// On subscribes listener to every subsequent change at this Handle's
// terminal node (§4.12). The returned cancel function releases the
// subscription's slot.
func (h *Handle) On(listener func(map[string]interface{})) func() {
	return h.env.Engine.Subscribe(h.query(), func(nodes map[string]types.Node) {
		node, ok := nodes[h.TerminalID()]
		if !ok {
			return
		}
		wireMap, err := nodeToWireMap(node)
		if err != nil {
			return
		}
		listener(wireMap)
	})
}

// ChildFn is applied to each link-valued field of a mapping node by Map
// and Filter — the node's fields are treated as a set of named children,
// each itself resolved and passed in.
type ChildFn func(key string, child types.Node) bool

// Map transforms the children of a mapping node (the node at this
// Handle's terminal id), not the node itself (§4.12). fn's return value is
// collected for every child fn accepts; children fn rejects contribute no
// entry.
func (h *Handle) Map(fn func(key string, child types.Node) (interface{}, bool)) (map[string]interface{}, *damerr.HamError) {
	node, ok := h.env.Storage.Get(h.TerminalID())
	if !ok {
		return map[string]interface{}{}, nil
	}
	out := map[string]interface{}{}
	for _, key := range node.FieldNames() {
		field := node.Fields[key]
		if !field.IsLink() {
			continue
		}
		child, ok := h.env.Storage.Get(field.LinkID())
		if !ok {
			continue
		}
		if value, keep := fn(key, child); keep {
			out[key] = value
		}
	}
	return out, nil
}

// Filter keeps only the children of a mapping node for which fn reports
// true (§4.12), returning their resolved wire-shaped maps keyed by field
// name.
func (h *Handle) Filter(fn ChildFn) (map[string]map[string]interface{}, *damerr.HamError) {
	node, ok := h.env.Storage.Get(h.TerminalID())
	if !ok {
		return map[string]map[string]interface{}{}, nil
	}
	out := map[string]map[string]interface{}{}
	for _, key := range node.FieldNames() {
		field := node.Fields[key]
		if !field.IsLink() {
			continue
		}
		child, ok := h.env.Storage.Get(field.LinkID())
		if !ok {
			continue
		}
		if !fn(key, child) {
			continue
		}
		wireMap, err := nodeToWireMap(child)
		if err != nil {
			continue
		}
		out[key] = wireMap
	}
	return out, nil
}

// Not negates a ChildFn predicate, for use with Filter (§9 supplement: a
// convenience present in the upstream ecosystem's chain surface, absent
// from spec.md's distillation; changes no wire semantics).
func Not(fn ChildFn) ChildFn {
	return func(key string, child types.Node) bool { return !fn(key, child) }
}

func nodeToWireMap(node types.Node) (map[string]interface{}, error) {
	data, err := meta.ToWire(node)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
