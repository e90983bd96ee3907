// Package query implements the Query Engine (§4.11): building wire
// queries, resolving traversal paths against local storage, fanning a
// `once` out to the Relay Pool and connected peers and merging results via
// HAM, and delivering matching local Put events to `on` subscribers.
package query

import (
	"sync"
	"time"

	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/definition"
	"hamgraph/pkg/hamgraph/ham"
	"hamgraph/pkg/hamgraph/idgen"
	"hamgraph/pkg/hamgraph/types"
	"hamgraph/pkg/hamgraph/wire"
)

// DefaultTimeout is §4.11's default `once` timeout.
const DefaultTimeout = 30 * time.Second

// LocalStore is the narrow read capability the engine needs against the
// local replica.
type LocalStore interface {
	Get(id string) (types.Node, bool)
}

// PeerSender is the narrow capability one connected peer offers: send a
// tracked message and await its reply.
type PeerSender interface {
	Send(msg *wire.Message, timeout time.Duration) *wire.Awaiter
}

// RelaySender is the capability the Relay Pool offers; matches
// relay.Pool.Send's signature exactly so *relay.Pool satisfies this
// interface with no adapter.
type RelaySender interface {
	Send(msg *wire.Message, timeout time.Duration) (*wire.Message, *damerr.HamError)
}

// FilterFn decides whether a resolved node survives a query's result set.
// An error converts the whole query's result into an Unknown error and is
// never retried (§4.11).
type FilterFn func(types.Node) (bool, error)

// MapFn transforms a surviving node before delivery. Same error contract
// as FilterFn.
type MapFn func(types.Node) (types.Node, error)

// Query is (rootId, path[], queryId, filterFn?, mapFn?) per §4.11.
type Query struct {
	RootID  string
	Path    []string
	QueryID string
	Filter  FilterFn
	Map     MapFn
}

// TerminalID returns the conventional node id a query's traversal targets,
// following §3's "ids by convention encode path" rule
// (parentId + "/" + segment per hop, matching the Flattener's own child-id
// convention). Used for `on` subscriptions, to test whether an arriving
// Put event matches; the wire `get` is built from RootID and Path instead.
func (q Query) TerminalID() string {
	id := q.RootID
	for _, seg := range q.Path {
		id += "/" + seg
	}
	return id
}

type subscription struct {
	terminalID string
	listener   func(map[string]types.Node)
}

// Engine is the Query Engine (§4.11). peersFn returns the currently
// connected peers at fan-out time, so the engine never owns the peer set
// itself (that remains the Gun Root's).
type Engine struct {
	storage  LocalStore
	relay    RelaySender
	peersFn  func() []PeerSender
	invoker  definition.Invoker
	log      definition.Logger
	timeout  time.Duration

	subsMu sync.Mutex
	subs   map[string][]*subscription
}

// New builds an Engine. relay may be nil if no Relay Pool is configured.
func New(storage LocalStore, relay RelaySender, peersFn func() []PeerSender, invoker definition.Invoker, log definition.Logger) *Engine {
	return &Engine{
		storage: storage,
		relay:   relay,
		peersFn: peersFn,
		invoker: invoker,
		log:     log,
		timeout: DefaultTimeout,
		subs:    map[string][]*subscription{},
	}
}

// resolvePath walks rootId through path, following each hop's field as a
// link, stopping at the first missing node or non-link field.
func resolvePath(rootID string, path []string, store LocalStore) (string, types.Node, bool) {
	id := rootID
	node, ok := store.Get(id)
	if !ok {
		return id, types.Node{}, false
	}
	for _, seg := range path {
		field, ok := node.Fields[seg]
		if !ok || !field.IsLink() {
			return id, types.Node{}, false
		}
		id = field.LinkID()
		node, ok = store.Get(id)
		if !ok {
			return id, types.Node{}, false
		}
	}
	return id, node, true
}

// ResolveLocal satisfies peer.LocalResolver: resolves an incoming `get`
// traversal (expressed as a wire.GetPayload chain) against local storage.
func (e *Engine) ResolveLocal(get *wire.GetPayload) (map[string]types.Node, bool) {
	if get == nil {
		return nil, false
	}
	path := pathOf(get.Next)
	id, node, ok := resolvePath(get.ID, path, e.storage)
	if !ok {
		return nil, false
	}
	return map[string]types.Node{id: node}, true
}

func pathOf(hop *wire.GetPayload) []string {
	var path []string
	for hop != nil {
		path = append(path, hop.ID)
		hop = hop.Next
	}
	return path
}

// Once executes q per §4.11's order: Relay Pool, then connected peers,
// then local Storage, merged via HAM. Individual source timeouts are
// absorbed (never fail hard). The returned error is Timeout only when the
// merged result is empty and at least one source timed out; an empty
// result with no timeout is returned with a nil error.
func (e *Engine) Once(q Query, timeout time.Duration) (map[string]types.Node, *damerr.HamError) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	merged := map[string]types.Node{}
	sawTimeout := false

	mergeIn := func(nodes map[string]types.Node) {
		for id, n := range nodes {
			if current, exists := merged[id]; exists {
				merged[id] = ham.MergeNode(current, n)
			} else {
				merged[id] = n
			}
		}
	}

	if e.relay != nil {
		reply, damErr := e.relay.Send(wire.NewGetMessage(idgen.NewMessageID(), q.RootID, q.Path), timeout)
		if damErr != nil {
			if damErr.Kind == damerr.Timeout {
				sawTimeout = true
			}
		} else if reply != nil && reply.Kind == wire.KindPut {
			mergeIn(reply.Put)
		}
	}

	if e.peersFn != nil {
		peers := e.peersFn()
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, p := range peers {
			p := p
			wg.Add(1)
			e.invoker.Spawn(func() {
				defer wg.Done()
				awaiter := p.Send(wire.NewGetMessage(idgen.NewMessageID(), q.RootID, q.Path), timeout)
				outcome := awaiter.Wait()
				mu.Lock()
				defer mu.Unlock()
				if outcome.Err != nil {
					if outcome.Err.Kind == damerr.Timeout {
						sawTimeout = true
					}
					return
				}
				if outcome.Message != nil && outcome.Message.Kind == wire.KindPut {
					mergeIn(outcome.Message.Put)
				}
			})
		}
		wg.Wait()
	}

	if id, node, ok := resolvePath(q.RootID, q.Path, e.storage); ok {
		mergeIn(map[string]types.Node{id: node})
	}

	filtered, err := applyFilterMap(merged, q)
	if err != nil {
		return nil, err
	}

	if len(filtered) == 0 && sawTimeout {
		return filtered, damerr.New(damerr.Timeout, "query: timed out with no data from any source")
	}
	return filtered, nil
}

func applyFilterMap(nodes map[string]types.Node, q Query) (map[string]types.Node, *damerr.HamError) {
	out := map[string]types.Node{}
	for id, n := range nodes {
		if q.Filter != nil {
			ok, err := q.Filter(n)
			if err != nil {
				return nil, damerr.New(damerr.Unknown, "query: filter function failed: "+err.Error())
			}
			if !ok {
				continue
			}
		}
		if q.Map != nil {
			mapped, err := q.Map(n)
			if err != nil {
				return nil, damerr.New(damerr.Unknown, "query: map function failed: "+err.Error())
			}
			n = mapped
		}
		out[id] = n
	}
	return out, nil
}

// Subscribe registers q for `on` semantics: it delivers the current local
// value immediately (if any), then every subsequent PublishPut matching
// q's terminal id. The returned cancel function releases the
// subscription's slot.
func (e *Engine) Subscribe(q Query, listener func(map[string]types.Node)) func() {
	terminal := q.TerminalID()
	sub := &subscription{terminalID: terminal, listener: listener}

	e.subsMu.Lock()
	e.subs[terminal] = append(e.subs[terminal], sub)
	e.subsMu.Unlock()

	if id, node, ok := resolvePath(q.RootID, q.Path, e.storage); ok {
		if filtered, err := applyFilterMap(map[string]types.Node{id: node}, q); err == nil && len(filtered) > 0 {
			listener(filtered)
		}
	}

	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		subs := e.subs[terminal]
		for i, s := range subs {
			if s == sub {
				e.subs[terminal] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(e.subs[terminal]) == 0 {
			delete(e.subs, terminal)
		}
	}
}

// Shutdown releases every registered subscription (the Gun Root's ordered
// shutdown's "Chain subscriptions" stage runs this before tearing down the
// engine itself).
func (e *Engine) Shutdown() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs = map[string][]*subscription{}
}

// PublishPut satisfies peer.EventPublisher: delivers node to every
// subscription whose terminal id matches (§4.11's "on" delivery rule).
func (e *Engine) PublishPut(node types.Node) {
	e.subsMu.Lock()
	subs := append([]*subscription(nil), e.subs[node.ID]...)
	e.subsMu.Unlock()
	for _, s := range subs {
		s.listener(map[string]types.Node{node.ID: node})
	}
}
