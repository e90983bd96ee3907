// Package hamgraph is the Gun Root (C14): the aggregate that owns Storage,
// the Peer set, the Relay Pool, Mesh Discovery, the Query Engine, and the
// Chain API entry points, wiring every other package in this module
// together the way a running graph database process would.
package hamgraph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hamgraph/pkg/hamgraph/chain"
	"hamgraph/pkg/hamgraph/clock"
	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/definition"
	"hamgraph/pkg/hamgraph/idgen"
	"hamgraph/pkg/hamgraph/mesh"
	"hamgraph/pkg/hamgraph/peer"
	"hamgraph/pkg/hamgraph/query"
	"hamgraph/pkg/hamgraph/relay"
	"hamgraph/pkg/hamgraph/storage"
	"hamgraph/pkg/hamgraph/transport"
	"hamgraph/pkg/hamgraph/types"
	"hamgraph/pkg/hamgraph/wire"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultEventBusCapacity is §5's default event-bus buffer: broadcasts
// drop to the slowest-allowed buffer rather than block the publisher.
const defaultEventBusCapacity = 64

// defaultQueryTimeout is handed to every Chain Handle this Root mints.
const defaultQueryTimeout = query.DefaultTimeout

// Dialer constructs a fresh, not-yet-connected Transport for a peer
// address. The default wraps transport.NewWebsocket; tests inject a
// Loopback-backed dialer.
type Dialer func(address string) transport.Transport

// Config configures a Root. Every field is optional; zero values select
// the system clock, logrus-backed default logger, and a disabled Relay
// Pool. Storage is always the reference in-memory storage.Memory.
type Config struct {
	// ID is this process's peer id (the `pid` exchanged in `hi`). A
	// random id is minted if empty.
	ID string

	Dialer  Dialer
	Clock   clock.ProcessClock
	Logger  definition.Logger
	Invoker definition.Invoker

	// Relay is the Relay Pool's configuration; a nil Seeds list disables
	// the pool entirely.
	Relay relay.Config

	// Mesh is Mesh Discovery's configuration. Discovery always starts
	// with the Root; it only dials peers in its known-peers set, to which
	// Connect adds every address it dials.
	Mesh mesh.Config

	// MetricsRegisterer, if non-nil, exports the Relay Pool's health
	// gauges/histogram and the ErrorHandler's per-kind counters (§4.18).
	// A nil registerer disables export without changing behavior.
	MetricsRegisterer prometheus.Registerer

	QueryTimeout time.Duration
}

func defaultDialer(address string, invoker definition.Invoker, log definition.Logger) transport.Transport {
	return transport.NewWebsocket(address, invoker, log, transport.Config{})
}

// Root is the Gun Root: a running graph database process (§2, C14).
type Root struct {
	id string

	storage    *storage.Memory
	clock      clock.ProcessClock
	invoker    definition.Invoker
	log        definition.Logger
	errHandler *damerr.ErrorHandler

	engine *query.Engine

	peersMu sync.Mutex
	peers   map[string]*peer.Peer

	relayPool *relay.Pool

	discovery  *mesh.Discovery
	stopMesh   func()
	dialer     Dialer
	queryTO    time.Duration

	bus *eventBus

	chainEnv *chain.Env

	doneCh       chan struct{}
	shutdownOnce sync.Once
}

// eventBus is the Gun Root's broadcast channel for errors and structural
// events observers want to watch from outside the request path (§5: "the
// event bus is a broadcast channel ... delivers each event at least once
// ... with back-pressure that drops to the slowest-allowed buffer rather
// than blocking the publisher").
type eventBus struct {
	mu   sync.Mutex
	subs []chan Event
}

// Event is one observation published on the Root's event bus: an error
// (Err set) or a structural signal (Kind/PeerURL set, mirroring a Mesh
// Discovery or Relay Pool event).
type Event struct {
	Kind    string
	PeerURL string
	Err     *damerr.HamError
}

func newEventBus() *eventBus {
	return &eventBus{}
}

// Subscribe returns a channel of future events and a cancel function.
func (b *eventBus) Subscribe(capacity int) (<-chan Event, func()) {
	if capacity <= 0 {
		capacity = defaultEventBusCapacity
	}
	ch := make(chan Event, capacity)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish delivers e to every live subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking.
func (b *eventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *eventBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// New builds and starts a Root: the reference Storage, the Query Engine,
// an optional Relay Pool, and optional Mesh Discovery, all wired together.
func New(cfg Config) *Root {
	if cfg.ID == "" {
		cfg.ID = idgen.NewMachineID()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = definition.NewDefaultLogger(false)
	}
	if cfg.Invoker == nil {
		cfg.Invoker = definition.NewInvoker()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = func(address string) transport.Transport {
			return defaultDialer(address, cfg.Invoker, cfg.Logger)
		}
	}

	r := &Root{
		id:         cfg.ID,
		storage:    storage.NewMemory(),
		clock:      cfg.Clock,
		invoker:    cfg.Invoker,
		log:        cfg.Logger,
		errHandler: damerr.NewErrorHandler(cfg.MetricsRegisterer),
		peers:      map[string]*peer.Peer{},
		dialer:     cfg.Dialer,
		queryTO:    cfg.QueryTimeout,
		bus:        newEventBus(),
		doneCh:     make(chan struct{}),
	}

	var relaySender query.RelaySender
	if len(cfg.Relay.Seeds) > 0 {
		relayDialer := func(seedURL string) transport.Transport { return r.dialer(seedURL) }
		r.relayPool = relay.New(cfg.Relay, r.id, relayDialer, r.invoker, r.log, cfg.MetricsRegisterer)
		relaySender = r.relayPool
		r.relayPool.Start()
	}
	r.engine = query.New(r.storage, relaySender, r.connectedPeerSenders, r.invoker, r.log)

	connector := func(peerURL string) error {
		return r.Connect(context.Background(), peerURL)
	}
	r.discovery = mesh.New(cfg.Mesh, connector, r.invoker, r.log)
	r.stopMesh = r.discovery.Start()
	r.invoker.Spawn(r.forwardMeshEvents)

	r.chainEnv = &chain.Env{
		Storage:   r.storage,
		Clock:     r.clock,
		Publisher: r,
		Engine:    r.engine,
		Timeout:   r.queryTO,
	}

	return r
}

func (r *Root) forwardMeshEvents() {
	for {
		select {
		case <-r.doneCh:
			return
		case e, ok := <-r.discovery.Events():
			if !ok {
				return
			}
			r.bus.Publish(Event{Kind: e.Kind.String(), PeerURL: e.PeerURL})
		}
	}
}

// Get returns the Chain API's root Handle for rootID (§4.12).
func (r *Root) Get(rootID string) *chain.Handle {
	return chain.New(r.chainEnv, rootID)
}

// Connect dials address, performs the handshake, and registers the
// resulting Peer (§4.7, used directly by callers and by Mesh Discovery's
// Connector).
func (r *Root) Connect(ctx context.Context, address string) error {
	t := r.dialer(address)
	p := peer.New(r.id, t, r.storage, r.engine, r.engine, r.invoker, r.log)
	if damErr := p.Start(ctx); damErr != nil {
		r.errHandler.HandleError(damErr)
		r.bus.Publish(Event{Kind: "peer_connect_failed", PeerURL: address, Err: damErr})
		return fmt.Errorf("root: connect %s: %w", address, damErr)
	}

	r.peersMu.Lock()
	r.peers[address] = p
	r.peersMu.Unlock()

	r.discovery.AddKnownPeer(address)
	r.discovery.MarkConnected(address)
	r.bus.Publish(Event{Kind: "peer_connected", PeerURL: address})
	return nil
}

// Disconnect tears down the Peer registered under address, if any.
func (r *Root) Disconnect(address string) error {
	r.peersMu.Lock()
	p, ok := r.peers[address]
	if ok {
		delete(r.peers, address)
	}
	r.peersMu.Unlock()
	if !ok {
		return nil
	}
	r.discovery.MarkDisconnected(address)
	r.bus.Publish(Event{Kind: "peer_disconnected", PeerURL: address})
	return p.Stop()
}

func (r *Root) connectedPeerSenders() []query.PeerSender {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	senders := make([]query.PeerSender, 0, len(r.peers))
	for _, p := range r.peers {
		senders = append(senders, p)
	}
	return senders
}

// PublishLocalPut satisfies chain.Publisher: announces a locally-written
// node to the Query Engine's `on` subscribers.
func (r *Root) PublishLocalPut(node types.Node) {
	r.engine.PublishPut(node)
}

// BroadcastPut satisfies chain.Publisher: forwards a locally-written node
// set to every connected Peer and to the Relay Pool, so remote replicas
// converge (§4.12's "broadcasts to peers/relays").
func (r *Root) BroadcastPut(nodes map[string]types.Node) {
	if len(nodes) == 0 {
		return
	}
	msg := wire.NewPutMessage(idgen.NewMessageID(), nodes)

	r.peersMu.Lock()
	peers := make([]*peer.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peersMu.Unlock()

	for _, p := range peers {
		p := p
		r.invoker.Spawn(func() {
			awaiter := p.Send(msg, wire.DefaultTimeout)
			if outcome := awaiter.Wait(); outcome.Err != nil {
				r.errHandler.HandleError(outcome.Err)
			}
		})
	}

	if r.relayPool != nil {
		r.invoker.Spawn(func() {
			if _, damErr := r.relayPool.Send(msg, r.queryTO); damErr != nil {
				r.errHandler.HandleError(damErr)
			}
		})
	}
}

// Errors returns the Gun Root's ErrorHandler (§4.13, §4.18).
func (r *Root) Errors() *damerr.ErrorHandler { return r.errHandler }

// Events subscribes to the Root's event bus (§5).
func (r *Root) Events() (<-chan Event, func()) { return r.bus.Subscribe(defaultEventBusCapacity) }

// Shutdown tears the Root down in the ordered sequence §5 specifies:
// Chain subscriptions, Query Engine, Peers, Relay Pool, Mesh Discovery,
// Storage, Event bus. Within the Peers stage, every peer is stopped
// concurrently via errgroup; stages themselves run sequentially.
func (r *Root) Shutdown(ctx context.Context) error {
	var shutdownErr error
	r.shutdownOnce.Do(func() {
		r.engine.Shutdown()

		r.peersMu.Lock()
		peers := make([]*peer.Peer, 0, len(r.peers))
		for addr, p := range r.peers {
			peers = append(peers, p)
			delete(r.peers, addr)
		}
		r.peersMu.Unlock()

		g, _ := errgroup.WithContext(ctx)
		for _, p := range peers {
			p := p
			g.Go(func() error { return p.Stop() })
		}
		if err := g.Wait(); err != nil {
			shutdownErr = err
		}

		if r.relayPool != nil {
			r.relayPool.Stop()
		}

		if r.stopMesh != nil {
			r.stopMesh()
		}
		close(r.doneCh)

		// Storage (the in-memory reference implementation) has no
		// teardown beyond releasing references; nothing to close.

		r.bus.closeAll()
	})
	return shutdownErr
}
