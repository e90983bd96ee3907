// Package mesh implements Mesh Discovery (§4.8): maintaining a target
// connection count across a known-peers set by periodically attempting to
// connect unconnected, not-recently-attempted peers.
package mesh

import (
	"math/rand"
	"sync"
	"time"

	"hamgraph/pkg/hamgraph/definition"
)

// Default tunables (§4.8).
const (
	DefaultTargetConnections = 8
	DefaultTickInterval      = 60 * time.Second
	DefaultReconnectInterval = 30 * time.Second
	minInterConnectDelay     = 100 * time.Millisecond
	maxInterConnectDelay     = 300 * time.Millisecond
)

// Event is one observability signal Mesh Discovery emits (§4.8).
type Event struct {
	Kind    EventKind
	PeerURL string
	Err     error
}

// EventKind discriminates an Event.
type EventKind int

const (
	Discovered EventKind = iota
	Connected
	Disconnected
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Discovered:
		return "discovered"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connector dials one known peer, blocking until connected or failed.
// Implementations wrap Peer.Start over a freshly constructed Transport.
type Connector func(peerURL string) error

// Config holds Mesh Discovery's tunables; zero values select the §4.8
// defaults.
type Config struct {
	TargetConnections int
	TickInterval      time.Duration
	ReconnectInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TargetConnections <= 0 {
		c.TargetConnections = DefaultTargetConnections
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	return c
}

// Discovery maintains connections across a known-peers set (§4.8).
type Discovery struct {
	mu sync.Mutex

	cfg       Config
	connector Connector
	invoker   definition.Invoker
	log       definition.Logger
	events    chan Event

	known         map[string]struct{}
	connected     map[string]struct{}
	lastAttempted map[string]time.Time
}

// New builds a Discovery with an empty known-peers set.
func New(cfg Config, connector Connector, invoker definition.Invoker, log definition.Logger) *Discovery {
	return &Discovery{
		cfg:           cfg.withDefaults(),
		connector:     connector,
		invoker:       invoker,
		log:           log,
		events:        make(chan Event, 64),
		known:         map[string]struct{}{},
		connected:     map[string]struct{}{},
		lastAttempted: map[string]time.Time{},
	}
}

// Events is the observability stream of Discovered/Connected/Disconnected/
// Failed events.
func (d *Discovery) Events() <-chan Event { return d.events }

// AddKnownPeer registers peerURL in the known-peers set.
func (d *Discovery) AddKnownPeer(peerURL string) {
	d.mu.Lock()
	_, existed := d.known[peerURL]
	d.known[peerURL] = struct{}{}
	d.mu.Unlock()
	if !existed {
		d.emit(Event{Kind: Discovered, PeerURL: peerURL})
	}
}

// MarkConnected records peerURL as connected, to be excluded from future
// reconnect attempts until MarkDisconnected.
func (d *Discovery) MarkConnected(peerURL string) {
	d.mu.Lock()
	d.connected[peerURL] = struct{}{}
	d.mu.Unlock()
	d.emit(Event{Kind: Connected, PeerURL: peerURL})
}

// MarkDisconnected removes peerURL from the connected set so Tick may
// retry it.
func (d *Discovery) MarkDisconnected(peerURL string) {
	d.mu.Lock()
	delete(d.connected, peerURL)
	d.mu.Unlock()
	d.emit(Event{Kind: Disconnected, PeerURL: peerURL})
}

// Start begins the periodic tick loop; it returns a stop function.
func (d *Discovery) Start() func() {
	stopCh := make(chan struct{})
	d.invoker.Spawn(func() {
		ticker := time.NewTicker(d.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				d.Tick()
			}
		}
	})
	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }
}

// Tick runs one discovery pass: if connected < target, pick eligible
// unconnected peers and attempt to connect them, each after a small
// jittered inter-connect delay to avoid a thundering herd.
func (d *Discovery) Tick() {
	candidates := d.eligibleCandidates()
	if len(candidates) == 0 {
		return
	}
	for _, peerURL := range candidates {
		peerURL := peerURL
		delay := minInterConnectDelay + time.Duration(rand.Int63n(int64(maxInterConnectDelay-minInterConnectDelay)))
		d.invoker.Spawn(func() {
			time.Sleep(delay)
			d.attempt(peerURL)
		})
	}
}

func (d *Discovery) eligibleCandidates() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	deficit := d.cfg.TargetConnections - len(d.connected)
	if deficit <= 0 {
		return nil
	}

	now := time.Now()
	var candidates []string
	for peerURL := range d.known {
		if _, connected := d.connected[peerURL]; connected {
			continue
		}
		if last, attempted := d.lastAttempted[peerURL]; attempted && now.Sub(last) < d.cfg.ReconnectInterval {
			continue
		}
		candidates = append(candidates, peerURL)
	}
	if len(candidates) > deficit {
		candidates = candidates[:deficit]
	}
	for _, peerURL := range candidates {
		d.lastAttempted[peerURL] = now
	}
	return candidates
}

func (d *Discovery) attempt(peerURL string) {
	if err := d.connector(peerURL); err != nil {
		d.log.Warnf("mesh: connect to %s failed: %v", peerURL, err)
		d.emit(Event{Kind: Failed, PeerURL: peerURL, Err: err})
		return
	}
	d.MarkConnected(peerURL)
}

func (d *Discovery) emit(e Event) {
	select {
	case d.events <- e:
	default:
	}
}
