// Package peer implements the Peer (§4.7): one connection's binding of a
// Transport, a Handshake Manager, and a Message Tracker, demultiplexing
// every inbound wire message by kind to the right owner.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/definition"
	"hamgraph/pkg/hamgraph/handshake"
	"hamgraph/pkg/hamgraph/idgen"
	"hamgraph/pkg/hamgraph/transport"
	"hamgraph/pkg/hamgraph/types"
	"hamgraph/pkg/hamgraph/wire"
)

// Storage is the narrow capability a Peer needs: merge an inbound node
// into the local replica and read one back out. The concrete
// implementation (pkg/hamgraph/storage) is injected, never imported
// directly, so Peer has no dependency on its locking strategy.
type Storage interface {
	Get(id string) (types.Node, bool)
	Merge(id string, incoming types.Node) (types.Node, error)
}

// EventPublisher is the narrow capability a Peer needs to announce a
// locally-merged write, so subscribers can be notified (§4.7, §4.12's
// `on`).
type EventPublisher interface {
	PublishPut(node types.Node)
}

// LocalResolver resolves a `get` traversal against local state, the way
// the Query Engine does (§4.11). Peer depends on this interface rather
// than importing the query package directly, since the Query Engine in
// turn depends on Peer to broadcast (avoiding an import cycle).
type LocalResolver interface {
	ResolveLocal(get *wire.GetPayload) (map[string]types.Node, bool)
}

// Peer binds one Transport to a Handshake Manager and Message Tracker, and
// owns the demultiplex loop for everything arriving on that Transport
// (§4.7). The Peer never blocks on Storage: a Merge error is reported back
// to the sender as dam{type:storage}.
type Peer struct {
	ID string

	transport transport.Transport
	handshake *handshake.Manager
	tracker   *wire.Tracker
	storage   Storage
	events    EventPublisher
	resolver  LocalResolver

	invoker definition.Invoker
	log     definition.Logger

	cancel context.CancelFunc
}

// New builds a Peer over an already-constructed Transport. resolver may be
// nil until the Query Engine is wired up, in which case incoming `get`s
// fail with a NotFound dam.
func New(localPID string, t transport.Transport, storage Storage, events EventPublisher, resolver LocalResolver, invoker definition.Invoker, log definition.Logger) *Peer {
	return &Peer{
		ID:        localPID,
		transport: t,
		handshake: handshake.NewManager(localPID, log),
		tracker:   wire.NewTracker(invoker, log, wire.DefaultMaxHistory, wire.DefaultTimeout),
		storage:   storage,
		events:    events,
		resolver:  resolver,
		invoker:   invoker,
		log:       log,
	}
}

// Start connects the Transport, exchanges `hi`, and begins the
// demultiplex loop. It returns once the handshake either completes or
// times out.
func (p *Peer) Start(ctx context.Context) *damerr.HamError {
	if err := p.transport.Connect(ctx); err != nil {
		return damerr.New(damerr.Network, fmt.Sprintf("peer: connect: %v", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.invoker.Spawn(func() { p.readLoop(runCtx) })

	greeting := p.handshake.Greeting(idgen.NewMessageID())
	awaiter := p.tracker.Send(greeting, handshake.DefaultTimeout, p.sendWire)
	outcome := awaiter.Wait()
	if outcome.Err != nil {
		return outcome.Err
	}
	return nil
}

// Stop sends `bye` (if connected) and tears down the Transport and
// Tracker.
func (p *Peer) Stop() error {
	if p.handshake.State() == handshake.Connected {
		bye := p.handshake.Bye()
		_ = p.sendWire(bye)
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.tracker.Close()
	return p.transport.Disconnect()
}

// Send assigns and tracks msg, invoking sender through the Transport.
func (p *Peer) Send(msg *wire.Message, timeout time.Duration) *wire.Awaiter {
	return p.tracker.Send(msg, timeout, p.sendWire)
}

func (p *Peer) sendWire(msg *wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	return p.transport.Send(frame)
}

func (p *Peer) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-p.transport.Incoming():
			if !ok {
				return
			}
			p.dispatch(frame)
		}
	}
}

func (p *Peer) dispatch(frame map[string]interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		p.log.Warnf("peer: re-marshal inbound frame: %v", err)
		return
	}
	msg, err := wire.Parse(data)
	if err != nil {
		p.log.Warnf("peer: dropping unparseable frame: %v", err)
		return
	}

	switch msg.Kind {
	case wire.KindHi:
		p.handleHi(msg)
	case wire.KindBye:
		p.handshake.HandleBye(msg)
	case wire.KindOk:
		if msg.AckID != "" {
			p.tracker.HandleAck(msg.AckID, msg)
		}
	case wire.KindDam:
		if msg.AckID != "" {
			p.tracker.HandleError(msg.AckID, msg.Dam)
		} else if msg.Dam != nil && msg.Dam.ErrorID != "" {
			p.tracker.HandleError(msg.Dam.ErrorID, msg.Dam)
		}
	case wire.KindPut:
		p.handlePut(msg)
	case wire.KindGet:
		p.handleGet(msg)
	}
}

func (p *Peer) handleHi(msg *wire.Message) {
	// A fresh greeting (no "#") needs a reply; a "hi" carrying "#" is
	// itself the reply to our own greeting.
	ackID := ""
	if msg.AckID == "" {
		ackID = msg.ID
	}
	reply, damErr := p.handshake.HandleHi(msg, ackID)
	if damErr != nil {
		p.log.Warnf("peer: rejecting malformed hi: %v", damErr)
		return
	}
	if reply != nil {
		_ = p.sendWire(reply)
	}
	if msg.AckID != "" {
		p.tracker.HandleAck(msg.AckID, msg)
	}
}

func (p *Peer) handlePut(msg *wire.Message) {
	for id, node := range msg.Put {
		merged, err := p.storage.Merge(id, node)
		if err != nil {
			reply := wire.NewDamMessage(msg.ID, damerr.New(damerr.Storage, fmt.Sprintf("peer: storage backpressure: %v", err), damerr.WithNode(id)))
			_ = p.sendWire(reply)
			return
		}
		if p.events != nil {
			p.events.PublishPut(merged)
		}
	}
	if msg.ID != "" {
		_ = p.sendWire(wire.NewOkMessage(msg.ID, true))
	}
}

func (p *Peer) handleGet(msg *wire.Message) {
	if p.resolver == nil {
		_ = p.sendWire(wire.NewDamMessage(msg.ID, damerr.New(damerr.NotFound, "peer: no local resolver configured")))
		return
	}
	nodes, found := p.resolver.ResolveLocal(msg.Get)
	if !found {
		_ = p.sendWire(wire.NewDamMessage(msg.ID, damerr.New(damerr.NotFound, "peer: no data for requested path")))
		return
	}
	_ = p.sendWire(wire.NewPutMessage(msg.ID, nodes))
}
