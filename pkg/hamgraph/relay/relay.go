// Package relay implements the Relay Pool (§4.9): a set of RelayClients,
// each a websocket connection to a well-known relay, load-balanced by a
// pluggable strategy and health-checked on a timer.
package relay

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"hamgraph/pkg/hamgraph/definition"
	"hamgraph/pkg/hamgraph/handshake"
	"hamgraph/pkg/hamgraph/idgen"
	"hamgraph/pkg/hamgraph/transport"
	"hamgraph/pkg/hamgraph/wire"
)

// Status is a RelayClient's health classification (§4.9).
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// statusScore is §4.9's f(status) term of the HealthBased score formula.
func statusScore(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 1.0
	case StatusDegraded:
		return 0.5
	case StatusUnhealthy:
		return 0.1
	default:
		return 0.3
	}
}

// Dialer constructs a fresh, unconnected Transport for a relay's seed URL.
// Injected so the pool never imports a concrete Transport variant by name.
type Dialer func(seedURL string) transport.Transport

const (
	unhealthyAfterFailures = 4 // >3 consecutive failures
	evictAfterFailures     = 5
	evictAfterUnhealthyFor = 5 * time.Minute
)

// RelayClient is one pool member: a websocket connection to a seed relay,
// tracked for health and in-flight load.
type RelayClient struct {
	mu sync.Mutex

	SeedURL   string
	transport transport.Transport
	handshake *handshake.Manager
	tracker   *wire.Tracker

	invoker definition.Invoker
	log     definition.Logger

	status              Status
	consecutiveFailures int
	connectionFailures  int
	unhealthySince      time.Time
	connections         int
	rtt                 time.Duration
	backoffAttempts     int
}

func newRelayClient(seedURL string, localPID string, t transport.Transport, invoker definition.Invoker, log definition.Logger) *RelayClient {
	return &RelayClient{
		SeedURL:   seedURL,
		transport: t,
		handshake: handshake.NewManager(localPID, log),
		tracker:   wire.NewTracker(invoker, log, wire.DefaultMaxHistory, wire.DefaultTimeout),
		invoker:   invoker,
		log:       log,
		status:    StatusUnknown,
	}
}

// Score implements §4.9's HealthBased formula.
func (r *RelayClient) Score() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return statusScore(r.status) - float64(r.connections)/100 - float64(r.rtt.Milliseconds())/1000
}

// GetStatus returns the client's current health classification.
func (r *RelayClient) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Connections returns the current outstanding in-flight send count.
func (r *RelayClient) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections
}

// ConnectionFailures returns the total count of failed attempts against
// this relay, from both Send and the health-check ping (§8 scenario 5's
// "stats show connectionFailures incremented"). Unlike consecutiveFailures,
// it never resets on success - it is a running total, not a status input.
func (r *RelayClient) ConnectionFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectionFailures
}

// recordSendFailure bumps the connectionFailures stat for a failed Send
// (§4.9: "on failure, records failure").
func (r *RelayClient) recordSendFailure() {
	r.mu.Lock()
	r.connectionFailures++
	r.mu.Unlock()
}

func (r *RelayClient) connect(ctx context.Context) error {
	if err := r.transport.Connect(ctx); err != nil {
		return err
	}
	r.invoker.Spawn(func() { r.readLoop(ctx) })
	greeting := r.handshake.Greeting(idgen.NewMessageID())
	awaiter := r.tracker.Send(greeting, handshake.DefaultTimeout, r.sendWire)
	outcome := awaiter.Wait()
	if outcome.Err != nil {
		return outcome.Err
	}
	return nil
}

func (r *RelayClient) sendWire(msg *wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	return r.transport.Send(frame)
}

func (r *RelayClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-r.transport.Incoming():
			if !ok {
				return
			}
			r.dispatch(frame)
		}
	}
}

func (r *RelayClient) dispatch(frame map[string]interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	msg, err := wire.Parse(data)
	if err != nil {
		r.log.Warnf("relay: dropping unparseable frame from %s: %v", r.SeedURL, err)
		return
	}
	switch msg.Kind {
	case wire.KindHi:
		reply, damErr := r.handshake.HandleHi(msg, msg.ID)
		if damErr == nil && reply != nil {
			_ = r.sendWire(reply)
		}
		if msg.AckID != "" {
			r.tracker.HandleAck(msg.AckID, msg)
		}
	case wire.KindOk:
		if msg.AckID != "" {
			r.tracker.HandleAck(msg.AckID, msg)
		}
	case wire.KindDam:
		if msg.AckID != "" {
			r.tracker.HandleError(msg.AckID, msg.Dam)
		}
	}
}

// Send forwards msg to this relay, tracking in-flight connection count for
// LeastConnections scoring.
func (r *RelayClient) Send(msg *wire.Message, timeout time.Duration) *wire.Awaiter {
	r.mu.Lock()
	r.connections++
	r.mu.Unlock()
	awaiter := r.tracker.Send(msg, timeout, r.sendWire)
	r.invoker.Spawn(func() {
		awaiter.Wait()
		r.mu.Lock()
		r.connections--
		r.mu.Unlock()
	})
	return awaiter
}

// healthCheck issues a ping and measures rtt, updating status per §4.9's
// consecutive-failure thresholds.
func (r *RelayClient) healthCheck(timeout time.Duration) {
	start := time.Now()
	ping := wire.NewOkMessage("", true)
	// §6's keep-alive shape puts "ping" at the frame's top level
	// (`{"ping":ts,"@":id}`); carried here as a Raw passthrough field
	// alongside the "ok" ack wrapper our Tracker needs to route the
	// reply back to this awaiter.
	if tsBytes, err := json.Marshal(start.UnixMilli()); err == nil {
		ping.Raw = map[string]json.RawMessage{"ping": tsBytes}
	}
	awaiter := r.tracker.Send(ping, timeout, r.sendWire)
	outcome := awaiter.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if outcome.Err != nil {
		r.consecutiveFailures++
		r.connectionFailures++
		if r.consecutiveFailures > unhealthyAfterFailures-1 && r.status != StatusUnhealthy {
			r.status = StatusUnhealthy
			r.unhealthySince = time.Now()
		} else if r.status == StatusHealthy {
			r.status = StatusDegraded
		}
		return
	}
	r.rtt = time.Since(start)
	r.consecutiveFailures = 0
	r.status = StatusHealthy
}

func (r *RelayClient) shouldEvict() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consecutiveFailures < evictAfterFailures {
		return false
	}
	if r.status != StatusUnhealthy {
		return false
	}
	return time.Since(r.unhealthySince) >= evictAfterUnhealthyFor
}

// reconnectDelay implements §4.9's per-relay exponential backoff with
// jitter: `1s * 2^min(attempts-1,5) + rand(0..1000)ms`.
func (r *RelayClient) reconnectDelay() time.Duration {
	r.mu.Lock()
	r.backoffAttempts++
	n := r.backoffAttempts
	r.mu.Unlock()
	shift := n - 1
	if shift > 5 {
		shift = 5
	}
	base := time.Second << uint(shift)
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	return base + jitter
}

func (r *RelayClient) close() error {
	r.tracker.Close()
	return r.transport.Disconnect()
}
