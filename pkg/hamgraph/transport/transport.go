// Package transport implements the Transport capability (§4.5): a
// bidirectional stream of wire-level messages (maps), with connect,
// disconnect, send, an incoming-message stream, and a connection-state
// stream. Websocket and HTTPPoll own their JSON framing, and Websocket its
// keep-alive; higher layers (Peer, RelayClient) never see a keep-alive
// frame. No variant reconnects on its own: ReconnectDelaySeconds computes
// the backoff, but a dropped Websocket emits StateFailed and stays down
// until Connect is called again.
package transport

import "context"

// State is a point in the connection-state stream every Transport emits.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transport is the capability every Peer and RelayClient sends/receives
// wire frames through. Implementations: Websocket (default), HTTPPoll,
// Loopback (in-memory, for tests).
type Transport interface {
	// Connect establishes the underlying connection. Blocking; respects
	// ctx cancellation.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down.
	Disconnect() error

	// Send frames and writes msg. Safe to call concurrently with itself
	// and with Incoming/StateChanges.
	Send(msg map[string]interface{}) error

	// Incoming is the stream of decoded frames, with internal keep-alive
	// frames already filtered out.
	Incoming() <-chan map[string]interface{}

	// StateChanges is the stream of connection-state transitions.
	StateChanges() <-chan State
}

// DefaultPingInterval is §4.5's default keep-alive interval.
const DefaultPingInterval = 30

// Config holds the knobs §4.5 calls out as shared across variants.
type Config struct {
	// PingIntervalSeconds is the keep-alive interval; <= 0 selects
	// DefaultPingInterval.
	PingIntervalSeconds int

	// ReconnectBackoffLinear, when true, backs off 1s*attempt instead of
	// the default exponential 1s*2^(attempt-1), both capped at 30s.
	ReconnectBackoffLinear bool
}

// ReconnectDelaySeconds implements §4.5's "linear or exponential backoff"
// for reconnect attempts (1-indexed), capped at 30s.
func ReconnectDelaySeconds(cfg Config, attempt int) int {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.ReconnectBackoffLinear {
		d := attempt
		if d > 30 {
			d = 30
		}
		return d
	}
	d := 1
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 30 {
			return 30
		}
	}
	return d
}
