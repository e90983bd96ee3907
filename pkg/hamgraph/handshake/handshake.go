// Package handshake implements the Handshake Manager (§4.6): the `hi`/`bye`
// negotiation that brings a newly connected Transport into the Connected
// peer state, and the state machine governing that transition.
package handshake

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-version"

	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/definition"
	"hamgraph/pkg/hamgraph/wire"
)

// State is a step in a peer's handshake lifecycle (§4.6).
type State int

const (
	Connecting State = iota
	Authenticating
	Connected
	Disconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
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

// DefaultTimeout is the 5s handshake timeout §4.6/§5 specify.
const DefaultTimeout = 5 * time.Second

// GunVersion is the local protocol version advertised in `hi`.
const GunVersion = "1.0.0"

// Manager drives one peer's handshake: sending/validating `hi`, emitting
// `bye` on shutdown, and tracking the resulting State. Failed is terminal
// for the Transport instance this Manager is bound to (§4.6).
type Manager struct {
	mu        sync.Mutex
	state     State
	localPID  string
	remotePID string
	remoteGun string
	log       definition.Logger
}

// NewManager builds a Manager for localPID, starting in Connecting.
func NewManager(localPID string, log definition.Logger) *Manager {
	return &Manager{state: Connecting, localPID: localPID, log: log}
}

// State returns the current handshake state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RemotePeerID returns the remote peer's id, valid once Connected.
func (m *Manager) RemotePeerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remotePID
}

// Greeting builds the local `hi{gun, pid}` message to send on connect.
func (m *Manager) Greeting(msgID string) *wire.Message {
	return wire.NewHiMessage(msgID, GunVersion, m.localPID)
}

// HandleHi validates an incoming `hi` and, on success, registers the remote
// peer and transitions to Connected. ackID is the id to reply with (the
// initiator's `@`), empty if this hi is itself a reply. Returns the reply
// `hi` to send back, or a DAM error if validation fails.
func (m *Manager) HandleHi(msg *wire.Message, ackID string) (*wire.Message, *damerr.HamError) {
	if msg.Hi == nil || msg.Hi.Gun == "" || msg.Hi.PID == "" {
		m.mu.Lock()
		m.state = Failed
		m.mu.Unlock()
		return nil, damerr.New(damerr.Validation, "handshake: hi must carry non-empty gun and pid")
	}

	m.mu.Lock()
	m.state = Authenticating
	m.remotePID = msg.Hi.PID
	m.remoteGun = msg.Hi.Gun
	m.state = Connected
	m.mu.Unlock()

	m.logVersionSkew(msg.Hi.Gun)

	if ackID == "" {
		return nil, nil
	}
	reply := wire.NewHiMessage("", GunVersion, m.localPID)
	reply.AckID = ackID
	return reply, nil
}

// logVersionSkew records a semantic comparison between the local and
// remote `gun` version when both parse as semver; an unparsable remote
// version is logged and otherwise ignored, since the version is recorded,
// not enforced (§4.6, §6).
func (m *Manager) logVersionSkew(remoteGun string) {
	local, err := version.NewVersion(GunVersion)
	if err != nil {
		return
	}
	remote, err := version.NewVersion(remoteGun)
	if err != nil {
		m.log.Debugf("handshake: remote gun version %q is not valid semver, ignoring", remoteGun)
		return
	}
	switch {
	case remote.GreaterThan(local):
		m.log.Infof("handshake: remote peer %s is on a newer gun version (%s > %s)", m.remotePID, remote, local)
	case remote.LessThan(local):
		m.log.Infof("handshake: remote peer %s is on an older gun version (%s < %s)", m.remotePID, remote, local)
	}
}

// Timeout transitions to Failed if the handshake never completed.
func (m *Manager) Timeout() *damerr.HamError {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Connected {
		return nil
	}
	m.state = Failed
	return damerr.New(damerr.Timeout, fmt.Sprintf("handshake: no hi received within %s", DefaultTimeout))
}

// Bye builds the local `bye{#: pid}` message sent to a Connected peer on
// graceful shutdown, and transitions this Manager to Disconnected.
func (m *Manager) Bye() *wire.Message {
	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
	return wire.NewByeMessage("", m.localPID)
}

// HandleBye transitions this Manager to Disconnected on receiving a remote
// `bye`.
func (m *Manager) HandleBye(*wire.Message) {
	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
}
