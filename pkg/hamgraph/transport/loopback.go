package transport

import (
	"context"
	"fmt"
	"sync"
)

// Loopback is the in-memory Transport variant used by tests: two Loopbacks
// built with NewLoopbackPair feed each other's Incoming stream directly,
// with no JSON framing or network involved.
type Loopback struct {
	mu     sync.Mutex
	peer   *Loopback
	in     chan map[string]interface{}
	states chan State
	closed bool
}

// NewLoopbackPair builds two connected Loopback transports: sends on a
// arrive on b's Incoming and vice versa.
func NewLoopbackPair() (a, b *Loopback) {
	a = &Loopback{in: make(chan map[string]interface{}, 64), states: make(chan State, 8)}
	b = &Loopback{in: make(chan map[string]interface{}, 64), states: make(chan State, 8)}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("transport: loopback is closed")
	}
	l.emitState(StateConnecting)
	l.emitState(StateConnected)
	return nil
}

func (l *Loopback) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.emitState(StateDisconnected)
	return nil
}

func (l *Loopback) Send(msg map[string]interface{}) error {
	l.mu.Lock()
	closed := l.closed
	peer := l.peer
	l.mu.Unlock()
	if closed {
		return fmt.Errorf("transport: loopback is closed")
	}
	select {
	case peer.in <- msg:
		return nil
	default:
		return fmt.Errorf("transport: loopback peer's incoming buffer is full")
	}
}

func (l *Loopback) Incoming() <-chan map[string]interface{} { return l.in }
func (l *Loopback) StateChanges() <-chan State               { return l.states }

func (l *Loopback) emitState(s State) {
	select {
	case l.states <- s:
	default:
	}
}
