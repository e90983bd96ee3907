package wire

import (
	"sync"
	"time"

	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/definition"
	"hamgraph/pkg/hamgraph/idgen"
)

// DefaultTimeout is the per-message timeout a Tracker applies when Send is
// not given an explicit one (§4.4's tracker, whose numeric default is
// §5's authoritative defaults table: tracker ack 30s).
const DefaultTimeout = 30 * time.Second

// DefaultMaxHistory bounds the dedup history of seen message ids (§4.4).
const DefaultMaxHistory = 1000

// Outcome is what a pending send resolves to: either the message that
// acked/answered it, or an error.
type Outcome struct {
	Message *Message
	Err     *damerr.HamError
}

// Awaiter is the future returned by Tracker.Send. Exactly one of
// Outcome.Message or Outcome.Err is set once Wait returns.
type Awaiter struct {
	ch chan Outcome
}

// Wait blocks until the send is resolved.
func (a *Awaiter) Wait() Outcome {
	return <-a.ch
}

type pendingEntry struct {
	msg     *Message
	ch      chan Outcome
	sentAt  time.Time
	timeout time.Duration
	timer   *time.Timer
}

// Tracker is the Message Tracker (§4.4): it assigns message ids, correlates
// acks/errors back to the sender, times out unanswered sends, and keeps a
// bounded dedup history of ids already seen. A Tracker is a component of
// each Peer and each RelayClient (§5).
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry

	seenOrder  []string
	seenSet    map[string]struct{}
	maxHistory int

	invoker        definition.Invoker
	log            definition.Logger
	defaultTimeout time.Duration
	closed         bool
}

// NewTracker builds a Tracker. maxHistory <= 0 selects DefaultMaxHistory;
// defaultTimeout <= 0 selects DefaultTimeout.
func NewTracker(invoker definition.Invoker, log definition.Logger, maxHistory int, defaultTimeout time.Duration) *Tracker {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Tracker{
		pending:        make(map[string]*pendingEntry),
		seenSet:        make(map[string]struct{}, maxHistory),
		maxHistory:     maxHistory,
		invoker:        invoker,
		log:            log,
		defaultTimeout: defaultTimeout,
	}
}

// Send assigns msg an `@` if it does not already have one, records it as
// pending, invokes sender to actually perform the I/O, and starts a
// per-message timeout. sender's error fails the awaiter immediately with a
// Network error, without starting the timer.
func (t *Tracker) Send(msg *Message, timeout time.Duration, sender func(*Message) error) *Awaiter {
	if msg.ID == "" {
		msg.ID = idgen.NewMessageID()
	}
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	entry := &pendingEntry{
		msg:     msg,
		ch:      make(chan Outcome, 1),
		sentAt:  time.Now(),
		timeout: timeout,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		entry.ch <- Outcome{Err: damerr.New(damerr.Unknown, "tracker is closed")}
		return &Awaiter{ch: entry.ch}
	}
	t.pending[msg.ID] = entry
	t.markSeen(msg.ID)
	t.mu.Unlock()

	if err := sender(msg); err != nil {
		t.mu.Lock()
		delete(t.pending, msg.ID)
		t.mu.Unlock()
		entry.ch <- Outcome{Err: damerr.New(damerr.Network, err.Error())}
		return &Awaiter{ch: entry.ch}
	}

	entry.timer = time.AfterFunc(timeout, func() {
		t.timeoutEntry(msg.ID)
	})

	return &Awaiter{ch: entry.ch}
}

func (t *Tracker) timeoutEntry(id string) {
	t.mu.Lock()
	entry, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	entry.ch <- Outcome{Err: damerr.New(damerr.Timeout, "message timed out waiting for a reply")}
}

// HandleAck fulfills the awaiter for id with the message that answered it
// (an `ok` or `put` reply) and removes it from pending. Returns false if id
// was not pending (already resolved, timed out, or never sent).
func (t *Tracker) HandleAck(id string, reply *Message) bool {
	t.mu.Lock()
	entry, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.ch <- Outcome{Message: reply}
	return true
}

// HandleError fails the awaiter for id with e and removes it from pending.
// Returns false if id was not pending.
func (t *Tracker) HandleError(id string, e *damerr.HamError) bool {
	t.mu.Lock()
	entry, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.ch <- Outcome{Err: e}
	return true
}

// HasSeen reports whether id has already passed through this tracker,
// for dedup of rebroadcasts (§4.4). Marking happens in Send; callers
// receiving messages from the wire should use MarkSeen directly.
func (t *Tracker) HasSeen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seenSet[id]
	return ok
}

// MarkSeen records id in the dedup history without creating a pending
// entry, for inbound messages a Peer has already processed once.
func (t *Tracker) MarkSeen(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markSeen(id)
}

func (t *Tracker) markSeen(id string) {
	if _, ok := t.seenSet[id]; ok {
		return
	}
	if len(t.seenOrder) >= t.maxHistory {
		oldest := t.seenOrder[0]
		t.seenOrder = t.seenOrder[1:]
		delete(t.seenSet, oldest)
	}
	t.seenOrder = append(t.seenOrder, id)
	t.seenSet[id] = struct{}{}
}

// Close fails every outstanding awaiter and stops accepting new sends.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	pending := t.pending
	t.pending = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.ch <- Outcome{Err: damerr.New(damerr.Unknown, "cancelled: tracker closed")}
	}
}

// Pending returns the count of outstanding sends, for tests and metrics.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
