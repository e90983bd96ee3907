package definition

import "sync"

// Invoker spawns background work and can later wait for everything spawned
// to finish. Every long-lived component (Peer, RelayClient, Mesh Discovery)
// takes an Invoker instead of calling `go` directly, so tests can inject a
// WaitGroup-backed invoker and deterministically settle all goroutines
// before asserting, and goroutine-leak checks have a single choke point.
type Invoker interface {
	// Spawn runs f on its own goroutine.
	Spawn(f func())

	// Stop blocks until every spawned f has returned.
	Stop()
}

// WaitGroupInvoker is the default Invoker, backed by a sync.WaitGroup.
type WaitGroupInvoker struct {
	group sync.WaitGroup
}

// NewInvoker creates a WaitGroupInvoker.
func NewInvoker() Invoker {
	return &WaitGroupInvoker{}
}

func (i *WaitGroupInvoker) Spawn(f func()) {
	i.group.Add(1)
	go func() {
		defer i.group.Done()
		f()
	}()
}

func (i *WaitGroupInvoker) Stop() {
	i.group.Wait()
}
