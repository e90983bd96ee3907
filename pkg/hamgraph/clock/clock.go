// Package clock provides the explicit process clock that replaces the
// process-wide global state (machine counter, machine id, wall clock) the
// upstream ecosystem keeps as package-level variables. The Gun Root owns one
// instance and hands it to the Metadata Manager; tests inject a fake.
package clock

import (
	"sync"
	"time"

	"hamgraph/pkg/hamgraph/idgen"
)

// ProcessClock is the source of HAM timestamps (§4.1) and the per-process
// machine counter/id recorded in every node's envelope (§3).
type ProcessClock interface {
	// NowMillis returns the current wall-clock time in milliseconds.
	NowMillis() int64

	// NextMachine returns the next value of the strictly increasing
	// machine counter for this process.
	NextMachine() uint64

	// MachineID returns the 8-char id stable for the process lifetime.
	MachineID() string
}

// SystemClock is the default ProcessClock, backed by time.Now and an
// in-memory counter.
type SystemClock struct {
	mu        sync.Mutex
	machine   uint64
	machineID string
}

// NewSystemClock creates a SystemClock with a freshly generated machine id.
func NewSystemClock() *SystemClock {
	return &SystemClock{machineID: idgen.NewMachineID()}
}

func (c *SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

func (c *SystemClock) NextMachine() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine++
	return c.machine
}

func (c *SystemClock) MachineID() string {
	return c.machineID
}

// FakeClock is a deterministic ProcessClock for tests: NowMillis is whatever
// was last set with Set, and the machine counter advances exactly as the
// SystemClock's does.
type FakeClock struct {
	mu        sync.Mutex
	now       int64
	machine   uint64
	machineID string
}

// NewFakeClock creates a FakeClock starting at now with the given machineID.
func NewFakeClock(now int64, machineID string) *FakeClock {
	return &FakeClock{now: now, machineID: machineID}
}

// Set pins the value NowMillis will return until the next Set or Advance.
func (c *FakeClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the fake clock forward by delta milliseconds.
func (c *FakeClock) Advance(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += delta
}

func (c *FakeClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) NextMachine() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine++
	return c.machine
}

func (c *FakeClock) MachineID() string {
	return c.machineID
}
