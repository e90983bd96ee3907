package clock

import "testing"

func TestSystemClock_MachineMonotonic(t *testing.T) {
	c := NewSystemClock()
	prev := c.NextMachine()
	for i := 0; i < 10; i++ {
		next := c.NextMachine()
		if next <= prev {
			t.Fatalf("machine counter not strictly increasing: %d -> %d", prev, next)
		}
		prev = next
	}
}

func TestSystemClock_MachineIDStable(t *testing.T) {
	c := NewSystemClock()
	id := c.MachineID()
	if len(id) != 8 {
		t.Fatalf("expected 8-char machine id, got %q", id)
	}
	if c.MachineID() != id {
		t.Fatalf("machine id changed across calls")
	}
}

func TestFakeClock_Deterministic(t *testing.T) {
	c := NewFakeClock(1000, "ABCD1234")
	if c.NowMillis() != 1000 {
		t.Fatalf("expected 1000, got %d", c.NowMillis())
	}
	c.Advance(500)
	if c.NowMillis() != 1500 {
		t.Fatalf("expected 1500, got %d", c.NowMillis())
	}
	c.Set(42)
	if c.NowMillis() != 42 {
		t.Fatalf("expected 42, got %d", c.NowMillis())
	}
	if c.MachineID() != "ABCD1234" {
		t.Fatalf("unexpected machine id %q", c.MachineID())
	}
}
