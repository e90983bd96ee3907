package damerr

import "testing"

func TestErrorHandler_RecentOrderAndEviction(t *testing.T) {
	h := NewErrorHandlerWithCapacity(nil, 3, 10)
	for i := 0; i < 5; i++ {
		h.HandleError(New(Unknown, "err"))
	}
	recent := h.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected ring buffer capped at 3, got %d", len(recent))
	}
}

func TestErrorHandler_ByID(t *testing.T) {
	h := NewErrorHandlerWithCapacity(nil, 10, 10)
	e := New(Timeout, "timed out")
	h.HandleDAM(e)

	found, ok := h.ByID(e.ErrorID)
	if !ok {
		t.Fatalf("expected to find error by id")
	}
	if found.Message != e.Message {
		t.Fatalf("unexpected message: %q", found.Message)
	}

	if _, ok := h.ByID("nonexistent"); ok {
		t.Fatalf("expected lookup miss for unknown id")
	}
}

func TestErrorHandler_HistoryEviction(t *testing.T) {
	h := NewErrorHandlerWithCapacity(nil, 10, 2)
	first := New(Unknown, "first")
	h.HandleError(first)
	h.HandleError(New(Unknown, "second"))
	h.HandleError(New(Unknown, "third"))

	if _, ok := h.ByID(first.ErrorID); ok {
		t.Fatalf("expected oldest history entry to be evicted")
	}
}

func TestErrorHandler_PerKindCount(t *testing.T) {
	h := NewErrorHandlerWithCapacity(nil, 10, 10)
	h.HandleError(New(Timeout, "a"))
	h.HandleError(New(Timeout, "b"))
	h.HandleError(New(Network, "c"))

	if h.Count(Timeout) != 2 {
		t.Fatalf("expected 2 timeouts, got %d", h.Count(Timeout))
	}
	if h.Count(Network) != 1 {
		t.Fatalf("expected 1 network error, got %d", h.Count(Network))
	}
}
