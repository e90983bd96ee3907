package damerr

import (
	"testing"
	"time"
)

func TestEncodeDecodeDAM_RoundTrip(t *testing.T) {
	e := New(NotFound, `Node "users/bob" not found`, WithNode("users/bob"))
	encoded := EncodeDAM(e)
	decoded := DecodeDAM(encoded)

	if decoded.Kind != e.Kind {
		t.Fatalf("expected kind %s, got %s", e.Kind, decoded.Kind)
	}
	if decoded.Message != e.Message {
		t.Fatalf("expected message %q, got %q", e.Message, decoded.Message)
	}
	if decoded.ErrorID != e.ErrorID {
		t.Fatalf("expected errorId %q, got %q", e.ErrorID, decoded.ErrorID)
	}
	if decoded.NodeID != e.NodeID {
		t.Fatalf("expected node %q, got %q", e.NodeID, decoded.NodeID)
	}
}

func TestDecodeDAM_InfersKindFromKeyword(t *testing.T) {
	decoded := DecodeDAM(map[string]interface{}{"dam": `Node "users/bob" not found`})
	if decoded.Kind != NotFound {
		t.Fatalf("expected NotFound inferred, got %s", decoded.Kind)
	}
}

func TestDecodeDAM_UnknownKeywordIsUnknown(t *testing.T) {
	decoded := DecodeDAM(map[string]interface{}{"dam": "something inexplicable happened"})
	if decoded.Kind != Unknown {
		t.Fatalf("expected Unknown, got %s", decoded.Kind)
	}
}

func TestDecodeDAM_UnknownTypeFallsBackToUnknown(t *testing.T) {
	decoded := DecodeDAM(map[string]interface{}{"dam": "boom", "type": "somethingMadeUp"})
	if decoded.Kind != Unknown {
		t.Fatalf("expected Unknown for unrecognized type, got %s", decoded.Kind)
	}
}

func TestTimeoutf_ScenarioFour(t *testing.T) {
	e := Timeoutf("query", 5*time.Second)
	encoded := EncodeDAM(e)
	decoded := DecodeDAM(encoded)

	if decoded.Kind != Timeout {
		t.Fatalf("expected Timeout, got %s", decoded.Kind)
	}
	if decoded.Message != `Operation "query" timed out after 5000ms` {
		t.Fatalf("unexpected message: %q", decoded.Message)
	}
	if decoded.ErrorID != e.ErrorID {
		t.Fatalf("expected same errorId to survive round trip")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Timeout) || !Retryable(Network) {
		t.Fatalf("expected Timeout and Network to be retryable")
	}
	if Retryable(NotFound) || Retryable(Validation) || Retryable(Unknown) {
		t.Fatalf("expected other kinds to not be retryable")
	}
}

func TestRetryDelay_Timeout(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{10, 32 * time.Second},
	}
	for _, c := range cases {
		if got := RetryDelay(Timeout, c.attempt); got != c.want {
			t.Fatalf("attempt %d: expected %s, got %s", c.attempt, c.want, got)
		}
	}
}

func TestRetryDelay_Network(t *testing.T) {
	if got := RetryDelay(Network, 1); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %s", got)
	}
	if got := RetryDelay(Network, 20); got != 5*time.Second {
		t.Fatalf("expected capped at 5s, got %s", got)
	}
}
