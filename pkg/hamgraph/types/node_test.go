package types

import "testing"

func TestNode_JSONRoundTrip(t *testing.T) {
	n := Node{
		ID: "users/alice",
		Fields: map[string]Value{
			"name": String("Alice"),
			"age":  Number(30),
		},
		Envelope: Envelope{
			ID:        "users/alice",
			State:     map[string]int64{"name": 1000, "age": 1000},
			Machine:   1,
			MachineID: "ABCD1234",
		},
	}

	data, err := n.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out Node
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if out.ID != n.ID {
		t.Fatalf("expected id %q, got %q", n.ID, out.ID)
	}
	if !out.Fields["name"].Equal(String("Alice")) {
		t.Fatalf("expected name Alice, got %#v", out.Fields["name"])
	}
	if out.Envelope.Machine != 1 || out.Envelope.MachineID != "ABCD1234" {
		t.Fatalf("envelope not preserved: %#v", out.Envelope)
	}
	if out.Envelope.State["name"] != 1000 {
		t.Fatalf("expected timestamp 1000, got %d", out.Envelope.State["name"])
	}
}

func TestNode_LinkValue(t *testing.T) {
	n := Node{
		ID:     "users",
		Fields: map[string]Value{"alice": Link("users/alice")},
		Envelope: Envelope{
			ID:    "users",
			State: map[string]int64{"alice": 500},
		},
	}
	data, err := n.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out Node
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !out.Fields["alice"].IsLink() || out.Fields["alice"].LinkID() != "users/alice" {
		t.Fatalf("expected link to users/alice, got %#v", out.Fields["alice"])
	}
}

func TestValidate_MissingEnvelope(t *testing.T) {
	n := NewNode("users/bob")
	n.Fields["name"] = String("Bob")
	n.Envelope = Envelope{}
	result := Validate(n)
	if result.Valid {
		t.Fatalf("expected invalid node, reasons: %v", result.Reasons)
	}
}

func TestValidate_MismatchedID(t *testing.T) {
	n := NewNode("users/bob")
	n.Envelope.ID = "users/someone-else"
	result := Validate(n)
	if result.Valid {
		t.Fatalf("expected invalid node due to id mismatch")
	}
}

func TestValidate_TimestampKeysMustMatchFields(t *testing.T) {
	n := NewNode("users/carol")
	n.Fields["name"] = String("Carol")
	n.Envelope.State["unrelated"] = 1000
	result := Validate(n)
	if result.Valid {
		t.Fatalf("expected invalid node, '>' keys must equal field names")
	}
}

func TestValidate_WellFormedNode(t *testing.T) {
	n := NewNode("users/dave")
	n.Fields["name"] = String("Dave")
	n.Envelope.State["name"] = 1000
	result := Validate(n)
	if !result.Valid {
		t.Fatalf("expected valid node, got reasons: %v", result.Reasons)
	}
}

func TestValue_CanonicalTiebreak(t *testing.T) {
	a := String("Alice")
	b := String("Bob")
	if !(a.Canonical() < b.Canonical()) {
		t.Fatalf("expected Alice < Bob lexicographically, got %q vs %q", a.Canonical(), b.Canonical())
	}
}
