package wire

import (
	"testing"

	"hamgraph/pkg/hamgraph/clock"
	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/meta"
	"hamgraph/pkg/hamgraph/types"
)

func TestParse_NoDiscriminator_IsError(t *testing.T) {
	if _, err := Parse([]byte(`{"#":"alice","@":"msg1"}`)); err == nil {
		t.Fatalf("expected error: a bare '#' with no discriminator key is not a valid frame")
	}
}

func TestParse_Get_WithGetKey(t *testing.T) {
	msg, err := Parse([]byte(`{"get":{"#":"alice"},"@":"msg1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindGet {
		t.Fatalf("expected KindGet, got %s", msg.Kind)
	}
	if msg.ID != "msg1" {
		t.Fatalf("expected id msg1, got %q", msg.ID)
	}
	if msg.Get.ID != "alice" {
		t.Fatalf("expected get id alice, got %q", msg.Get.ID)
	}
}

func TestParse_Get_NestedPath(t *testing.T) {
	msg, err := Parse([]byte(`{"get":{"#":"alice",".":{"#":"friends"}},"@":"msg2"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Get.Next == nil || msg.Get.Next.ID != "friends" {
		t.Fatalf("expected nested get for friends, got %+v", msg.Get)
	}
}

func TestParse_Ok_DefaultsTrue(t *testing.T) {
	msg, err := Parse([]byte(`{"ok":true,"#":"msg1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindOk {
		t.Fatalf("expected KindOk, got %s", msg.Kind)
	}
	if msg.AckID != "msg1" {
		t.Fatalf("expected ack id msg1, got %q", msg.AckID)
	}
}

func TestParse_StripsOpaqueTopLevelKeys(t *testing.T) {
	msg, err := Parse([]byte(`{"ok":true,"#":"msg1","##extra":1,"FOObar":2,"pid":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := msg.Raw["##extra"]; !ok {
		t.Fatalf("expected opaque key preserved in raw bag")
	}
	if _, ok := msg.Raw["FOObar"]; !ok {
		t.Fatalf("expected opaque FOO-prefixed key preserved in raw bag")
	}
	if _, ok := msg.Raw["pid"]; !ok {
		t.Fatalf("expected opaque pid key preserved in raw bag")
	}
}

func TestParse_Hi(t *testing.T) {
	msg, err := Parse([]byte(`{"hi":{"gun":"0.2020.1","pid":"peer1"},"@":"msg1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindHi || msg.Hi.Gun != "0.2020.1" || msg.Hi.PID != "peer1" {
		t.Fatalf("unexpected hi message: %+v", msg)
	}
}

func TestParse_Bye_ObjectForm(t *testing.T) {
	msg, err := Parse([]byte(`{"bye":{"#":"peer1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Bye.PeerID != "peer1" {
		t.Fatalf("expected peer1, got %q", msg.Bye.PeerID)
	}
}

func TestParse_Dam_InfersErrorIDFromTopLevelAt(t *testing.T) {
	msg, err := Parse([]byte(`{"dam":"not found","@":"err1","type":"notFound"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Dam.Kind != damerr.NotFound {
		t.Fatalf("expected NotFound, got %s", msg.Dam.Kind)
	}
	if msg.Dam.ErrorID != "err1" {
		t.Fatalf("expected errorId err1, got %q", msg.Dam.ErrorID)
	}
}

func TestParse_Put_DecodesNodes(t *testing.T) {
	fc := clock.NewFakeClock(1000, "machine1")
	node := meta.AddMetadata("alice", map[string]types.Value{"name": types.String("Alice")}, nil, fc)
	wireNode, err := meta.ToWire(node)
	if err != nil {
		t.Fatalf("unexpected error building fixture: %v", err)
	}

	frame := []byte(`{"put":{"alice":` + string(wireNode) + `},"@":"msg1"}`)
	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindPut {
		t.Fatalf("expected KindPut, got %s", msg.Kind)
	}
	got, ok := msg.Put["alice"]
	if !ok {
		t.Fatalf("expected node alice in put payload")
	}
	if !got.Fields["name"].Equal(types.String("Alice")) {
		t.Fatalf("unexpected field value: %+v", got.Fields["name"])
	}
}

func TestEncodeParse_RoundTrip_Get(t *testing.T) {
	msg := NewGetMessage("msg1", "alice", []string{"friends"})
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Get.ID != "alice" || parsed.Get.Next == nil || parsed.Get.Next.ID != "friends" {
		t.Fatalf("unexpected round trip result: %+v", parsed.Get)
	}
}

func TestEncodeParse_RoundTrip_Put(t *testing.T) {
	fc := clock.NewFakeClock(1000, "machine1")
	node := meta.AddMetadata("alice", map[string]types.Value{"name": types.String("Alice")}, nil, fc)
	msg := NewPutMessage("msg2", map[string]types.Node{"alice": node})

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	got := parsed.Put["alice"]
	if !got.Fields["name"].Equal(types.String("Alice")) {
		t.Fatalf("unexpected round-tripped field: %+v", got.Fields["name"])
	}
}

func TestEncodeParse_RoundTrip_Dam(t *testing.T) {
	e := damerr.New(damerr.NotFound, `Node "alice" not found`, damerr.WithNode("alice"))
	msg := NewDamMessage("msg1", e)

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Dam.Kind != damerr.NotFound || parsed.Dam.ErrorID != e.ErrorID {
		t.Fatalf("unexpected round-tripped dam: %+v", parsed.Dam)
	}
	if parsed.AckID != "msg1" {
		t.Fatalf("expected ack id msg1, got %q", parsed.AckID)
	}
}
