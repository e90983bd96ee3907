package flatten

import (
	"testing"

	"hamgraph/pkg/hamgraph/types"
)

func TestFlatten_ScalarsPassThrough(t *testing.T) {
	out, err := Flatten("alice", map[string]interface{}{"name": "Alice", "age": 30.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	root, ok := out["alice"]
	if !ok {
		t.Fatalf("expected a root entry for alice")
	}
	if root["name"].Str() != "Alice" || root["age"].Number() != 30.0 {
		t.Fatalf("unexpected root fields: %+v", root)
	}
	if len(out) != 1 {
		t.Fatalf("expected no child nodes for scalar-only data, got %d entries", len(out))
	}
}

func TestFlatten_LinkObjectPassesThrough(t *testing.T) {
	out, err := Flatten("alice", map[string]interface{}{"bestFriend": map[string]interface{}{"#": "bob"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["alice"]["bestFriend"].LinkID() != "bob" {
		t.Fatalf("expected passthrough link to bob, got %v", out["alice"]["bestFriend"])
	}
	if _, ok := out["bob"]; ok {
		t.Fatalf("a passthrough link must not synthesize a node entry")
	}
}

func TestFlatten_NestedObjectBecomesLinkedChildNode(t *testing.T) {
	out, err := Flatten("alice", map[string]interface{}{
		"profile": map[string]interface{}{"bio": "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	link := out["alice"]["profile"]
	if !link.IsLink() || link.LinkID() != "alice/profile" {
		t.Fatalf("expected link alice/profile, got %+v", link)
	}
	child, ok := out["alice/profile"]
	if !ok || child["bio"].Str() != "hi" {
		t.Fatalf("expected child node alice/profile with bio=hi, got %+v", child)
	}
}

func TestFlatten_ListIsOpaque(t *testing.T) {
	out, err := Flatten("alice", map[string]interface{}{"tags": []interface{}{"a", "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["alice"]["tags"].Kind() != types.KindString {
		t.Fatalf("expected the list to be stored opaquely as a string, got kind %v", out["alice"]["tags"].Kind())
	}
}

type fakeReader struct {
	nodes map[string]types.Node
}

func (r *fakeReader) Get(id string) (types.Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

func nodeOf(id string, fields map[string]types.Value) types.Node {
	n := types.NewNode(id)
	for k, v := range fields {
		n.Fields[k] = v
		n.Envelope.State[k] = 1
	}
	return n
}

func TestResolve_RebuildsNestedTree(t *testing.T) {
	reader := &fakeReader{nodes: map[string]types.Node{
		"alice":         nodeOf("alice", map[string]types.Value{"name": types.String("Alice"), "profile": types.Link("alice/profile")}),
		"alice/profile": nodeOf("alice/profile", map[string]types.Value{"bio": types.String("hi")}),
	}}

	tree, ok := Resolve("alice", reader)
	if !ok {
		t.Fatalf("expected alice to resolve")
	}
	if tree["name"] != "Alice" {
		t.Fatalf("expected name=Alice, got %v", tree["name"])
	}
	profile, ok := tree["profile"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected profile to resolve into a nested map, got %T", tree["profile"])
	}
	if profile["bio"] != "hi" {
		t.Fatalf("expected bio=hi, got %v", profile["bio"])
	}
}

func TestResolve_CycleEmitsLinkVerbatimOnRevisit(t *testing.T) {
	reader := &fakeReader{nodes: map[string]types.Node{
		"a": nodeOf("a", map[string]types.Value{"next": types.Link("b")}),
		"b": nodeOf("b", map[string]types.Value{"next": types.Link("a")}),
	}}

	tree, ok := Resolve("a", reader)
	if !ok {
		t.Fatalf("expected a to resolve")
	}
	b, ok := tree["next"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected b to resolve into a nested map")
	}
	backToA, ok := b["next"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected the cyclic back-reference to a to be a map")
	}
	if backToA["#"] != "a" {
		t.Fatalf("expected the cycle to emit a verbatim link {\"#\": \"a\"}, got %+v", backToA)
	}
}

func TestResolve_MissingNodeReturnsFalse(t *testing.T) {
	reader := &fakeReader{nodes: map[string]types.Node{}}
	if _, ok := Resolve("ghost", reader); ok {
		t.Fatalf("expected resolving a missing node to report not-found")
	}
}
