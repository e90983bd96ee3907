package ham

import (
	"testing"

	"hamgraph/pkg/hamgraph/types"
)

func TestMergeField_IncomingWins(t *testing.T) {
	result := MergeField(types.String("Alice"), 1000, types.String("Bob"), 2000)
	if !result.Value.Equal(types.String("Bob")) || result.Timestamp != 2000 || !result.Changed {
		t.Fatalf("expected Bob@2000 changed, got %#v", result)
	}
}

func TestMergeField_LocalWins(t *testing.T) {
	result := MergeField(types.String("Alice"), 2000, types.String("Bob"), 1000)
	if !result.Value.Equal(types.String("Alice")) || result.Timestamp != 2000 || result.Changed {
		t.Fatalf("expected Alice@2000 unchanged, got %#v", result)
	}
}

func TestMergeField_TieSameValue_NoChange(t *testing.T) {
	result := MergeField(types.String("Alice"), 1000, types.String("Alice"), 1000)
	if result.Changed {
		t.Fatalf("expected no change for identical tie")
	}
}

func TestMergeField_TieDifferentValue_LexicalWinner(t *testing.T) {
	// "Bob" > "Alice" lexicographically, §8 scenario 2.
	result := MergeField(types.String("Alice"), 1000, types.String("Bob"), 1000)
	if !result.Value.Equal(types.String("Bob")) {
		t.Fatalf("expected Bob to win the tiebreak, got %#v", result.Value)
	}

	// Symmetric: starting from Bob locally, Alice incoming, still Bob wins.
	result = MergeField(types.String("Bob"), 1000, types.String("Alice"), 1000)
	if !result.Value.Equal(types.String("Bob")) {
		t.Fatalf("expected Bob to win the tiebreak regardless of side, got %#v", result.Value)
	}
}

func nodeWithField(id, field string, value types.Value, ts int64) types.Node {
	n := types.NewNode(id)
	n.Fields[field] = value
	n.Envelope.State[field] = ts
	return n
}

// fieldsEqual compares two nodes ignoring the writer-identifying
// machine/machineId, since those are not part of the field-merge
// properties under test (§4.1's associativity/commutativity/idempotence).
func fieldsEqual(t *testing.T, a, b types.Node) bool {
	t.Helper()
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for k, v := range a.Fields {
		ov, ok := b.Fields[k]
		if !ok || !v.Equal(ov) {
			return false
		}
		if a.Envelope.State[k] != b.Envelope.State[k] {
			return false
		}
	}
	return true
}

func TestMergeNode_Commutative(t *testing.T) {
	a := nodeWithField("users/alice", "name", types.String("Alice"), 1000)
	b := nodeWithField("users/alice", "name", types.String("Bob"), 2000)

	ab := MergeNode(a, b)
	ba := MergeNode(b, a)
	if !fieldsEqual(t, ab, ba) {
		t.Fatalf("merge not commutative: %#v vs %#v", ab.Fields, ba.Fields)
	}
}

func TestMergeNode_Idempotent(t *testing.T) {
	a := nodeWithField("users/alice", "name", types.String("Alice"), 1000)
	merged := MergeNode(a, a)
	if !fieldsEqual(t, merged, a) {
		t.Fatalf("merge not idempotent: %#v vs %#v", merged.Fields, a.Fields)
	}
}

func TestMergeNode_Associative(t *testing.T) {
	a := nodeWithField("users/alice", "name", types.String("Alice"), 1000)
	b := nodeWithField("users/alice", "name", types.String("Bob"), 1000)
	c := nodeWithField("users/alice", "name", types.String("Carol"), 2000)

	left := MergeNode(MergeNode(a, b), c)
	right := MergeNode(a, MergeNode(b, c))
	if !fieldsEqual(t, left, right) {
		t.Fatalf("merge not associative: %#v vs %#v", left.Fields, right.Fields)
	}
}

func TestMergeNode_UnionsFieldSets(t *testing.T) {
	a := nodeWithField("users/alice", "name", types.String("Alice"), 1000)
	b := nodeWithField("users/alice", "age", types.Number(30), 1000)

	merged := MergeNode(a, b)
	if !merged.Fields["name"].Equal(types.String("Alice")) {
		t.Fatalf("expected name preserved from a")
	}
	if !merged.Fields["age"].Equal(types.Number(30)) {
		t.Fatalf("expected age preserved from b")
	}
}

func TestNextTimestamp(t *testing.T) {
	if got := NextTimestamp(5000, 4000); got != 5000 {
		t.Fatalf("expected now to win when ahead of existing, got %d", got)
	}
	if got := NextTimestamp(1000, 4000); got != 4001 {
		t.Fatalf("expected existing+1 when clock is behind, got %d", got)
	}
}
