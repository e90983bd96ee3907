package chain

import (
	"testing"
	"time"

	"hamgraph/pkg/hamgraph/clock"
	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/definition"
	"hamgraph/pkg/hamgraph/query"
	"hamgraph/pkg/hamgraph/storage"
	"hamgraph/pkg/hamgraph/types"
)

// fakePublisher records what a Handle publishes and, like
// Root.PublishLocalPut, hands each local write to the Query Engine so that
// `on` subscribers see it.
type fakePublisher struct {
	published   []types.Node
	broadcasted []map[string]types.Node
	engine      *query.Engine
}

func (f *fakePublisher) PublishLocalPut(node types.Node) {
	f.published = append(f.published, node)
	if f.engine != nil {
		f.engine.PublishPut(node)
	}
}
func (f *fakePublisher) BroadcastPut(nodes map[string]types.Node) {
	f.broadcasted = append(f.broadcasted, nodes)
}

func newTestEnv(t *testing.T) (*Env, *storage.Memory, *fakePublisher, *query.Engine) {
	t.Helper()
	store := storage.NewMemory()
	pub := &fakePublisher{}
	fc := clock.NewFakeClock(1000, "machine1")
	engine := query.New(store, nil, nil, definition.NewInvoker(), definition.NewDefaultLogger(false))
	pub.engine = engine
	env :=&Env{Storage: store, Clock: fc, Publisher: pub, Engine: engine, Timeout: time.Second}
	return env, store, pub, engine
}

func TestHandle_Put_WritesFlattenedNodeAndPublishes(t *testing.T) {
	env, store, pub, _ := newTestEnv(t)
	h := New(env, "alice")

	_, damErr := h.Put(map[string]interface{}{"name": "Alice"})
	if damErr != nil {
		t.Fatalf("unexpected error: %+v", damErr)
	}

	node, ok := store.Get("alice")
	if !ok || node.Fields["name"].Str() != "Alice" {
		t.Fatalf("expected alice.name=Alice in storage, got %+v", node)
	}
	if len(pub.published) != 1 || len(pub.broadcasted) != 1 {
		t.Fatalf("expected one local publish and one broadcast, got %d/%d", len(pub.published), len(pub.broadcasted))
	}
}

func TestHandle_Put_NestedObjectCreatesChildNode(t *testing.T) {
	env, store, _, _ := newTestEnv(t)
	h := New(env, "alice")

	_, damErr := h.Put(map[string]interface{}{"profile": map[string]interface{}{"bio": "hi"}})
	if damErr != nil {
		t.Fatalf("unexpected error: %+v", damErr)
	}
	child, ok := store.Get("alice/profile")
	if !ok || child.Fields["bio"].Str() != "hi" {
		t.Fatalf("expected alice/profile.bio=hi, got %+v", child)
	}
}

func TestHandle_Get_AppendsPath(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	h := New(env, "alice").Get("profile")
	if h.TerminalID() != "alice/profile" {
		t.Fatalf("expected alice/profile, got %s", h.TerminalID())
	}
}

func TestHandle_Back_WalksUpPath(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	h := New(env, "alice").Get("profile").Get("bio").Back(1)
	if h.TerminalID() != "alice/profile" {
		t.Fatalf("expected alice/profile, got %s", h.TerminalID())
	}
}

func TestHandle_Once_ReturnsWireShapedMap(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	h := New(env, "alice")
	h.Put(map[string]interface{}{"name": "Alice"})

	value, damErr := h.Once()
	if damErr != nil {
		t.Fatalf("unexpected error: %+v", damErr)
	}
	if value["name"] != "Alice" {
		t.Fatalf("expected name=Alice, got %+v", value)
	}
	if _, ok := value["_"]; !ok {
		t.Fatalf("expected the wire-shaped map to include the envelope, got %+v", value)
	}
}

func TestHandle_Once_MissingReturnsNilNoError(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	h := New(env, "ghost")
	value, damErr := h.Once()
	if damErr != nil {
		t.Fatalf("expected no error for a null result, got %+v", damErr)
	}
	if value != nil {
		t.Fatalf("expected nil value for the null result, got %+v", value)
	}
}

func TestHandle_On_DeliversCurrentAndFutureValues(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	h := New(env, "alice")
	h.Put(map[string]interface{}{"name": "Alice"})

	var delivered []map[string]interface{}
	cancel := h.On(func(v map[string]interface{}) { delivered = append(delivered, v) })
	defer cancel()

	if len(delivered) != 1 {
		t.Fatalf("expected immediate delivery of current value, got %d", len(delivered))
	}

	h.Put(map[string]interface{}{"name": "Alice2"})
	if len(delivered) != 2 {
		t.Fatalf("expected a second delivery after put, got %d", len(delivered))
	}
}

func TestHandle_Set_WritesUnderFreshChildID(t *testing.T) {
	env, store, _, _ := newTestEnv(t)
	h := New(env, "users")

	child, damErr := h.Set(map[string]interface{}{"name": "Bob"})
	if damErr != nil {
		t.Fatalf("unexpected error: %+v", damErr)
	}
	node, ok := store.Get(child.TerminalID())
	if !ok || node.Fields["name"].Str() != "Bob" {
		t.Fatalf("expected the fresh child id to hold name=Bob, got %+v", node)
	}
	if len(child.path) == 0 || len(child.path[len(child.path)-1]) != 16 {
		t.Fatalf("expected a 16-char opaque child segment, got path %v", child.path)
	}
}

func TestHandle_Map_TransformsChildren(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	root := New(env, "users")
	root.Put(map[string]interface{}{
		"alice": map[string]interface{}{"age": 30.0},
		"bob":   map[string]interface{}{"age": 12.0},
	})

	names, damErr := root.Map(func(key string, child types.Node) (interface{}, bool) {
		return child.Fields["age"].Number(), true
	})
	if damErr != nil {
		t.Fatalf("unexpected error: %+v", damErr)
	}
	if len(names) != 2 || names["alice"] != 30.0 || names["bob"] != 12.0 {
		t.Fatalf("unexpected map result: %+v", names)
	}
}

func TestHandle_Filter_KeepsOnlyMatchingChildren(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	root := New(env, "users")
	root.Put(map[string]interface{}{
		"alice": map[string]interface{}{"age": 30.0},
		"bob":   map[string]interface{}{"age": 12.0},
	})

	adults, damErr := root.Filter(func(key string, child types.Node) bool {
		return child.Fields["age"].Number() >= 18
	})
	if damErr != nil {
		t.Fatalf("unexpected error: %+v", damErr)
	}
	if len(adults) != 1 {
		t.Fatalf("expected exactly one adult, got %+v", adults)
	}
	if _, ok := adults["alice"]; !ok {
		t.Fatalf("expected alice to be kept, got %+v", adults)
	}
}

func TestNot_NegatesPredicate(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	root := New(env, "users")
	root.Put(map[string]interface{}{
		"alice": map[string]interface{}{"age": 30.0},
		"bob":   map[string]interface{}{"age": 12.0},
	})

	minors, damErr := root.Filter(Not(func(key string, child types.Node) bool {
		return child.Fields["age"].Number() >= 18
	}))
	if damErr != nil {
		t.Fatalf("unexpected error: %+v", damErr)
	}
	if _, ok := minors["bob"]; !ok || len(minors) != 1 {
		t.Fatalf("expected exactly bob to survive the negated filter, got %+v", minors)
	}
}

func TestHandle_Put_StorageErrorPropagatesAsDam(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	env.Storage = failingStorage{}
	h := New(env, "alice")
	_, damErr := h.Put(map[string]interface{}{"name": "Alice"})
	if damErr == nil || damErr.Kind != damerr.Storage {
		t.Fatalf("expected a storage dam error, got %+v", damErr)
	}
}

type failingStorage struct{}

func (failingStorage) Get(id string) (types.Node, bool) { return types.Node{}, false }
func (failingStorage) Merge(id string, incoming types.Node) (types.Node, error) {
	return types.Node{}, errBoom
}

var errBoom = &stubErr{"simulated storage failure"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }
