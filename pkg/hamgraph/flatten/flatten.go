// Package flatten implements the Data Flattener (§4.10): decomposing a
// nested value into a set of link-connected nodes before storage, and
// recomposing a nested tree from stored nodes on read.
package flatten

import (
	"encoding/json"
	"fmt"
	"sort"

	"hamgraph/pkg/hamgraph/types"
)

// NodeReader is the narrow capability Resolve needs: one node lookup by
// id. Satisfied by storage.Memory and by any other Storage
// implementation.
type NodeReader interface {
	Get(id string) (types.Node, bool)
}

// Flatten decomposes data (as a caller would pass to Chain.put) into a set
// of node id -> field-map entries, rooted at rootID. Scalars and
// already-link-shaped single-key `{"#": id}` objects pass through
// unchanged; any other nested object becomes a link
// `parentId + "/" + key` and is recursively flattened into its own entry;
// lists are treated as opaque and stored as their canonical JSON string,
// matching §4.10's "out of scope... unless the target ecosystem requires
// list conventions" (no list convention is in scope here).
func Flatten(rootID string, data map[string]interface{}) (map[string]map[string]types.Value, error) {
	out := map[string]map[string]types.Value{}
	if err := flattenInto(rootID, data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(nodeID string, data map[string]interface{}, out map[string]map[string]types.Value) error {
	fields := make(map[string]types.Value, len(data))
	// Sorted iteration keeps child-node allocation order deterministic,
	// which matters for tests asserting on generated link ids.
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := data[key]
		v, err := flattenValue(nodeID, key, value, out)
		if err != nil {
			return err
		}
		fields[key] = v
	}
	out[nodeID] = fields
	return nil
}

func flattenValue(parentID, key string, value interface{}, out map[string]map[string]types.Value) (types.Value, error) {
	switch t := value.(type) {
	case nil:
		return types.Null(), nil
	case bool:
		return types.Bool(t), nil
	case float64:
		return types.Number(t), nil
	case int:
		return types.Number(float64(t)), nil
	case string:
		return types.String(t), nil
	case []interface{}:
		encoded, err := json.Marshal(t)
		if err != nil {
			return types.Value{}, fmt.Errorf("flatten: encoding opaque list for %s.%s: %w", parentID, key, err)
		}
		return types.String(string(encoded)), nil
	case map[string]interface{}:
		if id, isLink := asLink(t); isLink {
			return types.Link(id), nil
		}
		childID := parentID + "/" + key
		if err := flattenInto(childID, t, out); err != nil {
			return types.Value{}, err
		}
		return types.Link(childID), nil
	default:
		return types.Value{}, fmt.Errorf("flatten: unsupported value type %T for %s.%s", value, parentID, key)
	}
}

func asLink(m map[string]interface{}) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	id, ok := m["#"]
	if !ok {
		return "", false
	}
	idStr, ok := id.(string)
	return idStr, ok
}

// Resolve rebuilds the nested tree rooted at rootID by following links one
// storage lookup at a time, detecting cycles with a visited set and
// emitting the link verbatim (as a `{"#": id}` map) on revisit (§4.10).
func Resolve(rootID string, reader NodeReader) (map[string]interface{}, bool) {
	visited := map[string]bool{}
	return resolveNode(rootID, reader, visited)
}

func resolveNode(id string, reader NodeReader, visited map[string]bool) (map[string]interface{}, bool) {
	node, ok := reader.Get(id)
	if !ok {
		return nil, false
	}
	visited[id] = true

	out := make(map[string]interface{}, len(node.Fields))
	for _, field := range node.FieldNames() {
		v := node.Fields[field]
		out[field] = resolveValue(v, reader, visited)
	}
	return out, true
}

func resolveValue(v types.Value, reader NodeReader, visited map[string]bool) interface{} {
	if !v.IsLink() {
		return scalarOf(v)
	}
	target := v.LinkID()
	if visited[target] {
		return map[string]interface{}{"#": target}
	}
	child, ok := resolveNode(target, reader, visited)
	if !ok {
		return map[string]interface{}{"#": target}
	}
	return child
}

func scalarOf(v types.Value) interface{} {
	switch v.Kind() {
	case types.KindNull:
		return nil
	case types.KindBool:
		return v.Bool()
	case types.KindNumber:
		return v.Number()
	case types.KindString:
		return v.Str()
	default:
		return nil
	}
}
