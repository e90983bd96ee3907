// Package meta implements the Metadata Manager (§4.2): injecting and
// validating the `_` envelope on every node, merging two replicas via HAM,
// and the tolerant wire (de)serialization of a single node.
package meta

import (
	"encoding/json"
	"fmt"

	"hamgraph/pkg/hamgraph/clock"
	"hamgraph/pkg/hamgraph/ham"
	"hamgraph/pkg/hamgraph/types"
)

// AddMetadata returns data ∪ {"_": envelope}: a delta node carrying only the
// fields in data, with existing timestamps reused for fields whose value is
// unchanged from existing, and a freshly generated timestamp for every
// new/changed field (§4.2, §4.1's timestamp-generation rule). existing may
// be nil for a node's first write.
func AddMetadata(nodeID string, data map[string]types.Value, existing *types.Node, pc clock.ProcessClock) types.Node {
	var maxExisting int64
	if existing != nil {
		for _, ts := range existing.Envelope.State {
			if ts > maxExisting {
				maxExisting = ts
			}
		}
	}
	fresh := ham.NextTimestamp(pc.NowMillis(), maxExisting)

	out := types.Node{
		ID:     nodeID,
		Fields: make(map[string]types.Value, len(data)),
		Envelope: types.Envelope{
			ID:        nodeID,
			State:     make(map[string]int64, len(data)),
			Machine:   pc.NextMachine(),
			MachineID: pc.MachineID(),
		},
	}

	for field, value := range data {
		if existing != nil {
			if existingValue, ok := existing.Fields[field]; ok && existingValue.Equal(value) {
				out.Fields[field] = value
				out.Envelope.State[field] = existing.Envelope.State[field]
				continue
			}
		}
		out.Fields[field] = value
		out.Envelope.State[field] = fresh
	}

	return out
}

// MergeNodes applies §4.1's HAM merge to two full/partial replicas of the
// same node.
func MergeNodes(current, incoming types.Node) types.Node {
	return ham.MergeNode(current, incoming)
}

// Validate checks the invariants of §3 and reports every violation found.
func Validate(n types.Node) types.ValidationResult {
	return types.Validate(n)
}

// ToWire renders a compliant node to its wire bytes. For a node that
// satisfies Validate, this is a bit-identical pass-through: the envelope
// and every field round-trip byte-for-byte modulo key ordering, which the
// wire protocol treats as irrelevant (§6).
func ToWire(n types.Node) ([]byte, error) {
	return json.Marshal(n)
}

// FromWire parses a single node's raw wire object, tolerating the foreign
// implementations described in §4.3: complex nested metadata under `_` is
// simplified down to `#`/`>`/`machine`/`machineId`, and a stray top-level
// `#` or `>` placed outside `_` is folded in when `_` itself lacks that key.
// Non-numeric `>` entries are dropped by types.Envelope's own unmarshaling.
func FromWire(raw map[string]json.RawMessage) (types.Node, error) {
	normalized, err := normalize(raw)
	if err != nil {
		return types.Node{}, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return types.Node{}, err
	}
	var n types.Node
	if err := n.UnmarshalJSON(data); err != nil {
		return types.Node{}, fmt.Errorf("meta: fromWire: %w", err)
	}
	return n, nil
}

// normalize produces a copy of raw with envelope metadata folded under `_`
// and simplified to the fields the core understands.
func normalize(raw map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	envelopeRaw := map[string]json.RawMessage{}
	if existing, ok := out[types.EnvelopeKey]; ok {
		var asObject map[string]json.RawMessage
		if err := json.Unmarshal(existing, &asObject); err == nil {
			envelopeRaw = asObject
		}
	}

	// Stray top-level "#"/">" are folded in only when the envelope does
	// not already carry a compliant value for that key.
	if strayID, ok := out["#"]; ok {
		if _, already := envelopeRaw["#"]; !already {
			envelopeRaw["#"] = strayID
		}
		delete(out, "#")
	}
	if strayState, ok := out[">"]; ok {
		if _, already := envelopeRaw[">"]; !already {
			envelopeRaw[">"] = strayState
		}
		delete(out, ">")
	}

	// Simplify complex/foreign metadata down to the four fields the core
	// understands; anything else under `_` is discarded (§4.3).
	simplified := make(map[string]json.RawMessage, 4)
	for _, key := range []string{"#", ">", "machine", "machineId"} {
		if v, ok := envelopeRaw[key]; ok {
			simplified[key] = v
		}
	}

	simplifiedBytes, err := json.Marshal(simplified)
	if err != nil {
		return nil, err
	}
	out[types.EnvelopeKey] = simplifiedBytes
	return out, nil
}
