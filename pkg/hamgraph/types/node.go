package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// EnvelopeKey is the reserved field name holding a node's metadata (§3).
const EnvelopeKey = "_"

// Envelope is the `_` metadata every node carries: its own id, the
// per-field HAM timestamps, and the writer's machine counter/id.
type Envelope struct {
	// ID duplicates the node's id (`#`); §3 requires it be equal.
	ID string

	// State maps field name to the HAM timestamp (ms since epoch) at
	// which that field was last written (`>`).
	State map[string]int64

	// Machine is the writer's machine-state counter at write time.
	Machine uint64

	// MachineID is the opaque id of the writing process.
	MachineID string
}

// Clone returns a deep copy of the envelope.
func (e Envelope) Clone() Envelope {
	state := make(map[string]int64, len(e.State))
	for k, v := range e.State {
		state[k] = v
	}
	return Envelope{ID: e.ID, State: state, Machine: e.Machine, MachineID: e.MachineID}
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	raw := make(map[string]interface{}, 3)
	raw["#"] = e.ID
	raw[">"] = e.State
	raw["machine"] = e.Machine
	raw["machineId"] = e.MachineID
	return json.Marshal(raw)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Envelope{State: map[string]int64{}}
	if id, ok := raw["#"]; ok {
		if err := json.Unmarshal(id, &out.ID); err != nil {
			return fmt.Errorf("types: envelope '#' not a string: %w", err)
		}
	}
	if state, ok := raw[">"]; ok {
		var rawState map[string]json.RawMessage
		if err := json.Unmarshal(state, &rawState); err != nil {
			return fmt.Errorf("types: envelope '>' not an object: %w", err)
		}
		for field, v := range rawState {
			var ts float64
			// Non-numeric timestamp entries are dropped (§4.3's
			// normalization rule for foreign metadata).
			if err := json.Unmarshal(v, &ts); err != nil {
				continue
			}
			out.State[field] = int64(ts)
		}
	}
	if machine, ok := raw["machine"]; ok {
		var m float64
		if err := json.Unmarshal(machine, &m); err == nil {
			out.Machine = uint64(m)
		}
	}
	if machineID, ok := raw["machineId"]; ok {
		_ = json.Unmarshal(machineID, &out.MachineID)
	}
	*e = out
	return nil
}

// Node is an id-addressed record: its user fields plus the `_` envelope
// (§3). Fields never contains the reserved "_" key.
type Node struct {
	ID       string
	Fields   map[string]Value
	Envelope Envelope
}

// NewNode builds an empty node for id whose envelope carries only the id
// (no timestamps, machine 0, no machineId); callers
// normally obtain nodes through the Metadata Manager instead.
func NewNode(id string) Node {
	return Node{ID: id, Fields: map[string]Value{}, Envelope: Envelope{ID: id, State: map[string]int64{}}}
}

// FieldNames returns the node's user field names, sorted for determinism.
func (n Node) FieldNames() []string {
	return sortedKeys(n.Fields)
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	fields := make(map[string]Value, len(n.Fields))
	for k, v := range n.Fields {
		fields[k] = v
	}
	return Node{ID: n.ID, Fields: fields, Envelope: n.Envelope.Clone()}
}

func (n Node) MarshalJSON() ([]byte, error) {
	raw := make(map[string]Value, len(n.Fields))
	for k, v := range n.Fields {
		raw[k] = v
	}
	out := make(map[string]json.RawMessage, len(raw)+1)
	for k, v := range raw {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	envelope, err := json.Marshal(n.Envelope)
	if err != nil {
		return nil, err
	}
	out[EnvelopeKey] = envelope
	return json.Marshal(out)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Node{Fields: map[string]Value{}}
	if envelope, ok := raw[EnvelopeKey]; ok {
		if err := json.Unmarshal(envelope, &out.Envelope); err != nil {
			return fmt.Errorf("types: node envelope: %w", err)
		}
		out.ID = out.Envelope.ID
	}
	for k, v := range raw {
		if k == EnvelopeKey {
			continue
		}
		var value Value
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("types: node field %q: %w", k, err)
		}
		out.Fields[k] = value
	}
	*n = out
	return nil
}

// ValidationResult reports whether a node satisfies §3's invariants.
type ValidationResult struct {
	Valid   bool
	Reasons []string
}

// Validate checks the invariants listed in §3: the envelope is present,
// its id matches the node's id, and the envelope's timestamp keys equal
// exactly the node's user field names.
func Validate(n Node) ValidationResult {
	var reasons []string

	if n.Envelope.ID == "" {
		reasons = append(reasons, "node is missing its '_' envelope")
	} else if n.Envelope.ID != n.ID {
		reasons = append(reasons, fmt.Sprintf("envelope id %q does not match node id %q", n.Envelope.ID, n.ID))
	}

	fieldNames := make(map[string]bool, len(n.Fields))
	for k := range n.Fields {
		fieldNames[k] = true
	}
	stateNames := make(map[string]bool, len(n.Envelope.State))
	for k := range n.Envelope.State {
		stateNames[k] = true
	}

	var missingTimestamp []string
	for k := range fieldNames {
		if !stateNames[k] {
			missingTimestamp = append(missingTimestamp, k)
		}
	}
	var extraTimestamp []string
	for k := range stateNames {
		if !fieldNames[k] {
			extraTimestamp = append(extraTimestamp, k)
		}
	}
	sort.Strings(missingTimestamp)
	sort.Strings(extraTimestamp)
	if len(missingTimestamp) > 0 {
		reasons = append(reasons, fmt.Sprintf("fields missing a timestamp in '>': %v", missingTimestamp))
	}
	if len(extraTimestamp) > 0 {
		reasons = append(reasons, fmt.Sprintf("'>' has timestamps for non-existent fields: %v", extraTimestamp))
	}

	for k := range n.Fields {
		if k == EnvelopeKey {
			reasons = append(reasons, "'_' cannot appear as a user field")
		}
	}

	return ValidationResult{Valid: len(reasons) == 0, Reasons: reasons}
}
