// Package ham implements the Hypothetical Amnesia Machine: the per-field
// logical-clock merge algorithm that resolves concurrent writes (§4.1).
package ham

import (
	"hamgraph/pkg/hamgraph/types"
)

// FieldResult is the outcome of merging a single field.
type FieldResult struct {
	Value     types.Value
	Timestamp int64
	// Changed reports whether the local value/timestamp actually moved;
	// §4.1 rule 3 (equal timestamp, equal value) leaves it false.
	Changed bool
}

// MergeField applies §4.1's four-way rule to a single field given its
// local and incoming (value, timestamp) pairs.
func MergeField(localValue types.Value, localTS int64, incomingValue types.Value, incomingTS int64) FieldResult {
	switch {
	case incomingTS > localTS:
		return FieldResult{Value: incomingValue, Timestamp: incomingTS, Changed: true}
	case incomingTS < localTS:
		return FieldResult{Value: localValue, Timestamp: localTS, Changed: false}
	default:
		if incomingValue.Equal(localValue) {
			return FieldResult{Value: localValue, Timestamp: localTS, Changed: false}
		}
		// Deterministic tiebreak: lexicographically greater canonical
		// encoding wins (§4.1 rule 4).
		if incomingValue.Canonical() > localValue.Canonical() {
			return FieldResult{Value: incomingValue, Timestamp: incomingTS, Changed: true}
		}
		return FieldResult{Value: localValue, Timestamp: localTS, Changed: false}
	}
}

// MergeNode merges two whole nodes field by field, unioning field sets.
// The merged node's `_.>` timestamps are, per field, the winning value's
// timestamp. `machine`/`machineId` come from local (they identify the
// writer of the resulting replica, not the field), matching §4.1's note
// that those identify the writer, never the field.
func MergeNode(local, incoming types.Node) types.Node {
	out := types.Node{
		ID:     local.ID,
		Fields: make(map[string]types.Value),
		Envelope: types.Envelope{
			ID:        local.ID,
			State:     make(map[string]int64),
			Machine:   local.Envelope.Machine,
			MachineID: local.Envelope.MachineID,
		},
	}
	if out.ID == "" {
		out.ID = incoming.ID
		out.Envelope.ID = incoming.ID
	}

	fields := make(map[string]bool)
	for k := range local.Fields {
		fields[k] = true
	}
	for k := range incoming.Fields {
		fields[k] = true
	}

	for field := range fields {
		localValue, hasLocal := local.Fields[field]
		localTS := local.Envelope.State[field]
		incomingValue, hasIncoming := incoming.Fields[field]
		incomingTS := incoming.Envelope.State[field]

		switch {
		case hasLocal && hasIncoming:
			result := MergeField(localValue, localTS, incomingValue, incomingTS)
			out.Fields[field] = result.Value
			out.Envelope.State[field] = result.Timestamp
		case hasLocal:
			out.Fields[field] = localValue
			out.Envelope.State[field] = localTS
		case hasIncoming:
			out.Fields[field] = incomingValue
			out.Envelope.State[field] = incomingTS
		}
	}

	return out
}

// NextTimestamp implements §4.1's timestamp-generation rule for a mutated
// field: t := max(now_ms, max(existing_ts)+1).
func NextTimestamp(nowMillis int64, existingTS int64) int64 {
	if existingTS+1 > nowMillis {
		return existingTS + 1
	}
	return nowMillis
}
