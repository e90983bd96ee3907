// Package wire implements the Wire Codec (§4.3) and the Message Tracker
// (§4.4): parsing and emitting protocol messages, and correlating sent
// messages with their acks/errors.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/meta"
	"hamgraph/pkg/hamgraph/types"
)

// Kind discriminates a wire message by its top-level field, in the order
// §4.3 specifies discriminators are checked.
type Kind string

const (
	KindGet Kind = "get"
	KindPut Kind = "put"
	KindHi  Kind = "hi"
	KindBye Kind = "bye"
	KindDam Kind = "dam"
	KindOk  Kind = "ok"
)

// discriminatorOrder is the fixed precedence §4.3 requires: "first
// recognized discriminator wins in the order listed".
var discriminatorOrder = []Kind{KindGet, KindPut, KindHi, KindBye, KindDam, KindOk}

// GetPayload is a traversal path: {"#": id} or the nested
// {"#": id, ".": <get>} form (§4.3, §4.11).
type GetPayload struct {
	ID   string
	Next *GetPayload
}

// HiPayload is the handshake greeting body (§4.3, §4.6).
type HiPayload struct {
	Gun string
	PID string
}

// ByePayload is the handshake farewell body; PeerID is empty for the bare
// `{}` form §9 notes the source also accepts.
type ByePayload struct {
	PeerID string
}

// Message is a single parsed wire frame.
type Message struct {
	Kind Kind

	// ID is the message's own `@`. AckID is the optional `#`: the id of
	// the message this one acknowledges or answers.
	ID    string
	AckID string

	Get *GetPayload
	Put map[string]types.Node

	Hi  *HiPayload
	Bye *ByePayload
	Dam *damerr.HamError
	Ok  interface{}

	// Raw preserves every top-level field other than the discriminator and
	// `@`/`#` (§4.3's "unknown top-level fields are preserved in a raw
	// bag"), including the opaque passthrough keys, so Encode re-emits them.
	Raw map[string]json.RawMessage
}

// opaquePrefixes mark top-level passthrough keys that Parse sets aside
// before choosing the discriminator, regardless of message kind, and keeps
// only in Message.Raw.
var opaquePrefixes = []string{"##", "FOO", "pid"}

func isOpaqueKey(key string) bool {
	for _, prefix := range opaquePrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Parse decodes a single JSON wire frame.
func Parse(data []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wire: invalid frame: %w", err)
	}

	msg := &Message{Raw: map[string]json.RawMessage{}}

	if id, ok := raw["@"]; ok {
		_ = json.Unmarshal(id, &msg.ID)
		delete(raw, "@")
	}
	if ack, ok := raw["#"]; ok && !isGetDiscriminator(raw) {
		// "#" is the ack-id at the top level, except when "get" is the
		// discriminator, where "#" is the traversal payload's own key
		// (handled below). Re-checked once the kind is known.
		_ = json.Unmarshal(ack, &msg.AckID)
	}

	opaque := map[string]json.RawMessage{}
	for key, value := range raw {
		if isOpaqueKey(key) {
			opaque[key] = value
			delete(raw, key)
		}
	}

	var kind Kind
	for _, candidate := range discriminatorOrder {
		if _, ok := raw[string(candidate)]; ok {
			kind = candidate
			break
		}
	}
	if kind == "" {
		return nil, fmt.Errorf("wire: no recognized discriminator in frame")
	}
	msg.Kind = kind

	switch kind {
	case KindGet:
		// "get" payload itself carries "#" (and optionally "."), so the
		// top-level "#" extracted above was actually this payload's id,
		// not an ack-id; undo that and let parseGet own it.
		msg.AckID = ""
		payload, err := parseGet(raw["get"])
		if err != nil {
			return nil, err
		}
		msg.Get = payload
	case KindPut:
		nodes, err := parsePut(raw["put"])
		if err != nil {
			return nil, err
		}
		msg.Put = nodes
	case KindHi:
		hi, err := parseHi(raw["hi"])
		if err != nil {
			return nil, err
		}
		msg.Hi = hi
	case KindBye:
		bye, err := parseBye(raw["bye"])
		if err != nil {
			return nil, err
		}
		msg.Bye = bye
	case KindDam:
		msg.Dam = parseDam(raw)
		if msg.Dam.ErrorID == "" {
			msg.Dam.ErrorID = msg.ID
		}
	case KindOk:
		msg.Ok = parseOk(raw["ok"])
	}

	delete(raw, string(kind))
	for key, value := range raw {
		if key == "@" || key == "#" {
			continue
		}
		msg.Raw[key] = value
	}
	for key, value := range opaque {
		msg.Raw[key] = value
	}

	return msg, nil
}

// isGetDiscriminator reports whether raw's top-level "#" actually belongs
// to a "get" payload rather than being an ack-id, which is true exactly
// when "get" is also present at the top level.
func isGetDiscriminator(raw map[string]json.RawMessage) bool {
	_, ok := raw["get"]
	return ok
}

func parseGet(data json.RawMessage) (*GetPayload, error) {
	if data == nil {
		return nil, fmt.Errorf("wire: get message missing payload")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wire: invalid get payload: %w", err)
	}
	payload := &GetPayload{}
	if id, ok := raw["#"]; ok {
		if err := json.Unmarshal(id, &payload.ID); err != nil {
			return nil, fmt.Errorf("wire: get '#' must be a string: %w", err)
		}
	}
	if next, ok := raw["."]; ok {
		nested, err := parseGet(next)
		if err != nil {
			return nil, err
		}
		payload.Next = nested
	}
	return payload, nil
}

func parsePut(data json.RawMessage) (map[string]types.Node, error) {
	var rawNodes map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawNodes); err != nil {
		return nil, fmt.Errorf("wire: invalid put payload: %w", err)
	}
	out := make(map[string]types.Node, len(rawNodes))
	for id, rawNode := range rawNodes {
		node, err := meta.FromWire(rawNode)
		if err != nil {
			return nil, fmt.Errorf("wire: put node %q: %w", id, err)
		}
		out[id] = node
	}
	return out, nil
}

func parseHi(data json.RawMessage) (*HiPayload, error) {
	var raw struct {
		Gun string `json:"gun"`
		PID string `json:"pid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wire: invalid hi payload: %w", err)
	}
	return &HiPayload{Gun: raw.Gun, PID: raw.PID}, nil
}

func parseBye(data json.RawMessage) (*ByePayload, error) {
	// §9's open question: the source accepts both the object form
	// {"#": peerId} and a bare string form on ingress.
	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(data, &asObject); err == nil {
		bye := &ByePayload{}
		if id, ok := asObject["#"]; ok {
			_ = json.Unmarshal(id, &bye.PeerID)
		}
		return bye, nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		return &ByePayload{PeerID: asString}, nil
	}
	return &ByePayload{}, nil
}

func parseDam(raw map[string]json.RawMessage) *damerr.HamError {
	asAny := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		var v interface{}
		_ = json.Unmarshal(value, &v)
		asAny[key] = v
	}
	return damerr.DecodeDAM(asAny)
}

func parseOk(data json.RawMessage) interface{} {
	if data == nil {
		return true
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return true
	}
	return v
}
