package wire

import (
	"encoding/json"

	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/meta"
	"hamgraph/pkg/hamgraph/types"
)

// NewGetMessage builds a `get` request for path, starting at root id.
// path is the chain of "." hops after the initial "#"; an empty path
// requests the root node itself.
func NewGetMessage(msgID, rootID string, path []string) *Message {
	payload := &GetPayload{ID: rootID}
	cursor := payload
	for _, hop := range path {
		next := &GetPayload{ID: hop}
		cursor.Next = next
		cursor = next
	}
	return &Message{Kind: KindGet, ID: msgID, Get: payload}
}

// NewPutMessage builds a `put` request carrying one or more nodes.
func NewPutMessage(msgID string, nodes map[string]types.Node) *Message {
	return &Message{Kind: KindPut, ID: msgID, Put: nodes}
}

// NewHiMessage builds the handshake greeting sent on connect.
func NewHiMessage(msgID, gunVersion, peerID string) *Message {
	return &Message{Kind: KindHi, ID: msgID, Hi: &HiPayload{Gun: gunVersion, PID: peerID}}
}

// NewByeMessage builds the handshake farewell sent on graceful disconnect.
func NewByeMessage(msgID, peerID string) *Message {
	return &Message{Kind: KindBye, ID: msgID, Bye: &ByePayload{PeerID: peerID}}
}

// NewDamMessage wraps e as a `dam` reply to the message ackID.
func NewDamMessage(ackID string, e *damerr.HamError) *Message {
	return &Message{Kind: KindDam, ID: e.ErrorID, AckID: ackID, Dam: e}
}

// NewOkMessage builds the generic acknowledgement for ackID. value defaults
// to true when nil.
func NewOkMessage(ackID string, value interface{}) *Message {
	if value == nil {
		value = true
	}
	return &Message{Kind: KindOk, AckID: ackID, Ok: value}
}

// Encode renders a Message back to its wire bytes.
func Encode(msg *Message) ([]byte, error) {
	out := make(map[string]interface{}, len(msg.Raw)+3)
	for key, value := range msg.Raw {
		out[key] = value
	}
	if msg.ID != "" {
		out["@"] = msg.ID
	}

	switch msg.Kind {
	case KindGet:
		out["get"] = encodeGet(msg.Get)
	case KindPut:
		nodes := make(map[string]json.RawMessage, len(msg.Put))
		for id, node := range msg.Put {
			raw, err := meta.ToWire(node)
			if err != nil {
				return nil, err
			}
			nodes[id] = raw
		}
		out["put"] = nodes
		if msg.AckID != "" {
			out["#"] = msg.AckID
		}
	case KindHi:
		hi := map[string]interface{}{}
		if msg.Hi != nil {
			hi["gun"] = msg.Hi.Gun
			hi["pid"] = msg.Hi.PID
		}
		out["hi"] = hi
		if msg.AckID != "" {
			out["#"] = msg.AckID
		}
	case KindBye:
		bye := map[string]interface{}{}
		if msg.Bye != nil && msg.Bye.PeerID != "" {
			bye["#"] = msg.Bye.PeerID
		}
		out["bye"] = bye
		if msg.AckID != "" {
			out["#"] = msg.AckID
		}
	case KindDam:
		dam := damerr.EncodeDAM(msg.Dam)
		for key, value := range dam {
			out[key] = value
		}
		if msg.AckID != "" {
			out["#"] = msg.AckID
		}
	case KindOk:
		out["ok"] = msg.Ok
		if msg.AckID != "" {
			out["#"] = msg.AckID
		}
	}

	return json.Marshal(out)
}

func encodeGet(payload *GetPayload) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{"#": payload.ID}
	if payload.Next != nil {
		out["."] = encodeGet(payload.Next)
	}
	return out
}
