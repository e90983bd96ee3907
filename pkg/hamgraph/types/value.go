// Package types holds the core graph data model: the tagged Value sum
// type, the Node/Envelope shapes, and the Link reference (§3, §9's
// "Dynamic field types" design note).
package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags which alternative a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindLink
)

// Value is the tagged sum {Null, Bool, Number, String, Link(id)} that every
// field of a Node holds. Only scalars and links are legal storage-layer
// values; anything else is an input to the Flattener (§4.10), never a
// stored Value.
type Value struct {
	kind   Kind
	bool_  bool
	num    float64
	str    string
	linkID string
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, bool_: b} }
func Number(n float64) Value     { return Value{kind: KindNumber, num: n} }
func String(s string) Value      { return Value{kind: KindString, str: s} }
func Link(id string) Value       { return Value{kind: KindLink, linkID: id} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsLink() bool   { return v.kind == KindLink }
func (v Value) Bool() bool     { return v.bool_ }
func (v Value) Number() float64 { return v.num }
func (v Value) Str() string    { return v.str }
func (v Value) LinkID() string { return v.linkID }

// Equal compares two values by their semantic content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.bool_ == o.bool_
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindLink:
		return v.linkID == o.linkID
	}
	return false
}

// Canonical renders the value using the same JSON-shaped textual form used
// on the wire, as required by §4.1's deterministic tiebreak (the value with
// the lexicographically greater canonical encoding wins). Link and String
// compare on their literal textual form.
func (v Value) Canonical() string {
	b, err := json.Marshal(v)
	if err != nil {
		// A Value can only hold JSON-representable scalars/links, so
		// Marshal cannot fail in practice.
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// MarshalJSON renders a Value the way the wire protocol expects: scalars as
// themselves, links as the single-key object {"#": id}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.bool_)
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindLink:
		return json.Marshal(map[string]string{"#": v.linkID})
	}
	return nil, fmt.Errorf("types: unknown value kind %d", v.kind)
}

// UnmarshalJSON parses a wire-encoded field value, recognizing the link
// shape {"#": id} as the sole permitted nesting (§3's invariant).
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := valueFromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func valueFromAny(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case string:
		return String(t), nil
	case map[string]interface{}:
		if len(t) != 1 {
			return Value{}, fmt.Errorf("types: nested object is not a link: %#v", t)
		}
		id, ok := t["#"]
		if !ok {
			return Value{}, fmt.Errorf("types: nested object missing link key '#': %#v", t)
		}
		idStr, ok := id.(string)
		if !ok {
			return Value{}, fmt.Errorf("types: link target id must be a string: %#v", id)
		}
		return Link(idStr), nil
	default:
		return Value{}, fmt.Errorf("types: unsupported value type %T", raw)
	}
}

// sortedKeys returns m's keys in sorted order; Node.FieldNames uses it.
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
