package damerr

import "strings"

// EncodeDAM renders a HamError as the payload of a `dam` wire message
// (§4.3, §4.13): message, the errorId as `@`, type, and the optional
// code/node/field/context. The `#` naming the answered message is layered
// on by the wire package.
func EncodeDAM(e *HamError) map[string]interface{} {
	out := map[string]interface{}{
		"dam":  e.Message,
		"@":    e.ErrorID,
		"type": string(e.Kind),
	}
	if e.Code != "" {
		out["code"] = e.Code
	}
	if e.NodeID != "" {
		out["node"] = e.NodeID
	}
	if e.Field != "" {
		out["field"] = e.Field
	}
	if e.Context != nil {
		out["context"] = e.Context
	}
	return out
}

// DecodeDAM parses a `dam` message payload back into a HamError. If `type`
// is present it sets the kind directly; otherwise the kind is inferred by
// keyword match against the message (§4.3, §8's boundary behavior: unknown
// keywords classify as Unknown).
func DecodeDAM(raw map[string]interface{}) *HamError {
	message, _ := raw["dam"].(string)

	e := &HamError{
		Message: message,
	}

	if typ, ok := raw["type"].(string); ok && typ != "" {
		e.Kind = kindFromWire(typ)
	} else {
		e.Kind = inferKind(message)
	}

	if errorID, ok := raw["@"].(string); ok {
		e.ErrorID = errorID
	}
	if code, ok := raw["code"].(string); ok {
		e.Code = code
	}
	if node, ok := raw["node"].(string); ok {
		e.NodeID = node
	}
	if field, ok := raw["field"].(string); ok {
		e.Field = field
	}
	if ctx, ok := raw["context"].(map[string]interface{}); ok {
		e.Context = ctx
	}

	return e
}

func kindFromWire(typ string) Kind {
	switch Kind(typ) {
	case NotFound, Unauthorized, Timeout, Validation, Conflict, Network, Storage, Malformed, Permission, RateLimit:
		return Kind(typ)
	default:
		return Unknown
	}
}

// keywordRules is checked in order; the first match wins. Order matters
// because some keywords (e.g. "permission") are substrings of others'
// vocabulary in real-world DAM strings.
var keywordRules = []struct {
	keyword string
	kind    Kind
}{
	{"not found", NotFound},
	{"404", NotFound},
	{"timed out", Timeout},
	{"timeout", Timeout},
	{"unauthorized", Unauthorized},
	{"401", Unauthorized},
	{"forbidden", Permission},
	{"permission", Permission},
	{"403", Permission},
	{"rate limit", RateLimit},
	{"too many requests", RateLimit},
	{"429", RateLimit},
	{"conflict", Conflict},
	{"409", Conflict},
	{"network", Network},
	{"connection", Network},
	{"storage", Storage},
	{"malformed", Malformed},
	{"parse", Malformed},
	{"invalid json", Malformed},
	{"validation", Validation},
	{"invalid", Validation},
}

func inferKind(message string) Kind {
	lower := strings.ToLower(message)
	for _, rule := range keywordRules {
		if strings.Contains(lower, rule.keyword) {
			return rule.kind
		}
	}
	return Unknown
}
