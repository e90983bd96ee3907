// Package damerr implements the Error/DAM system (§4.13): the closed set of
// error kinds exchanged as protocol messages, their retry classification,
// and the ErrorHandler that keeps a bounded history for observability.
package damerr

import (
	"fmt"
	"time"

	"hamgraph/pkg/hamgraph/idgen"
)

// Kind is the closed set of error kinds the core exchanges over the wire.
type Kind string

const (
	NotFound     Kind = "notFound"
	Unauthorized Kind = "unauthorized"
	Timeout      Kind = "timeout"
	Validation   Kind = "validation"
	Conflict     Kind = "conflict"
	Network      Kind = "network"
	Storage      Kind = "storage"
	Malformed    Kind = "malformed"
	Permission   Kind = "permission"
	RateLimit    Kind = "rateLimit"
	Unknown      Kind = "unknown"
)

// HamError is the typed error carried both in Go call chains and on the
// wire as a DAM frame.
type HamError struct {
	Kind      Kind
	Message   string
	Code      string
	NodeID    string
	Field     string
	Context   map[string]interface{}
	Timestamp int64
	ErrorID   string
}

func (e *HamError) Error() string {
	return e.Message
}

// Option customizes a HamError built through New.
type Option func(*HamError)

func WithCode(code string) Option { return func(e *HamError) { e.Code = code } }
func WithNode(nodeID string) Option { return func(e *HamError) { e.NodeID = nodeID } }
func WithField(field string) Option { return func(e *HamError) { e.Field = field } }
func WithContext(ctx map[string]interface{}) Option {
	return func(e *HamError) { e.Context = ctx }
}

// New builds a HamError with a freshly generated errorId and timestamp.
func New(kind Kind, message string, opts ...Option) *HamError {
	e := &HamError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
		ErrorID:   idgen.NewErrorID(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeoutf builds the standard timeout error for an operation that ran
// longer than d, matching §8 scenario 4's wording and context shape.
func Timeoutf(operation string, d time.Duration) *HamError {
	ms := d.Milliseconds()
	message := fmt.Sprintf("Operation %q timed out after %dms", operation, ms)
	return New(Timeout, message, WithContext(map[string]interface{}{"timeoutMs": ms}))
}
