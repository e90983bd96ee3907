package damerr

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultRecentCapacity  = 100
	defaultHistoryCapacity = 1000
)

// ErrorHandler is the integration surface every Peer's DAM ingress and
// every Query Engine failure reports through (§4.13, §7). It keeps a
// bounded ring of the most recent errors, a bounded lookup by errorId, and
// a per-kind counter mirrored into Prometheus when a registerer is given.
type ErrorHandler struct {
	mu sync.Mutex

	recent      []*HamError
	recentCap   int
	recentNext  int
	recentCount int

	history     map[string]*HamError
	historyFIFO []string
	historyCap  int

	counts   map[Kind]int
	counters *prometheus.CounterVec
}

// NewErrorHandler builds an ErrorHandler with the default bounds (recent
// 100, history by id 1000). registerer may be nil to disable metrics
// export.
func NewErrorHandler(registerer prometheus.Registerer) *ErrorHandler {
	return NewErrorHandlerWithCapacity(registerer, defaultRecentCapacity, defaultHistoryCapacity)
}

// NewErrorHandlerWithCapacity builds an ErrorHandler with explicit bounds,
// primarily for tests exercising eviction.
func NewErrorHandlerWithCapacity(registerer prometheus.Registerer, recentCap, historyCap int) *ErrorHandler {
	h := &ErrorHandler{
		recent:     make([]*HamError, recentCap),
		recentCap:  recentCap,
		history:    make(map[string]*HamError, historyCap),
		historyCap: historyCap,
		counts:     make(map[Kind]int),
	}
	if registerer != nil {
		h.counters = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hamgraph_errors_total",
			Help: "Total errors observed by the Error/DAM system, by kind.",
		}, []string{"kind"})
		registerer.MustRegister(h.counters)
	}
	return h
}

// HandleDAM records an error that arrived as a DAM frame from a peer.
func (h *ErrorHandler) HandleDAM(e *HamError) {
	h.record(e)
}

// HandleError records a synthesized error raised locally (e.g. by the
// Query Engine on a failure that never touched the wire).
func (h *ErrorHandler) HandleError(e *HamError) {
	h.record(e)
}

func (h *ErrorHandler) record(e *HamError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent[h.recentNext] = e
	h.recentNext = (h.recentNext + 1) % h.recentCap
	if h.recentCount < h.recentCap {
		h.recentCount++
	}

	if e.ErrorID != "" {
		if _, exists := h.history[e.ErrorID]; !exists {
			if len(h.historyFIFO) >= h.historyCap {
				oldest := h.historyFIFO[0]
				h.historyFIFO = h.historyFIFO[1:]
				delete(h.history, oldest)
			}
			h.historyFIFO = append(h.historyFIFO, e.ErrorID)
		}
		h.history[e.ErrorID] = e
	}

	h.counts[e.Kind]++
	if h.counters != nil {
		h.counters.WithLabelValues(string(e.Kind)).Inc()
	}
}

// Recent returns the most recently recorded errors, newest first.
func (h *ErrorHandler) Recent() []*HamError {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*HamError, 0, h.recentCount)
	for i := 0; i < h.recentCount; i++ {
		idx := (h.recentNext - 1 - i + h.recentCap) % h.recentCap
		out = append(out, h.recent[idx])
	}
	return out
}

// ByID looks up a previously recorded error by its errorId.
func (h *ErrorHandler) ByID(errorID string) (*HamError, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.history[errorID]
	return e, ok
}

// Count returns how many errors of the given kind have been recorded.
func (h *ErrorHandler) Count(kind Kind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[kind]
}
