package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"hamgraph/pkg/hamgraph/definition"
)

// keepAlivePulseKey marks a frame as HTTPPoll's own internal keep-alive, to
// be swallowed rather than forwarded to Incoming.
const keepAlivePulseKey = "pulse"

// HTTPPoll is the long-poll Transport variant (§4.5): each Send is a POST
// whose response body is the one inbound frame for that request, so the
// relationship is one message per request/response.
type HTTPPoll struct {
	url     string
	client  *http.Client
	log     definition.Logger
	invoker definition.Invoker
	cfg     Config

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc

	in     chan map[string]interface{}
	states chan State
}

// NewHTTPPoll builds an HTTPPoll transport posting to url.
func NewHTTPPoll(url string, invoker definition.Invoker, log definition.Logger, cfg Config) *HTTPPoll {
	return &HTTPPoll{
		url:     url,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
		invoker: invoker,
		cfg:     cfg,
		in:      make(chan map[string]interface{}, 64),
		states:  make(chan State, 8),
	}
}

func (p *HTTPPoll) Connect(ctx context.Context) error {
	p.emitState(StateConnecting)

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.connected = true
	p.cancel = cancel
	p.mu.Unlock()

	interval := p.cfg.PingIntervalSeconds
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	p.invoker.Spawn(func() { p.pingPump(runCtx, time.Duration(interval)*time.Second) })

	p.emitState(StateConnected)
	return nil
}

func (p *HTTPPoll) Disconnect() error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.emitState(StateDisconnected)
	return nil
}

func (p *HTTPPoll) Send(msg map[string]interface{}) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return fmt.Errorf("transport: httppoll is not connected")
	}
	return p.post(msg)
}

func (p *HTTPPoll) post(msg map[string]interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal outgoing frame: %w", err)
	}

	resp, err := p.client.Post(p.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("transport: post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transport: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("transport: server returned %d", resp.StatusCode)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var frame map[string]interface{}
	if err := json.Unmarshal(body, &frame); err != nil {
		p.log.Warnf("transport: dropping malformed response body: %v", err)
		return nil
	}
	if _, isKeepAlive := frame[keepAlivePulseKey]; isKeepAlive {
		return nil
	}
	p.in <- frame
	return nil
}

func (p *HTTPPoll) Incoming() <-chan map[string]interface{} { return p.in }
func (p *HTTPPoll) StateChanges() <-chan State               { return p.states }

func (p *HTTPPoll) pingPump(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.post(map[string]interface{}{keepAlivePulseKey: time.Now().UnixMilli()}); err != nil {
				p.log.Warnf("transport: keep-alive pulse failed: %v", err)
			}
		}
	}
}

func (p *HTTPPoll) emitState(s State) {
	select {
	case p.states <- s:
	default:
	}
}
