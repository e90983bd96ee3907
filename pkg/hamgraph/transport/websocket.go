package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hamgraph/pkg/hamgraph/definition"
)

// Websocket is the default Transport variant (§4.5), backed by
// github.com/gorilla/websocket. Keep-alive rides native ping/pong control
// frames, which gorilla/websocket already keeps out of ReadMessage's text
// frame stream, so higher layers never see them.
type Websocket struct {
	url    string
	dialer *websocket.Dialer
	log    definition.Logger
	invoker definition.Invoker
	cfg    Config

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	cancel  context.CancelFunc

	in     chan map[string]interface{}
	states chan State
}

// NewWebsocket builds a Websocket transport dialing url on Connect.
func NewWebsocket(url string, invoker definition.Invoker, log definition.Logger, cfg Config) *Websocket {
	return &Websocket{
		url:     url,
		dialer:  websocket.DefaultDialer,
		log:     log,
		invoker: invoker,
		cfg:     cfg,
		in:      make(chan map[string]interface{}, 64),
		states:  make(chan State, 8),
	}
}

func (w *Websocket) Connect(ctx context.Context) error {
	w.emitState(StateConnecting)

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		w.emitState(StateFailed)
		return fmt.Errorf("transport: dial %s: %w", w.url, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.conn = conn
	w.cancel = cancel
	w.closed = false
	w.mu.Unlock()

	interval := w.cfg.PingIntervalSeconds
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(time.Duration(interval) * 2 * time.Second))
	})
	_ = conn.SetReadDeadline(time.Now().Add(time.Duration(interval) * 2 * time.Second))

	w.invoker.Spawn(func() { w.readPump(runCtx) })
	w.invoker.Spawn(func() { w.pingPump(runCtx, time.Duration(interval)*time.Second) })

	w.emitState(StateConnected)
	return nil
}

func (w *Websocket) Disconnect() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	w.emitState(StateDisconnected)
	return err
}

func (w *Websocket) Send(msg map[string]interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal outgoing frame: %w", err)
	}
	// gorilla/websocket allows one concurrent writer, so writes are
	// serialized under mu.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.conn == nil {
		return fmt.Errorf("transport: websocket is not connected")
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *Websocket) Incoming() <-chan map[string]interface{} { return w.in }
func (w *Websocket) StateChanges() <-chan State               { return w.states }

func (w *Websocket) readPump(ctx context.Context) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				w.log.Warnf("transport: websocket read error: %v", err)
				w.emitState(StateFailed)
			}
			return
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			w.log.Warnf("transport: dropping malformed frame: %v", err)
			continue
		}
		select {
		case w.in <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Websocket) pingPump(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				w.log.Warnf("transport: ping write failed: %v", err)
			}
		}
	}
}

func (w *Websocket) emitState(s State) {
	select {
	case w.states <- s:
	default:
	}
}
