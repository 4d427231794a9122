package pipe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHandler receives a decoded inbound message.
type WebSocketHandler func(data []byte)

// DefaultHeartbeatInterval is how often a connected WebSocketTransport
// pings the peer to detect dead connections (§4.8 heartbeat).
const DefaultHeartbeatInterval = 30 * time.Second

// WebSocketTransport implements Transport over a client WebSocket
// connection, with a heartbeat ping loop and an optional request/response
// overlay for correlating outbound requests with inbound replies.
type WebSocketTransport struct {
	URL               string
	HeartbeatInterval time.Duration
	OnMessage         WebSocketHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan []byte
	done    chan struct{}
}

// NewWebSocketTransport constructs a WebSocketTransport targeting url.
func NewWebSocketTransport(url string, onMessage WebSocketHandler) *WebSocketTransport {
	return &WebSocketTransport{
		URL:               url,
		HeartbeatInterval: DefaultHeartbeatInterval,
		OnMessage:         onMessage,
		pending:           make(map[string]chan []byte),
	}
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.done = make(chan struct{})
	t.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * t.HeartbeatInterval))
	})

	go t.heartbeatLoop()
	go t.readLoop()
	return nil
}

// Done returns a channel closed once the connection's read loop exits.
func (t *WebSocketTransport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// readLoop blocks until the connection closes or errors, dispatching every
// inbound text/binary frame to OnMessage. It does not resolve pending
// Request waiters itself; that happens only when OnMessage calls Resolve.
func (t *WebSocketTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			close(t.done)
			t.mu.Unlock()
			return
		}
		if t.OnMessage != nil {
			t.OnMessage(data)
		}
	}
}

func (t *WebSocketTransport) heartbeatLoop() {
	ticker := time.NewTicker(t.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes data as a single text frame.
func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("pipe: websocket not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Request implements the request/response overlay: send data, then wait
// for a reply correlated by correlationID (the caller is responsible for
// embedding and extracting the id in the message payload; this transport
// only manages the waiter bookkeeping) or ctx's deadline, whichever comes
// first.
func (t *WebSocketTransport) Request(ctx context.Context, correlationID string, data []byte) ([]byte, error) {
	reply := make(chan []byte, 1)
	t.mu.Lock()
	t.pending[correlationID] = reply
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, correlationID)
		t.mu.Unlock()
	}()

	if err := t.Send(data); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-reply:
		return resp, nil
	}
}

// Resolve delivers data to the pending Request waiting on correlationID,
// if any. Call from OnMessage once the reply's correlation id is parsed
// out of the payload.
func (t *WebSocketTransport) Resolve(correlationID string, data []byte) {
	t.mu.Lock()
	ch, ok := t.pending[correlationID]
	t.mu.Unlock()
	if ok {
		select {
		case ch <- data:
		default:
		}
	}
}
