// Package transport carries raw text frames over a full-duplex socket.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a message-stream socket. Send may be called from any
// goroutine; Receive must only be called from a single reader.
type Transport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

var ErrNotConnected = errors.New("transport not connected")

type WebSocket struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	url          string
	dialer       *websocket.Dialer
	headers      http.Header
	connected    bool
	writeTimeout time.Duration
	dialTimeout  time.Duration
}

type WebSocketOption func(*WebSocket)

func WithHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocket) {
		t.headers = headers
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocket) {
		t.writeTimeout = timeout
	}
}

func WithDialTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocket) {
		t.dialTimeout = timeout
	}
}

func WithDialer(dialer *websocket.Dialer) WebSocketOption {
	return func(t *WebSocket) {
		t.dialer = dialer
	}
}

// NewWebSocket creates a transport for the given ws:// or wss:// URL.
// No read deadline is applied: the connection is expected to stay idle
// for long stretches between server pushes.
func NewWebSocket(url string, opts ...WebSocketOption) *WebSocket {
	t := &WebSocket{
		url:          url,
		dialer:       websocket.DefaultDialer,
		headers:      make(http.Header),
		writeTimeout: 10 * time.Second,
		dialTimeout:  10 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *WebSocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	dialer := *t.dialer
	dialer.HandshakeTimeout = t.dialTimeout

	conn, _, err := dialer.DialContext(ctx, t.url, t.headers)
	if err != nil {
		return err
	}

	t.conn = conn
	t.connected = true

	return nil
}

func (t *WebSocket) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return ErrNotConnected
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocket) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return nil, ErrNotConnected
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	return message, nil
}

func (t *WebSocket) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}

	// Best effort close frame; the peer may already be gone.
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	err := t.conn.Close()
	t.connected = false
	t.conn = nil

	return err
}
