package chatlink

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

// Conn is one live transport connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a Conn to a live chat URL.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// DefaultReadLimit bounds a single inbound frame.
const DefaultReadLimit = 1 << 20

// WebSocketDialer dials the live endpoint with nhooyr.io/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
	ReadLimit  int64
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	opts := &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	}
	c, _, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}
