package transport

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// WebSocketDialer dials the server's WebSocket endpoint.
type WebSocketDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	// Inbound frames are bounded by the protocol, not by bulk transfers.
	conn.SetReadLimit(1 << 20)

	return &wsConn{conn: conn}, nil
}

// wsConn adapts nhooyr.io/websocket to the Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
