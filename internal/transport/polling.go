package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

// Polling endpoint layout, relative to the base URL:
//
//	POST   /poll            open a polling session, returns {sessionId}
//	GET    /poll/{id}       long-poll for frames, returns a JSON array
//	POST   /poll/{id}/send  deliver one frame to the server
//	DELETE /poll/{id}       close the polling session
const pollWait = 25 * time.Second

// PollingDialer dials the server's long-polling endpoint. It is the
// fallback for environments where the WebSocket upgrade is blocked.
type PollingDialer struct {
	// URL is the http:// or https:// base endpoint.
	URL string
}

// Dial implements Dialer.
func (d *PollingDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	client := resty.New().
		SetBaseURL(d.URL).
		SetAuthToken(credential).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	var opened struct {
		SessionID string `json:"sessionId"`
	}
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&opened).
		Post("/poll")
	if err != nil {
		return nil, fmt.Errorf("failed to open polling session: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to open polling session: HTTP %d", resp.StatusCode())
	}
	if opened.SessionID == "" {
		return nil, fmt.Errorf("polling session response has no session id")
	}

	return &pollConn{client: client, sessionID: opened.SessionID}, nil
}

// pollConn adapts the long-polling endpoints to the Conn interface. Frames
// arrive batched; Read hands them out one at a time.
type pollConn struct {
	client    *resty.Client
	sessionID string

	mu     sync.Mutex
	queue  [][]byte
	closed bool
}

func (c *pollConn) Read(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, fmt.Errorf("polling session closed")
		}
		if len(c.queue) > 0 {
			frame := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return frame, nil
		}
		c.mu.Unlock()

		var frames []json.RawMessage
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParam("wait", pollWait.String()).
			SetResult(&frames).
			Get("/poll/" + c.sessionID)
		if err != nil {
			return nil, fmt.Errorf("poll failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("poll failed: HTTP %d", resp.StatusCode())
		}

		c.mu.Lock()
		for _, f := range frames {
			c.queue = append(c.queue, []byte(f))
		}
		c.mu.Unlock()
	}
}

func (c *pollConn) Write(ctx context.Context, data []byte) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(data).
		Post("/poll/" + c.sessionID + "/send")
	if err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to send frame: HTTP %d", resp.StatusCode())
	}
	return nil
}

func (c *pollConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.client.R().SetContext(ctx).Delete("/poll/" + c.sessionID)
	return err
}
