// Package transport provides the bidirectional connections the session runs
// over: WebSocket as the primary transport and HTTP long-polling as the
// fallback.
package transport

import (
	"context"
)

// Conn abstracts a bidirectional connection to the messaging server.
// This interface isolates transport details from session logic.
type Conn interface {
	// Read reads a single frame (a JSON envelope).
	// Returns an error when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame (a JSON envelope).
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error
}

// Dialer establishes a connection to the messaging server using an opaque
// bearer credential.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// FallbackDialer tries a primary dialer and falls back to a secondary one
// when the primary cannot establish a connection at all. A server that
// rejects WebSocket upgrades still gets long-polling this way.
type FallbackDialer struct {
	Primary  Dialer
	Fallback Dialer
}

// Dial implements Dialer.
func (d *FallbackDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	conn, err := d.Primary.Dial(ctx, credential)
	if err == nil {
		return conn, nil
	}
	if d.Fallback == nil {
		return nil, err
	}
	return d.Fallback.Dial(ctx, credential)
}
