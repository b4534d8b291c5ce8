package conversation

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/soundspace/realtime/pkg/wire"
)

// Bus is the subscription surface the counter needs.
type Bus interface {
	On(event string, fn func(data json.RawMessage)) func()
}

// Counter is the process-wide unread badge. The server owns the value:
// every unread:update push overwrites it, nothing increments it locally.
// A missed push leaves the count stale until the next one.
type Counter struct {
	mu    sync.RWMutex
	count int
	unsub func()
}

// NewCounter creates a counter subscribed to unread:update pushes.
// Dispose with Close.
func NewCounter(bus Bus) *Counter {
	c := &Counter{}
	c.unsub = bus.On(wire.EventUnreadUpdate, func(data json.RawMessage) {
		var p wire.UnreadPayload
		if json.Unmarshal(data, &p) != nil || p.Count < 0 {
			return
		}
		c.mu.Lock()
		c.count = p.Count
		c.mu.Unlock()
	})
	return c
}

// Count returns the last pushed total unread count.
func (c *Counter) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Close deregisters the counter's event handler.
func (c *Counter) Close() {
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}
