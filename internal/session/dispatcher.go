package session

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/soundspace/realtime/pkg/wire"
)

// dispatcher routes decoded envelopes to registered handlers. Handlers are
// keyed by an id so that unsubscribing removes exactly the handler that
// was registered, even when the same function is registered twice.
type dispatcher struct {
	mu     sync.RWMutex
	nextID int
	events map[string]map[int]func(json.RawMessage)
	conns  map[int]func(bool)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		events: make(map[string]map[int]func(json.RawMessage)),
		conns:  make(map[int]func(bool)),
	}
}

func (d *dispatcher) on(event string, fn func(json.RawMessage)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	if d.events[event] == nil {
		d.events[event] = make(map[int]func(json.RawMessage))
	}
	d.events[event][id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.events[event], id)
	}
}

func (d *dispatcher) onConnChange(fn func(bool)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.conns[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.conns, id)
	}
}

// dispatch invokes every handler registered for the envelope's event,
// synchronously, on the caller's goroutine. Handlers must not block.
func (d *dispatcher) dispatch(env wire.Envelope) {
	d.mu.RLock()
	handlers := make([]func(json.RawMessage), 0, len(d.events[env.Event]))
	for _, fn := range d.events[env.Event] {
		handlers = append(handlers, fn)
	}
	d.mu.RUnlock()

	for _, fn := range handlers {
		fn(env.Data)
	}
}

func (d *dispatcher) emitConnChange(connected bool) {
	d.mu.RLock()
	handlers := make([]func(bool), 0, len(d.conns))
	for _, fn := range d.conns {
		handlers = append(handlers, fn)
	}
	d.mu.RUnlock()

	for _, fn := range handlers {
		fn(connected)
	}
}
