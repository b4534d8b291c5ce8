// Package presence tracks which peers are currently online, fed by
// server presence pushes. Presence is best-effort: after a reconnect the
// set is cleared and callers should re-query membership with Query when a
// screen needs authoritative state.
package presence

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/soundspace/realtime/pkg/wire"
)

// Session is the subscription and emit surface the tracker needs.
type Session interface {
	On(event string, fn func(data json.RawMessage)) func()
	OnConnectionChange(fn func(connected bool)) func()
	Emit(event string, payload any) error
}

// Tracker maintains the set of online peer identifiers.
type Tracker struct {
	sess Session

	mu     sync.RWMutex
	online map[string]struct{}

	unsubs []func()
}

// NewTracker creates a tracker subscribed to the session's presence
// events. Dispose with Close.
func NewTracker(sess Session) *Tracker {
	t := &Tracker{
		sess:   sess,
		online: make(map[string]struct{}),
	}

	t.unsubs = append(t.unsubs,
		sess.On(wire.EventUserOnline, func(data json.RawMessage) {
			var p wire.PresencePayload
			if json.Unmarshal(data, &p) != nil || p.UserID == "" {
				return
			}
			t.mu.Lock()
			t.online[p.UserID] = struct{}{}
			t.mu.Unlock()
		}),
		sess.On(wire.EventUserOffline, func(data json.RawMessage) {
			var p wire.PresencePayload
			if json.Unmarshal(data, &p) != nil || p.UserID == "" {
				return
			}
			t.mu.Lock()
			delete(t.online, p.UserID)
			t.mu.Unlock()
		}),
		sess.OnConnectionChange(func(connected bool) {
			if connected {
				return
			}
			// Stale across a drop; Query re-seeds after reconnect.
			t.mu.Lock()
			t.online = make(map[string]struct{})
			t.mu.Unlock()
		}),
	)

	return t
}

// IsOnline reports whether the peer is currently known to be online.
func (t *Tracker) IsOnline(peerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[peerID]
	return ok
}

// Snapshot returns the peers currently known to be online.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	return ids
}

// Query asks the server which of the given peers are online. The answer
// arrives as one user:online push per online peer.
func (t *Tracker) Query(peerIDs []string) error {
	if len(peerIDs) == 0 {
		return nil
	}
	return t.sess.Emit(wire.EventUsersOnline, wire.OnlineQueryPayload(peerIDs))
}

// Close deregisters the tracker's event handlers.
func (t *Tracker) Close() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
}
