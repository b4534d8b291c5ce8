package exchange

import (
	"sync"
	"time"
)

// typingTracker keeps a decaying boolean per peer. typing:start arms a
// timer; the paired typing:stop disarms it. When the stop never arrives
// (peer crashed mid-type), the timer fires and the state decays locally
// so the UI never shows "typing" forever.
type typingTracker struct {
	decay   time.Duration
	onDecay func(peerID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newTypingTracker(decay time.Duration, onDecay func(peerID string)) *typingTracker {
	return &typingTracker{
		decay:   decay,
		onDecay: onDecay,
		timers:  make(map[string]*time.Timer),
	}
}

func (t *typingTracker) start(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if timer, ok := t.timers[peerID]; ok {
		timer.Reset(t.decay)
		return
	}
	t.timers[peerID] = time.AfterFunc(t.decay, func() {
		if t.expire(peerID) {
			t.onDecay(peerID)
		}
	})
}

// stop disarms the peer's typing state. Reports whether the peer was
// typing; an unpaired stop is not an error, just out-of-order delivery.
func (t *typingTracker) stop(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[peerID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, peerID)
	return true
}

func (t *typingTracker) active(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[peerID]
	return ok
}

func (t *typingTracker) expire(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if _, ok := t.timers[peerID]; !ok {
		return false
	}
	delete(t.timers, peerID)
	return true
}

func (t *typingTracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *typingTracker) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.clear()
}
