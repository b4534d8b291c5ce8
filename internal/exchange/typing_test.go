package exchange_test

import (
	"sync"
	"testing"
	"time"

	"github.com/soundspace/realtime/internal/exchange"
	"github.com/soundspace/realtime/pkg/wire"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestExchange_TypingStartStop(t *testing.T) {
	sess := newFakeSession()
	ex := newExchange(sess, exchange.Config{})
	defer ex.Close()

	var mu sync.Mutex
	var stops []string
	ex.OnTypingStop(func(peerID string) {
		mu.Lock()
		stops = append(stops, peerID)
		mu.Unlock()
	})

	sess.push(wire.EventTypingStart, wire.TypingUserPayload{UserID: "user-2"})
	if !ex.Typing("user-2") {
		t.Fatal("expected user-2 typing after typing:start")
	}

	sess.push(wire.EventTypingStop, wire.TypingUserPayload{UserID: "user-2"})
	if ex.Typing("user-2") {
		t.Error("expected user-2 not typing after typing:stop")
	}

	mu.Lock()
	n := len(stops)
	mu.Unlock()
	if n != 1 {
		t.Errorf("expected one stop notification, got %d", n)
	}

	// An unpaired stop is silently ignored.
	sess.push(wire.EventTypingStop, wire.TypingUserPayload{UserID: "user-2"})
	mu.Lock()
	n = len(stops)
	mu.Unlock()
	if n != 1 {
		t.Errorf("expected unpaired stop to be ignored, got %d notifications", n)
	}
}

func TestExchange_TypingDecays(t *testing.T) {
	sess := newFakeSession()
	ex := newExchange(sess, exchange.Config{TypingDecay: 30 * time.Millisecond})
	defer ex.Close()

	var mu sync.Mutex
	var stops []string
	ex.OnTypingStop(func(peerID string) {
		mu.Lock()
		stops = append(stops, peerID)
		mu.Unlock()
	})

	// The paired typing:stop never arrives; the local timer must clear
	// the state.
	sess.push(wire.EventTypingStart, wire.TypingUserPayload{UserID: "user-2"})
	if !ex.Typing("user-2") {
		t.Fatal("expected user-2 typing after typing:start")
	}

	waitFor(t, "typing decay", func() bool { return !ex.Typing("user-2") })

	waitFor(t, "decay notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stops) == 1 && stops[0] == "user-2"
	})
}

func TestExchange_TypingClearedByMessage(t *testing.T) {
	sess := newFakeSession()
	ex := newExchange(sess, exchange.Config{})
	defer ex.Close()

	sess.push(wire.EventTypingStart, wire.TypingUserPayload{UserID: "user-2"})
	sess.push(wire.EventMessageReceive, wire.ReceivePayload{
		Message: wire.Message{ID: "m-1", SenderID: "user-2", Message: "done typing"},
	})

	if ex.Typing("user-2") {
		t.Error("expected a delivered message to clear the typing state")
	}
}

func TestExchange_TypingClearedOnDisconnect(t *testing.T) {
	sess := newFakeSession()
	ex := newExchange(sess, exchange.Config{})
	defer ex.Close()

	sess.push(wire.EventTypingStart, wire.TypingUserPayload{UserID: "user-2"})
	sess.drop()

	if ex.Typing("user-2") {
		t.Error("expected typing state cleared on disconnect")
	}
}

func TestExchange_SendTypingSignals(t *testing.T) {
	sess := newFakeSession()
	ex := newExchange(sess, exchange.Config{})
	defer ex.Close()

	if err := ex.SendTypingStart("user-2"); err != nil {
		t.Fatalf("SendTypingStart() error = %v", err)
	}
	if err := ex.SendTypingStop("user-2"); err != nil {
		t.Fatalf("SendTypingStop() error = %v", err)
	}

	if len(sess.emits) != 2 {
		t.Fatalf("expected 2 emits, got %d", len(sess.emits))
	}
	if sess.emits[0].Event != wire.EventTypingStart || sess.emits[1].Event != wire.EventTypingStop {
		t.Errorf("unexpected emits %s, %s", sess.emits[0].Event, sess.emits[1].Event)
	}

	var p wire.TypingPayload
	if err := sess.emits[0].Payload(&p); err != nil || p.RecipientID != "user-2" {
		t.Errorf("unexpected typing payload %+v (err %v)", p, err)
	}
}
