// Package exchange sends and receives chat messages over a session. An
// outbound send is correlated with its server acknowledgement through a
// client-generated token and resolves exactly once: with the confirmed
// message, with the server's rejection, or with a timeout.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/soundspace/realtime/internal/session"
	"github.com/soundspace/realtime/pkg/wire"
)

var (
	// ErrEmptyMessage is returned when the body is empty after trimming.
	ErrEmptyMessage = errors.New("message body is empty")
	// ErrSendTimeout is returned when no acknowledgement arrives in time.
	// Recoverable by re-submitting with a new correlation token.
	ErrSendTimeout = errors.New("no acknowledgement from server")
	// ErrTokenInFlight is returned when a correlation token is reused
	// while its first send is still unresolved.
	ErrTokenInFlight = errors.New("correlation token already in flight")
)

// Config holds the exchange tunables.
type Config struct {
	// AckTimeout bounds the wait for a send acknowledgement.
	AckTimeout time.Duration
	// TypingDecay clears a peer's typing state when the paired
	// typing:stop never arrives.
	TypingDecay time.Duration
}

func (c *Config) defaults() {
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.TypingDecay == 0 {
		c.TypingDecay = 6 * time.Second
	}
}

// Session is the subscription and emit surface the exchange needs.
type Session interface {
	On(event string, fn func(data json.RawMessage)) func()
	OnConnectionChange(fn func(connected bool)) func()
	Emit(event string, payload any) error
	Connected() bool
}

// NewToken returns a fresh correlation token for an optimistic message.
func NewToken() string {
	return uuid.NewString()
}

type outcome struct {
	msg wire.Message
	err error
}

// Exchange is the message send/receive surface of a session.
type Exchange struct {
	sess Session
	cfg  Config
	log  zerolog.Logger

	mu          sync.Mutex
	pending     map[string]chan outcome
	nextSub     int
	messages    map[int]func(wire.Message)
	typingStart map[int]func(peerID string)
	typingStop  map[int]func(peerID string)

	typing *typingTracker

	unsubs []func()
}

// New creates an Exchange subscribed to the session's message and typing
// events. Dispose with Close.
func New(sess Session, cfg Config, logger zerolog.Logger) *Exchange {
	cfg.defaults()
	e := &Exchange{
		sess:        sess,
		cfg:         cfg,
		log:         logger.With().Str("component", "exchange").Logger(),
		pending:     make(map[string]chan outcome),
		messages:    make(map[int]func(wire.Message)),
		typingStart: make(map[int]func(string)),
		typingStop:  make(map[int]func(string)),
	}
	e.typing = newTypingTracker(cfg.TypingDecay, e.notifyTypingStop)

	e.unsubs = append(e.unsubs,
		sess.On(wire.EventMessageSent, e.handleSent),
		sess.On(wire.EventMessageError, e.handleError),
		sess.On(wire.EventMessageReceive, e.handleReceive),
		sess.On(wire.EventTypingStart, e.handleTypingStart),
		sess.On(wire.EventTypingStop, e.handleTypingStop),
		sess.OnConnectionChange(func(connected bool) {
			if connected {
				return
			}
			// In-flight sends cannot resolve across a drop.
			e.failPending(session.ErrNotConnected)
			e.typing.clear()
		}),
	)

	return e
}

// Send delivers one message and waits for the server acknowledgement.
// tempID is the correlation token of the caller's optimistic message; pass
// "" to have one generated. Exactly one terminal outcome is produced per
// token: the confirmed message, the server's rejection, ErrSendTimeout, or
// the context error. On every error the caller owns the optimistic
// rollback.
func (e *Exchange) Send(ctx context.Context, recipientID, body, tempID string) (wire.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return wire.Message{}, ErrEmptyMessage
	}
	if !e.sess.Connected() {
		return wire.Message{}, session.ErrNotConnected
	}
	if tempID == "" {
		tempID = NewToken()
	}

	ch := make(chan outcome, 1)
	e.mu.Lock()
	if _, exists := e.pending[tempID]; exists {
		e.mu.Unlock()
		return wire.Message{}, ErrTokenInFlight
	}
	e.pending[tempID] = ch
	e.mu.Unlock()

	err := e.sess.Emit(wire.EventMessageSend, wire.SendPayload{
		RecipientID: recipientID,
		Message:     body,
		MessageType: "text",
		TempID:      tempID,
	})
	if err != nil {
		e.take(tempID)
		return wire.Message{}, err
	}

	timer := time.NewTimer(e.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.msg, out.err
	case <-timer.C:
		return e.settleLate(ch, tempID, ErrSendTimeout)
	case <-ctx.Done():
		return e.settleLate(ch, tempID, ctx.Err())
	}
}

// settleLate resolves a send whose wait ended before an acknowledgement
// was consumed. Taking the token succeeds only when no resolver has
// claimed it; otherwise the resolver's outcome is already in flight and
// wins, keeping resolution exactly-once.
func (e *Exchange) settleLate(ch chan outcome, tempID string, lateErr error) (wire.Message, error) {
	if _, ok := e.take(tempID); ok {
		return wire.Message{}, lateErr
	}
	out := <-ch
	return out.msg, out.err
}

// OnMessage registers a handler for inbound message pushes and returns
// its unsubscribe function.
func (e *Exchange) OnMessage(fn func(wire.Message)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.messages[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.messages, id)
	}
}

// OnTypingStart registers a handler for inbound typing:start signals.
func (e *Exchange) OnTypingStart(fn func(peerID string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.typingStart[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.typingStart, id)
	}
}

// OnTypingStop registers a handler for typing:stop signals, including the
// synthetic stop fired when a peer's typing state decays locally.
func (e *Exchange) OnTypingStop(fn func(peerID string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.typingStop[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.typingStop, id)
	}
}

// Typing reports whether the peer is currently typing.
func (e *Exchange) Typing(peerID string) bool {
	return e.typing.active(peerID)
}

// SendTypingStart signals that the current user started typing to the
// recipient. Fire-and-forget; no acknowledgement exists.
func (e *Exchange) SendTypingStart(recipientID string) error {
	return e.sess.Emit(wire.EventTypingStart, wire.TypingPayload{RecipientID: recipientID})
}

// SendTypingStop signals that the current user stopped typing.
func (e *Exchange) SendTypingStop(recipientID string) error {
	return e.sess.Emit(wire.EventTypingStop, wire.TypingPayload{RecipientID: recipientID})
}

// MarkConversationRead signals bulk read-mark intent for one peer. No
// response is awaited; the observable effect is a later unread:update
// push.
func (e *Exchange) MarkConversationRead(peerID string) error {
	return e.sess.Emit(wire.EventConversationRead, wire.ConversationReadPayload{OtherUserID: peerID})
}

// MarkMessageRead acknowledges reading of a single message.
func (e *Exchange) MarkMessageRead(messageID, senderID string) error {
	return e.sess.Emit(wire.EventMessageRead, wire.ReadPayload{MessageID: messageID, SenderID: senderID})
}

// Close deregisters all handlers and fails every in-flight send.
func (e *Exchange) Close() {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	e.failPending(session.ErrNotConnected)
	e.typing.close()
}

// take claims the pending entry for a token. At most one caller can
// succeed per token; this is what makes resolution exactly-once.
func (e *Exchange) take(tempID string) (chan outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.pending[tempID]
	if ok {
		delete(e.pending, tempID)
	}
	return ch, ok
}

func (e *Exchange) failPending(err error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]chan outcome)
	e.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: err}
	}
}

func (e *Exchange) handleSent(data json.RawMessage) {
	var p wire.SentPayload
	if json.Unmarshal(data, &p) != nil || p.TempID == "" {
		return
	}
	if ch, ok := e.take(p.TempID); ok {
		ch <- outcome{msg: p.Message}
		return
	}
	// Late ack after a timeout already resolved this token.
	e.log.Debug().Str("tempId", p.TempID).Msg("dropping unmatched ack")
}

func (e *Exchange) handleError(data json.RawMessage) {
	var p wire.ErrorPayload
	if json.Unmarshal(data, &p) != nil || p.TempID == "" {
		return
	}
	if ch, ok := e.take(p.TempID); ok {
		ch <- outcome{err: fmt.Errorf("server rejected message: %s", p.Error)}
	}
}

func (e *Exchange) handleReceive(data json.RawMessage) {
	var p wire.ReceivePayload
	if json.Unmarshal(data, &p) != nil {
		return
	}
	// A message from a peer supersedes their typing indicator.
	if e.typing.stop(p.Message.SenderID) {
		e.notifyTypingStop(p.Message.SenderID)
	}

	e.mu.Lock()
	handlers := make([]func(wire.Message), 0, len(e.messages))
	for _, fn := range e.messages {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(p.Message)
	}
}

func (e *Exchange) handleTypingStart(data json.RawMessage) {
	var p wire.TypingUserPayload
	if json.Unmarshal(data, &p) != nil || p.UserID == "" {
		return
	}
	e.typing.start(p.UserID)

	e.mu.Lock()
	handlers := make([]func(string), 0, len(e.typingStart))
	for _, fn := range e.typingStart {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(p.UserID)
	}
}

func (e *Exchange) handleTypingStop(data json.RawMessage) {
	var p wire.TypingUserPayload
	if json.Unmarshal(data, &p) != nil || p.UserID == "" {
		return
	}
	if !e.typing.stop(p.UserID) {
		// Unpaired or already decayed; out-of-order signals are expected.
		return
	}
	e.notifyTypingStop(p.UserID)
}

func (e *Exchange) notifyTypingStop(peerID string) {
	e.mu.Lock()
	handlers := make([]func(string), 0, len(e.typingStop))
	for _, fn := range e.typingStop {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(peerID)
	}
}
