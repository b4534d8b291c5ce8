// Package messenger composes the realtime subsystem into one session-scoped
// object: a live session, presence tracking, the message exchange, the
// conversation list, and the unread badge, wired together behind the surface
// a UI consumes.
package messenger

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/soundspace/realtime/internal/api"
	"github.com/soundspace/realtime/internal/conversation"
	"github.com/soundspace/realtime/internal/exchange"
	"github.com/soundspace/realtime/internal/presence"
	"github.com/soundspace/realtime/internal/session"
	"github.com/soundspace/realtime/internal/transport"
	"github.com/soundspace/realtime/pkg/wire"
)

// Config carries everything a Messenger needs. Zero values for the nested
// configs fall back to their package defaults.
type Config struct {
	// ServerURL is the ws:// or wss:// realtime endpoint.
	ServerURL string
	// APIURL is the http:// or https:// REST base, also used for the
	// long-polling fallback transport.
	APIURL string
	// Credential authenticates both transports and the REST reads.
	Credential string
	// UserID identifies the current user; messages they sent are
	// recognized by it.
	UserID string

	Session  session.Config
	Exchange exchange.Config
}

// Messenger is the UI-facing entry point. It holds no global state; each
// authenticated session constructs its own and disposes it with Close.
type Messenger struct {
	log        zerolog.Logger
	credential string

	session  *session.Session
	presence *presence.Tracker
	exchange *exchange.Exchange
	list     *conversation.List
	counter  *conversation.Counter

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// New wires the subsystem together. Nothing connects until Connect.
func New(cfg Config, logger zerolog.Logger) *Messenger {
	dialer := &transport.FallbackDialer{
		Primary:  &transport.WebSocketDialer{URL: cfg.ServerURL},
		Fallback: &transport.PollingDialer{URL: cfg.APIURL},
	}
	sess := session.New(cfg.Session, dialer, logger)
	rest := api.New(cfg.APIURL, cfg.Credential)

	m := &Messenger{
		log:        logger,
		credential: cfg.Credential,
		session:    sess,
		presence:   presence.NewTracker(sess),
		exchange:   exchange.New(sess, cfg.Exchange, logger),
		list:       conversation.NewList(cfg.UserID, rest, rest, logger),
		counter:    conversation.NewCounter(sess),
	}

	// Inbound messages reshape the conversation list as they arrive.
	m.unsubs = append(m.unsubs, m.exchange.OnMessage(func(msg wire.Message) {
		m.list.MergeIncoming(context.Background(), msg)
	}))
	// After a reconnect the presence set was cleared; reseed it from the
	// peers currently on screen.
	m.unsubs = append(m.unsubs, sess.OnConnectionChange(func(connected bool) {
		if !connected || !m.list.Loaded() {
			return
		}
		peers := make([]string, 0)
		for _, c := range m.list.Conversations() {
			peers = append(peers, c.Peer.ID)
		}
		if err := m.presence.Query(peers); err != nil {
			m.log.Warn().Err(err).Msg("presence reseed failed")
		}
	}))

	return m
}

// Connect establishes the session. It returns immediately; connectivity is
// observed through OnConnectionChange.
func (m *Messenger) Connect(ctx context.Context) {
	m.session.Connect(ctx, m.credential)
}

// Connected reports whether a live session exists right now.
func (m *Messenger) Connected() bool {
	return m.session.Connected()
}

// OnConnectionChange registers fn for connectivity transitions.
func (m *Messenger) OnConnectionChange(fn func(connected bool)) func() {
	return m.session.OnConnectionChange(fn)
}

// OnServerShutdown registers fn for the server's shutdown advisory. The
// session handles the reconnect cycle on its own; this is informational.
func (m *Messenger) OnServerShutdown(fn func(message string)) func() {
	return m.session.On(wire.EventServerShutdown, func(data json.RawMessage) {
		var p wire.ShutdownPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		fn(p.Message)
	})
}

// Send submits a direct message and blocks until the exchange resolves it.
// A confirmed message is folded into the conversation list before it is
// returned, so the sender's own list stays current without an echo.
func (m *Messenger) Send(ctx context.Context, recipientID, body string) (wire.Message, error) {
	msg, err := m.exchange.Send(ctx, recipientID, body, "")
	if err != nil {
		return wire.Message{}, err
	}
	// Detach the merge from the send's deadline: profile enrichment for a
	// new peer may outlive the caller's context.
	m.list.MergeIncoming(context.WithoutCancel(ctx), msg)
	return msg, nil
}

// OnMessage registers fn for inbound direct messages.
func (m *Messenger) OnMessage(fn func(wire.Message)) func() {
	return m.exchange.OnMessage(fn)
}

// OnTypingStart and OnTypingStop expose the peer typing signals.
func (m *Messenger) OnTypingStart(fn func(peerID string)) func() {
	return m.exchange.OnTypingStart(fn)
}

func (m *Messenger) OnTypingStop(fn func(peerID string)) func() {
	return m.exchange.OnTypingStop(fn)
}

// Typing reports whether peerID is currently typing to us.
func (m *Messenger) Typing(peerID string) bool {
	return m.exchange.Typing(peerID)
}

// SendTypingStart and SendTypingStop emit fire-and-forget typing signals.
func (m *Messenger) SendTypingStart(recipientID string) error {
	return m.exchange.SendTypingStart(recipientID)
}

func (m *Messenger) SendTypingStop(recipientID string) error {
	return m.exchange.SendTypingStop(recipientID)
}

// Conversations returns the ordered conversation list, fetching the
// authoritative copy on first use.
func (m *Messenger) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	if err := m.list.Load(ctx); err != nil {
		return nil, err
	}
	return m.list.Conversations(), nil
}

// OpenConversation marks the conversation with peerID as the one on
// screen: its unread count resets locally and the server is told to mark
// the whole thread read.
func (m *Messenger) OpenConversation(peerID string) error {
	m.list.SetOpen(peerID)
	m.list.ResetUnread(peerID)
	return m.exchange.MarkConversationRead(peerID)
}

// CloseConversation clears the on-screen conversation; later inbound
// messages count as unread again.
func (m *Messenger) CloseConversation() {
	m.list.SetOpen("")
}

// MarkMessageRead reports one message as read to the server.
func (m *Messenger) MarkMessageRead(messageID, senderID string) error {
	return m.exchange.MarkMessageRead(messageID, senderID)
}

// Unread returns the server-pushed total unread count.
func (m *Messenger) Unread() int {
	return m.counter.Count()
}

// IsOnline reports last-known presence for peerID.
func (m *Messenger) IsOnline(peerID string) bool {
	return m.presence.IsOnline(peerID)
}

// OnlinePeers returns the current online set.
func (m *Messenger) OnlinePeers() []string {
	return m.presence.Snapshot()
}

// QueryPresence asks the server which of peerIDs are online.
func (m *Messenger) QueryPresence(peerIDs []string) error {
	return m.presence.Query(peerIDs)
}

// Close tears the session down and releases every handler the messenger
// and its parts installed. Safe to call more than once.
func (m *Messenger) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	m.exchange.Close()
	m.presence.Close()
	m.counter.Close()
	m.session.Disconnect()
}
