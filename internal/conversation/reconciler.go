package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/soundspace/realtime/pkg/wire"
)

// List reconciles the authoritative conversation list with live events.
// It is loaded lazily once, then mutated in place: every merged message
// moves its conversation to the front, so the order stays
// most-recently-active-first.
type List struct {
	selfID   string
	src      Source
	profiles Profiles
	log      zerolog.Logger

	mu     sync.Mutex
	loaded bool
	items  []*Conversation
	open   string
}

// NewList creates an empty, not yet loaded list for the given current
// user.
func NewList(selfID string, src Source, profiles Profiles, logger zerolog.Logger) *List {
	return &List{
		selfID:   selfID,
		src:      src,
		profiles: profiles,
		log:      logger.With().Str("component", "conversations").Logger(),
	}
}

// Load fetches the authoritative list. The first successful call wins;
// later calls are no-ops, live events keep the list current from then on.
func (l *List) Load(ctx context.Context) error {
	l.mu.Lock()
	if l.loaded {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	fetched, err := l.src.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}
	l.items = make([]*Conversation, len(fetched))
	for i := range fetched {
		c := fetched[i]
		l.items[i] = &c
	}
	l.loaded = true
	return nil
}

// Loaded reports whether the authoritative fetch has happened.
func (l *List) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// SetOpen records which conversation is on screen; inbound messages for
// the open conversation do not increment its unread count. Pass "" when
// no conversation is open.
func (l *List) SetOpen(peerID string) {
	l.mu.Lock()
	l.open = peerID
	l.mu.Unlock()
}

// Open returns the peer of the currently open conversation, or "".
func (l *List) Open() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// MergeIncoming folds one message, inbound or outbound-confirmed, into
// the list. The conversation keyed by the other participant gets the
// message as its last message and moves to the front; a peer not in the
// list yet gets a synthesized conversation. When two merges race for the
// same peer, the later call wins: the list holds only the single most
// recent message per conversation.
func (l *List) MergeIncoming(ctx context.Context, msg wire.Message) {
	peerID := msg.RecipientID
	inbound := msg.SenderID != l.selfID
	if inbound {
		peerID = msg.SenderID
	}
	if peerID == "" {
		return
	}

	l.mu.Lock()
	countsAsUnread := inbound && l.open != peerID
	for i, c := range l.items {
		if c.Peer.ID != peerID {
			continue
		}
		c.LastMessage = msg
		if countsAsUnread {
			c.UnreadCount++
		}
		l.items = append(l.items[:i], l.items[i+1:]...)
		l.items = append([]*Conversation{c}, l.items...)
		l.mu.Unlock()
		return
	}

	// First message with this peer: synthesize the conversation with a
	// bare identifier snapshot right away. The profile fetch runs on its
	// own goroutine; merges are called from the read loop and must not
	// block on the REST API.
	unread := 0
	if countsAsUnread {
		unread = 1
	}
	l.items = append([]*Conversation{{
		Peer:        Peer{ID: peerID},
		LastMessage: msg,
		UnreadCount: unread,
	}}, l.items...)
	l.mu.Unlock()

	if l.profiles != nil {
		go l.enrich(ctx, peerID)
	}
}

// enrich replaces a synthesized conversation's bare peer snapshot with
// the fetched profile. A fetch failure leaves the bare snapshot in place.
func (l *List) enrich(ctx context.Context, peerID string) {
	p, err := l.profiles.Profile(ctx, peerID)
	if err != nil {
		l.log.Warn().Err(err).Str("peer", peerID).Msg("profile fetch failed, keeping bare snapshot")
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.items {
		if c.Peer.ID == peerID {
			c.Peer = p
			return
		}
	}
}

// ResetUnread zeroes the unread count for one peer. This is the only way
// a count decreases; it maps to the explicit "mark read" action.
func (l *List) ResetUnread(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.items {
		if c.Peer.ID == peerID {
			c.UnreadCount = 0
			return
		}
	}
}

// Conversations returns an ordered snapshot of the list.
func (l *List) Conversations() []Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Conversation, len(l.items))
	for i, c := range l.items {
		out[i] = *c
	}
	return out
}
