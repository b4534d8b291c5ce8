package conversation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/soundspace/realtime/internal/conversation"
	"github.com/soundspace/realtime/pkg/wire"
)

type fakeSource struct {
	items []conversation.Conversation
	err   error
	calls int
}

func (f *fakeSource) Conversations(context.Context) ([]conversation.Conversation, error) {
	f.calls++
	return f.items, f.err
}

type fakeProfiles struct {
	peers map[string]conversation.Peer
	err   error
}

func (f *fakeProfiles) Profile(_ context.Context, userID string) (conversation.Peer, error) {
	if f.err != nil {
		return conversation.Peer{}, f.err
	}
	p, ok := f.peers[userID]
	if !ok {
		return conversation.Peer{}, errors.New("unknown user")
	}
	return p, nil
}

func inbound(id, from, body string) wire.Message {
	return wire.Message{
		ID:          id,
		SenderID:    from,
		RecipientID: "me",
		Message:     body,
		MessageType: "text",
		CreatedAt:   time.Now(),
	}
}

func outbound(id, to, body string) wire.Message {
	return wire.Message{
		ID:          id,
		SenderID:    "me",
		RecipientID: to,
		Message:     body,
		MessageType: "text",
		CreatedAt:   time.Now(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func seededList(t *testing.T, src *fakeSource, profiles conversation.Profiles) *conversation.List {
	t.Helper()
	list := conversation.NewList("me", src, profiles, zerolog.Nop())
	if err := list.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return list
}

func TestList_LoadOnce(t *testing.T) {
	src := &fakeSource{items: []conversation.Conversation{
		{Peer: conversation.Peer{ID: "alice"}, LastMessage: inbound("m-1", "alice", "hi")},
		{Peer: conversation.Peer{ID: "bob"}, LastMessage: outbound("m-2", "bob", "yo"), UnreadCount: 0},
	}}
	list := seededList(t, src, nil)

	if err := list.Load(context.Background()); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if src.calls != 1 {
		t.Errorf("expected a single authoritative fetch, got %d", src.calls)
	}

	convs := list.Conversations()
	if len(convs) != 2 || convs[0].Peer.ID != "alice" || convs[1].Peer.ID != "bob" {
		t.Errorf("unexpected list %+v", convs)
	}
}

func TestList_LoadFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("api down")}
	list := conversation.NewList("me", src, nil, zerolog.Nop())

	if err := list.Load(context.Background()); err == nil {
		t.Fatal("expected Load error, got nil")
	}
	if list.Loaded() {
		t.Error("expected list to stay unloaded after a failed fetch")
	}
}

func TestList_MergeInbound_ExistingConversation(t *testing.T) {
	src := &fakeSource{items: []conversation.Conversation{
		{Peer: conversation.Peer{ID: "alice", Username: "Alice"}},
		{Peer: conversation.Peer{ID: "bob", Username: "Bob"}},
	}}
	list := seededList(t, src, nil)

	list.MergeIncoming(context.Background(), inbound("m-3", "bob", "hello"))

	convs := list.Conversations()
	if convs[0].Peer.ID != "bob" {
		t.Fatalf("expected bob at index 0, got %q", convs[0].Peer.ID)
	}
	if convs[0].LastMessage.Message != "hello" {
		t.Errorf("expected last message %q, got %q", "hello", convs[0].LastMessage.Message)
	}
	if convs[0].UnreadCount != 1 {
		t.Errorf("expected unread 1, got %d", convs[0].UnreadCount)
	}
	if convs[0].Peer.Username != "Bob" {
		t.Error("expected the existing peer snapshot to be kept")
	}
}

func TestList_MergeOutbound_NeverIncrementsUnread(t *testing.T) {
	src := &fakeSource{items: []conversation.Conversation{
		{Peer: conversation.Peer{ID: "bob"}},
	}}
	list := seededList(t, src, nil)

	list.MergeIncoming(context.Background(), outbound("m-4", "bob", "sent by me"))

	convs := list.Conversations()
	if convs[0].UnreadCount != 0 {
		t.Errorf("expected unread 0 for outbound message, got %d", convs[0].UnreadCount)
	}
	if convs[0].LastMessage.Message != "sent by me" {
		t.Errorf("expected outbound message as last message, got %q", convs[0].LastMessage.Message)
	}
}

func TestList_MergeInbound_OpenConversationStaysRead(t *testing.T) {
	src := &fakeSource{items: []conversation.Conversation{
		{Peer: conversation.Peer{ID: "bob"}},
	}}
	list := seededList(t, src, nil)
	list.SetOpen("bob")

	list.MergeIncoming(context.Background(), inbound("m-5", "bob", "on screen"))

	if got := list.Conversations()[0].UnreadCount; got != 0 {
		t.Errorf("expected open conversation to stay at 0 unread, got %d", got)
	}

	list.SetOpen("")
	list.MergeIncoming(context.Background(), inbound("m-6", "bob", "off screen"))
	if got := list.Conversations()[0].UnreadCount; got != 1 {
		t.Errorf("expected unread 1 after closing, got %d", got)
	}
}

func TestList_MergeSynthesizesUnknownPeer(t *testing.T) {
	src := &fakeSource{}
	profiles := &fakeProfiles{peers: map[string]conversation.Peer{
		"carol": {ID: "carol", Username: "Carol", AvatarURL: "https://cdn/avatar.png"},
	}}
	list := seededList(t, src, profiles)

	list.MergeIncoming(context.Background(), inbound("m-7", "carol", "first contact"))

	convs := list.Conversations()
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].UnreadCount != 1 {
		t.Errorf("expected synthesized inbound conversation at unread 1, got %d", convs[0].UnreadCount)
	}
	waitFor(t, "profile enrichment", func() bool {
		return list.Conversations()[0].Peer.Username == "Carol"
	})

	list.MergeIncoming(context.Background(), outbound("m-8", "dave", "reaching out"))
	convs = list.Conversations()
	if convs[0].Peer.ID != "dave" || convs[0].UnreadCount != 0 {
		t.Errorf("expected synthesized outbound conversation at unread 0, got %+v", convs[0])
	}
}

func TestList_MergeProfileFailureDegrades(t *testing.T) {
	src := &fakeSource{}
	list := seededList(t, src, &fakeProfiles{err: errors.New("api down")})

	list.MergeIncoming(context.Background(), inbound("m-9", "eve", "hello"))

	time.Sleep(20 * time.Millisecond)
	convs := list.Conversations()
	if len(convs) != 1 || convs[0].Peer.ID != "eve" || convs[0].Peer.Username != "" {
		t.Errorf("expected bare identifier snapshot, got %+v", convs)
	}
}

// stalledProfiles blocks every fetch until released.
type stalledProfiles struct {
	release chan struct{}
}

func (s *stalledProfiles) Profile(_ context.Context, userID string) (conversation.Peer, error) {
	<-s.release
	return conversation.Peer{ID: userID, Username: "Late " + userID}, nil
}

func TestList_MergeDoesNotBlockOnProfileFetch(t *testing.T) {
	profiles := &stalledProfiles{release: make(chan struct{})}
	list := seededList(t, &fakeSource{}, profiles)

	done := make(chan struct{})
	go func() {
		list.MergeIncoming(context.Background(), inbound("m-12", "frank", "hello"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("MergeIncoming blocked on the profile fetch")
	}

	// The conversation is visible with a bare snapshot before the fetch
	// completes.
	convs := list.Conversations()
	if len(convs) != 1 || convs[0].Peer.ID != "frank" || convs[0].Peer.Username != "" {
		t.Fatalf("expected bare conversation before enrichment, got %+v", convs)
	}
	if convs[0].UnreadCount != 1 {
		t.Errorf("expected unread 1, got %d", convs[0].UnreadCount)
	}

	close(profiles.release)
	waitFor(t, "profile enrichment", func() bool {
		return list.Conversations()[0].Peer.Username == "Late frank"
	})
}

func TestList_LastMergeWins(t *testing.T) {
	src := &fakeSource{items: []conversation.Conversation{
		{Peer: conversation.Peer{ID: "bob"}},
	}}
	list := seededList(t, src, nil)

	list.MergeIncoming(context.Background(), inbound("m-10", "bob", "first"))
	list.MergeIncoming(context.Background(), inbound("m-11", "bob", "second"))

	convs := list.Conversations()
	if len(convs) != 1 {
		t.Fatalf("expected a single conversation for bob, got %d", len(convs))
	}
	if convs[0].LastMessage.Message != "second" {
		t.Errorf("expected later merge to win, got %q", convs[0].LastMessage.Message)
	}
	if convs[0].UnreadCount != 2 {
		t.Errorf("expected unread 2, got %d", convs[0].UnreadCount)
	}
}

func TestList_OrderingInvariant(t *testing.T) {
	src := &fakeSource{items: []conversation.Conversation{
		{Peer: conversation.Peer{ID: "alice"}},
		{Peer: conversation.Peer{ID: "bob"}},
		{Peer: conversation.Peer{ID: "carol"}},
	}}
	list := seededList(t, src, nil)

	touches := []wire.Message{
		inbound("m-1", "carol", "a"),
		outbound("m-2", "alice", "b"),
		inbound("m-3", "bob", "c"),
		inbound("m-4", "carol", "d"),
	}
	for _, msg := range touches {
		list.MergeIncoming(context.Background(), msg)
	}

	got := list.Conversations()
	want := []string{"carol", "bob", "alice"}
	for i, id := range want {
		if got[i].Peer.ID != id {
			t.Fatalf("expected order %v, got %+v", want, got)
		}
	}
}

func TestList_ResetUnread(t *testing.T) {
	src := &fakeSource{items: []conversation.Conversation{
		{Peer: conversation.Peer{ID: "bob"}, UnreadCount: 3},
	}}
	list := seededList(t, src, nil)

	list.ResetUnread("bob")
	if got := list.Conversations()[0].UnreadCount; got != 0 {
		t.Errorf("expected unread 0 after reset, got %d", got)
	}

	// Resetting an unknown peer is a no-op.
	list.ResetUnread("nobody")
}
