package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundspace/realtime/internal/api"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages/conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"otherUser": {"id": "alice", "username": "Alice", "avatarUrl": "https://cdn/a.png"},
				"lastMessage": {"id": "m-1", "senderId": "alice", "recipientId": "me", "message": "hey", "messageType": "text", "createdAt": "2026-08-20T10:00:00Z"},
				"unreadCount": 2
			},
			{
				"otherUser": {"id": "bob", "username": "Bob"},
				"lastMessage": {"id": "m-2", "senderId": "me", "recipientId": "bob", "message": "yo", "messageType": "text", "createdAt": "2026-08-19T09:00:00Z"},
				"unreadCount": 0
			}
		]`))
	})
	mux.HandleFunc("GET /api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "carol" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "carol", "username": "Carol", "avatarUrl": "https://cdn/c.png"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClient_Conversations(t *testing.T) {
	server := newAPIServer(t)
	client := api.New(server.URL, "token-1")

	convs, err := client.Conversations(context.Background())
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].Peer.Username != "Alice" || convs[0].UnreadCount != 2 {
		t.Errorf("unexpected first conversation %+v", convs[0])
	}
	if convs[0].LastMessage.Message != "hey" {
		t.Errorf("expected last message %q, got %q", "hey", convs[0].LastMessage.Message)
	}
}

func TestClient_Conversations_Unauthorized(t *testing.T) {
	server := newAPIServer(t)
	client := api.New(server.URL, "wrong-token")

	if _, err := client.Conversations(context.Background()); err == nil {
		t.Fatal("expected error for rejected credential, got nil")
	}
}

func TestClient_Profile(t *testing.T) {
	server := newAPIServer(t)
	client := api.New(server.URL, "token-1")

	peer, err := client.Profile(context.Background(), "carol")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if peer.ID != "carol" || peer.Username != "Carol" {
		t.Errorf("unexpected peer %+v", peer)
	}

	if _, err := client.Profile(context.Background(), "nobody"); err == nil {
		t.Fatal("expected error for unknown user, got nil")
	}
}
