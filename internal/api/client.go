// Package api is the REST-side collaborator of the realtime subsystem.
// It covers exactly the two read paths the conversation reconciler needs:
// the authoritative conversation list and peer profile snapshots.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/soundspace/realtime/internal/conversation"
	"github.com/soundspace/realtime/pkg/wire"
)

// Client talks to the platform REST API with a bearer credential.
// It implements conversation.Source and conversation.Profiles.
type Client struct {
	http *resty.Client
}

// New creates a Client rooted at baseURL. The credential is attached to
// every request; the API rejects unauthenticated reads.
func New(baseURL, credential string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(credential).
		SetTimeout(15 * time.Second).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	return &Client{http: rc}
}

// conversationDTO mirrors the REST representation, which nests the peer
// under "otherUser" rather than the flat shape the reconciler keeps.
type conversationDTO struct {
	OtherUser   conversation.Peer `json:"otherUser"`
	LastMessage wire.Message      `json:"lastMessage"`
	UnreadCount int               `json:"unreadCount"`
}

// Conversations fetches the caller's conversation list, newest first.
func (c *Client) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	var dtos []conversationDTO
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&dtos).
		Get("/api/messages/conversations")
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch conversations: %s", resp.Status())
	}

	items := make([]conversation.Conversation, 0, len(dtos))
	for _, dto := range dtos {
		items = append(items, conversation.Conversation{
			Peer:        dto.OtherUser,
			LastMessage: dto.LastMessage,
			UnreadCount: dto.UnreadCount,
		})
	}
	return items, nil
}

// Profile fetches the public profile snapshot for userID.
func (c *Client) Profile(ctx context.Context, userID string) (conversation.Peer, error) {
	var peer conversation.Peer
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&peer).
		SetPathParam("id", userID).
		Get("/api/users/{id}")
	if err != nil {
		return conversation.Peer{}, fmt.Errorf("fetch profile %s: %w", userID, err)
	}
	if resp.IsError() {
		return conversation.Peer{}, fmt.Errorf("fetch profile %s: %s", userID, resp.Status())
	}
	return peer, nil
}
