// Package conversation keeps the conversation list (the most-recent-message
// view of each 1:1 thread) consistent with live events without re-fetching,
// and tracks the process-wide unread badge.
package conversation

import (
	"context"

	"github.com/soundspace/realtime/pkg/wire"
)

// Peer is the identity snapshot of the other participant, fed from
// profile fields of the REST API.
type Peer struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

// Conversation is the denormalized most-recent-message view between the
// current user and one peer.
type Conversation struct {
	Peer        Peer
	LastMessage wire.Message
	UnreadCount int
}

// Source provides the one-time authoritative conversation list.
type Source interface {
	Conversations(ctx context.Context) ([]Conversation, error)
}

// Profiles resolves identity snapshots for peers that are not in the
// list yet.
type Profiles interface {
	Profile(ctx context.Context, userID string) (Peer, error)
}

// Delivery is the state of an optimistic outbound message: exactly one of
// Pending, Confirmed, or Failed. Pending carries the correlation token
// displayed as the temporary identifier; a Pending message must become
// Confirmed or Failed within the send deadline, never stay Pending.
type Delivery interface {
	delivery()
}

// Pending is an optimistic message awaiting acknowledgement.
type Pending struct {
	TempID string
}

// Confirmed is a message acknowledged by the server.
type Confirmed struct {
	ID string
}

// Failed is a message whose send was rejected or timed out. The caller
// removes it or re-submits with a fresh token.
type Failed struct {
	TempID string
	Reason error
}

func (Pending) delivery()   {}
func (Confirmed) delivery() {}
func (Failed) delivery()    {}

// Outgoing is an optimistic message as the UI holds it between submission
// and the terminal outcome.
type Outgoing struct {
	Message  wire.Message
	Delivery Delivery
}

// Confirm returns the outgoing message reconciled with its confirmed
// counterpart: the server identifier replaces the correlation token.
func (o Outgoing) Confirm(confirmed wire.Message) Outgoing {
	return Outgoing{Message: confirmed, Delivery: Confirmed{ID: confirmed.ID}}
}

// Fail returns the outgoing message marked failed.
func (o Outgoing) Fail(reason error) Outgoing {
	tempID := ""
	if p, ok := o.Delivery.(Pending); ok {
		tempID = p.TempID
	}
	return Outgoing{Message: o.Message, Delivery: Failed{TempID: tempID, Reason: reason}}
}
