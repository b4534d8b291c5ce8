// Package wire defines the event protocol spoken with the messaging server.
// Every frame on the transport is a JSON Envelope: an event name plus an
// event-specific payload.
package wire

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Event names, client to server.
const (
	EventMessageSend      = "message:send"
	EventMessageRead      = "message:read"
	EventConversationRead = "conversation:read"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventUsersOnline      = "users:online"
)

// Event names, server to client.
const (
	EventMessageSent    = "message:sent"
	EventMessageError   = "message:error"
	EventMessageReceive = "message:receive"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventUnreadUpdate   = "unread:update"
	EventServerShutdown = "server:shutdown"
)

// Envelope is the frame format for all events in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload under an event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Encode encodes the envelope into bytes.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode decodes bytes into the envelope.
func (e *Envelope) Decode(data []byte) error {
	if err := json.Unmarshal(data, e); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if e.Event == "" {
		return fmt.Errorf("envelope has no event name")
	}
	return nil
}

// Payload unmarshals the envelope data into v.
func (e *Envelope) Payload(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: envelope has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Message is a chat message as the server represents it. ID is assigned by
// the server and immutable once confirmed.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Message     string    `json:"message"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SendPayload requests delivery of a message. TempID is the client-generated
// correlation token echoed back in the ack or nack.
type SendPayload struct {
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
	TempID      string `json:"tempId"`
}

// SentPayload acknowledges a specific send.
type SentPayload struct {
	TempID  string  `json:"tempId"`
	Message Message `json:"message"`
}

// ErrorPayload rejects a specific send.
type ErrorPayload struct {
	TempID string `json:"tempId"`
	Error  string `json:"error"`
}

// ReceivePayload carries an inbound message push.
type ReceivePayload struct {
	Message Message `json:"message"`
}

// ReadPayload acknowledges reading of a single message.
type ReadPayload struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// ConversationReadPayload signals bulk read-mark intent for one peer.
type ConversationReadPayload struct {
	OtherUserID string `json:"otherUserId"`
}

// TypingPayload is the outbound typing signal.
type TypingPayload struct {
	RecipientID string `json:"recipientId"`
}

// TypingUserPayload is the inbound typing signal.
type TypingUserPayload struct {
	UserID string `json:"userId"`
}

// OnlineQueryPayload asks which of the given users are online. The server
// answers with one user:online push per online member.
type OnlineQueryPayload []string

// PresencePayload carries a presence push.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// UnreadPayload carries the authoritative total unread count.
type UnreadPayload struct {
	Count int `json:"count"`
}

// ShutdownPayload is an advisory notice before the server goes away.
type ShutdownPayload struct {
	Message string `json:"message"`
}
