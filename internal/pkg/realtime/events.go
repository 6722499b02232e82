// Package realtime implements the websocket gateway for chat: connection
// lifecycle, presence registration, thread rooms, typing relays and event
// fan-out. Events travel as JSON envelopes {event, data} in both directions.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound event names (client to server).
const (
	EventRegisterUser = "register_user"
	EventJoinChat     = "join_chat"
	EventTyping       = "typing"
	EventStopTyping   = "stop_typing"
)

// Outbound event names (server to client).
const (
	EventUserStatus        = "user_status"
	EventReceiveMessage    = "receive_message"
	EventIncomingMessage   = "incoming_message"
	EventMessagesDelivered = "messages_delivered"
	EventMessagesRead      = "messages_read"
	EventError             = "error"
)

// Envelope is the wire format for every event in both directions.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// inboundEnvelope defers payload decoding until the event name is known.
type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RegisterUserPayload announces the connection's user. The userId must match
// the authenticated user; mismatches are rejected.
type RegisterUserPayload struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}

// JoinChatPayload subscribes the connection to a thread room.
type JoinChatPayload struct {
	ThreadID int64 `json:"threadId" validate:"required,gt=0"`
}

// TypingPayload is relayed to the other members of a thread room.
type TypingPayload struct {
	ThreadID int64 `json:"threadId" validate:"required,gt=0"`
	UserID   int64 `json:"userId"`
}

// UserStatusPayload notifies presence changes.
type UserStatusPayload struct {
	UserID   int64      `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// MessagesDeliveredPayload reports a bulk sent-to-delivered transition.
type MessagesDeliveredPayload struct {
	ThreadID    int64 `json:"threadId"`
	RecipientID int64 `json:"recipientId"`
	Count       int64 `json:"count"`
}

// MessagesReadPayload reports a bulk transition to read.
type MessagesReadPayload struct {
	ThreadID int64     `json:"threadId"`
	ReadBy   int64     `json:"readBy"`
	Count    int64     `json:"count"`
	ReadAt   time.Time `json:"readAt"`
}

// ErrorPayload carries a gateway-level error to the client. The connection
// stays open.
type ErrorPayload struct {
	Message string `json:"message"`
}

var validate = validator.New()

// decodePayload unmarshals and validates an inbound event payload.
func decodePayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing event payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed event payload: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid event payload: %w", err)
	}
	return nil
}
