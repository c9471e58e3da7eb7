// Package realtime maintains the live event connection scoped to the
// authenticated session: a WebSocket channel carrying chat and notification
// events with JSON envelopes.
package realtime

import (
	"time"

	"github.com/sangamlink/client-go/internal/model"
)

// Event types emitted by the client.
const (
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSendMessage = "send_message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
	TypeMarkRead    = "mark_read"
)

// Event types delivered by the server. Typing events reuse the same names in
// both directions.
const (
	TypeNewMessage   = "new_message"
	TypeMessageError = "message_error"
	TypeNotification = "notification"
)

// Envelope contains the fields common to all events.
type Envelope struct {
	Type           string `json:"type"`
	Ts             int64  `json:"ts"`
	ConversationID string `json:"conversationId,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

func envelope(typ, conversationID, correlationID string) Envelope {
	return Envelope{
		Type:           typ,
		Ts:             time.Now().UnixMilli(),
		ConversationID: conversationID,
		CorrelationID:  correlationID,
	}
}

// SendMessageEvent is emitted to send a chat message. The correlation ID is
// client-generated and echoed back in the authoritative NewMessageEvent.
type SendMessageEvent struct {
	Envelope
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// NewMessageEvent delivers an authoritative message: either the echo of an
// own send (matched by correlation ID) or a message from the other
// participant.
type NewMessageEvent struct {
	Envelope
	Message model.Message `json:"message"`
}

// MessageErrorEvent reports a rejected send, correlated to the optimistic
// entry it invalidates.
type MessageErrorEvent struct {
	Envelope
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TypingEvent reports the other participant's typing edge.
type TypingEvent struct {
	Envelope
	UserID string `json:"userId"`
}

// NotificationEvent is the generic "you have unread activity" push used to
// refresh badge counts.
type NotificationEvent struct {
	Envelope
	Notification model.Notification `json:"notification"`
}
