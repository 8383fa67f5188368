package chat

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Channel is the Postgres notification channel shared by every API process.
const Channel = "message_new"

// Event types carried on the notification channel.
const (
	EventMessageNew     = "message:new"
	EventMessageDeleted = "message:deleted"
	EventReactionUpdate = "reaction:update"
)

// MaxEmojiLen bounds the emoji field of reaction events.
const MaxEmojiLen = 16

// Event is an immutable fact about a messaging state change. Events are
// value objects: they carry no identity beyond their fields and are never
// persisted by the fan-out core.
type Event struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	Emoji          string `json:"emoji,omitempty"`
	Removed        bool   `json:"removed,omitempty"`
	At             int64  `json:"at"` // epoch milliseconds
}

// Encode serializes the event for the notification channel.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a raw notification payload. Extra fields are tolerated;
// an unknown type, a missing or non-positive conversationId or messageId, or
// an oversized emoji make the payload untrusted and return an error.
func DecodeEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("decode event payload: %w", err)
	}
	switch e.Type {
	case EventMessageNew, EventMessageDeleted, EventReactionUpdate:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.ConversationID < 1 {
		return Event{}, fmt.Errorf("invalid conversationId %d", e.ConversationID)
	}
	if e.MessageID < 1 {
		return Event{}, fmt.Errorf("invalid messageId %d", e.MessageID)
	}
	if utf8.RuneCountInString(e.Emoji) > MaxEmojiLen {
		return Event{}, fmt.Errorf("emoji exceeds %d characters", MaxEmojiLen)
	}
	return e, nil
}
