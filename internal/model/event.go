package model

import (
	"time"
)

// EventType represents the type of turn event published to the audit stream.
type EventType string

const (
	EventTypeTurnRecorded   EventType = "turn_recorded"
	EventTypeSessionErrored EventType = "session_errored"
	EventTypeSessionDone    EventType = "session_completed"
)

// TurnEvent is an audit record of something that happened in a conversation.
type TurnEvent struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
