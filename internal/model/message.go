package model

import (
	"encoding/json"
	"time"
)

// HistoryEntry is one completed turn. Entries are written once and never
// modified by the engine.
type HistoryEntry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`

	Query            string `json:"query"`
	QueryInPivot     string `json:"query_in_pivot"`
	Response         string `json:"response"`
	ResponseInPivot  string `json:"response_in_pivot"`
	CoreferencedText string `json:"coreferenced_prompt,omitempty"`

	ResponseTimeMs int64           `json:"response_time_ms"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`

	CacheHit      bool   `json:"cache_hit"`
	ReusedEntryID string `json:"reused_entry_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// LookupText is the text similarity comparisons run against: the
// coreferenced query when present, the pivot query otherwise.
func (e *HistoryEntry) LookupText() string {
	if e.CoreferencedText != "" {
		return e.CoreferencedText
	}
	return e.QueryInPivot
}

// SimilarityMatch is a prior entry scored against the current query.
type SimilarityMatch struct {
	Entry HistoryEntry `json:"entry"`
	Score float64      `json:"score"`
}

// ContextDocument is one retrieved supporting snippet.
type ContextDocument struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Tags    string  `json:"tags"`
	Score   float64 `json:"score,omitempty"`
}

// ContextLink associates a retrieved document with the turn it informed.
type ContextLink struct {
	QueryID    string  `json:"query_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Tags       string  `json:"tags"`
	Score      float64 `json:"score,omitempty"`
}

// OutboundMessage is the payload delivered to the transport webhook.
type OutboundMessage struct {
	Message   OutboundBody `json:"message"`
	To        string       `json:"to"`
	MessageID string       `json:"messageId"`
}

// OutboundBody is the rendered message content.
type OutboundBody struct {
	Title    string   `json:"title"`
	Choices  []string `json:"choices"`
	MediaURL *string  `json:"media_url"`
	Caption  *string  `json:"caption"`
	MsgType  string   `json:"msg_type"`
}

// NewTextMessage builds a plain text outbound message.
func NewTextMessage(text, to, messageID string) *OutboundMessage {
	return &OutboundMessage{
		Message: OutboundBody{
			Title:   text,
			Choices: []string{},
			MsgType: "text",
		},
		To:        to,
		MessageID: messageID,
	}
}
