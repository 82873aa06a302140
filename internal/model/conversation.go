// Package model defines data structures for the prompt engine.
package model

import (
	"time"
)

// Language is an ISO-639-1 language code.
type Language string

// PivotLanguage is the internal language every component operates in.
const PivotLanguage Language = "en"

// InputType is the modality of an inbound message.
type InputType string

const (
	InputTypeText  InputType = "Text"
	InputTypeAudio InputType = "Audio"
)

// MediaCategoryAudio is the only media category the engine can transcribe.
const MediaCategoryAudio = "base64audio"

// Media describes a non-text payload attached to a message.
type Media struct {
	Category string `json:"category" validate:"required"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
}

// PromptRequest is the inbound request body of POST /prompt.
type PromptRequest struct {
	Type           InputType `json:"type" validate:"required,oneof=Text Audio"`
	Text           string    `json:"text" validate:"required_without=Media"`
	UserID         string    `json:"userId" validate:"required,uuid"`
	InputLanguage  string    `json:"inputLanguage,omitempty"`
	Media          *Media    `json:"media,omitempty" validate:"omitempty"`
	AppID          string    `json:"appId,omitempty"`
	Channel        string    `json:"channel,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	MessageID      string    `json:"messageId,omitempty" validate:"omitempty,uuid"`
	ConversationID string    `json:"conversationId,omitempty" validate:"omitempty,uuid"`
	Context        string    `json:"context,omitempty"`
	Identifier     string    `json:"identifier,omitempty"`
}

// PromptResponse is the response body of POST /prompt.
type PromptResponse struct {
	Text  *string `json:"text"`
	Error *string `json:"error"`
}

// UnsupportedMediaResponse is returned for media the engine cannot handle.
type UnsupportedMediaResponse struct {
	Text         string `json:"text"`
	Media        *Media `json:"media"`
	MediaCaption string `json:"mediaCaption"`
	Error        string `json:"error"`
}

// Prompt is the per-request working state of a turn. PivotText is always
// populated before any downstream component sees the prompt.
type Prompt struct {
	Input         *PromptRequest
	InputType     InputType
	InputText     string
	InputLanguage Language
	PivotText     string
	StartedAt     time.Time
}

// IsPivot reports whether the prompt arrived in the pivot language.
func (p *Prompt) IsPivot() bool {
	return p.InputLanguage == PivotLanguage
}

// TextResponse builds a successful PromptResponse.
func TextResponse(text string) *PromptResponse {
	return &PromptResponse{Text: &text}
}

// ErrorResponse builds a failed PromptResponse.
func ErrorResponse(message string) *PromptResponse {
	return &PromptResponse{Error: &message}
}
