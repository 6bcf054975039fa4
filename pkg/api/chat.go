package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	Id          uuid.UUID  `json:"id"`
	UserId      string     `json:"userId"`
	DiagnosisId *uuid.UUID `json:"diagnosisId"`
	Diagnosis   *Diagnosis `json:"diagnosis,omitempty"`
	Title       string     `json:"title"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Message struct {
	Id             uuid.UUID       `json:"id"`
	ConversationId uuid.UUID       `json:"conversationId"`
	Role           string          `json:"role"` // "user" or "assistant"
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

type CreateConversationRequest struct {
	DiagnosisId *uuid.UUID `json:"diagnosisId"`
	Title       string     `json:"title"`
}

type ListConversationsParams struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type RenameConversationRequest struct {
	Title string `json:"title"`
}

type SendMessageRequest struct {
	ConversationId uuid.UUID `json:"conversationId"`
	Content        string    `json:"content"`
}

type SendMessageResponse struct {
	UserMessage Message `json:"userMessage"`
	AiMessage   Message `json:"aiMessage"`
}
