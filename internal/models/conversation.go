package models

import (
	"errors"
	"time"
)

// ErrConversationNotFound is returned by the conversation store when a
// conversation does not exist or is not owned by the requesting user.
var ErrConversationNotFound = errors.New("models: conversation not found")

// Conversation is a user-owned thread of chat messages. The title is derived
// from the first message at creation time and never rewritten afterwards;
// only UpdatedAt moves as messages are appended.
type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"userId"`
	Title     string    `bson:"title" json:"title"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Message is a single entry in a conversation. Role is one of "system",
// "user" or "assistant"; system entries are synthesized server-side and
// never accepted from callers.
type Message struct {
	ID             string         `bson:"_id" json:"id"`
	ConversationID string         `bson:"conversation_id" json:"conversationId"`
	Role           string         `bson:"role" json:"role"`
	Content        string         `bson:"content" json:"content"`
	Metadata       map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt      time.Time      `bson:"created_at" json:"createdAt"`
}

// Page describes a pagination request.
type Page struct {
	Number int
	Limit  int
}

// Normalize clamps a page request to usable values.
func (p Page) Normalize() Page {
	if p.Number <= 0 {
		p.Number = 1
	}
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	return p
}

// ConversationPage is one page of a user's conversations.
type ConversationPage struct {
	Items []Conversation `json:"items"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
}

// MessagePage is one page of a conversation's messages.
type MessagePage struct {
	Items []Message `json:"items"`
	Total int64     `json:"total"`
	Page  int       `json:"page"`
}
