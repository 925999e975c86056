// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines Conversation, Message, Attachment structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Role constants for message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Status constants for assistant messages
const (
	StatusComplete      = "complete"       // Stream finished normally
	StatusPartialFailed = "partial-failed" // Stream failed or was cancelled mid-way
)

// Attachment kind constants
const (
	KindImage = "image" // Inline data URI
	KindText  = "text"  // UTF-8 text inlined as-is
)

// Conversation is a durable, identified, ordered list of messages plus its
// own optional system prompt. Messages are append-only in chat order.
type Conversation struct {
	ID           string
	Summary      string // Cached short summary, may be empty
	SystemPrompt string // Per-conversation override, empty means global default
	Messages     []*Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message represents a single message within a conversation
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "assistant"
	Content        string // Markdown-flavored text
	Status         string // "complete" or "partial-failed" (assistant only)
	Attachments    []*Attachment
	CreatedAt      time.Time
}

// Attachment is a file payload owned by exactly one message.
// Content is self-contained: UTF-8 text for KindText, a data URI for KindImage.
type Attachment struct {
	ID        string
	MessageID string
	Name      string
	Kind      string // "image" or "text"
	Content   string
}

// Summary is the listing view of a conversation
type Summary struct {
	ID           string
	MessageCount int
	Summary      string
	UpdatedAt    time.Time
}

// ModelSettings holds the model parameters read fresh for every turn.
// Host is the base URL of an OpenAI-compatible endpoint.
type ModelSettings struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
	Model       string
	Host        string
	APIKey      string
}

// DefaultSettings returns the settings seeded into a fresh database
func DefaultSettings() *ModelSettings {
	return &ModelSettings{
		Temperature: 1.0,
		TopP:        0.95,
		MaxTokens:   4096,
		Model:       "meta-llama/Llama-3.2-1B-Instruct",
		Host:        "http://localhost:8000/v1",
		APIKey:      "",
	}
}

// Store defines the interface for conversation persistence.
//
// AppendMessage must be atomic per call and internally serialized per
// conversation id; calls for different conversations never block each other.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, id string) (string, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Summary, error)
	DeleteConversation(ctx context.Context, id string) error

	// Messages (append-only, attachments ride along in the same transaction)
	AppendMessage(ctx context.Context, conversationID string, msg *Message) error

	// System prompt per conversation (GetSystemPrompt falls back to the
	// global default when the conversation has none)
	SetSystemPrompt(ctx context.Context, conversationID, text string) error
	GetSystemPrompt(ctx context.Context, conversationID string) (string, error)

	// Cached conversation summary
	UpdateSummary(ctx context.Context, conversationID, summary string) error

	// Model settings (single row, seeded with defaults)
	GetSettings(ctx context.Context) (*ModelSettings, error)
	SaveSettings(ctx context.Context, s *ModelSettings) error

	// Close releases any resources held by the store
	Close() error
}
