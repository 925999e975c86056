// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage faults

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
// AppendErr and other fault fields let tests simulate storage failures.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	settings      ModelSettings
	defaultPrompt string

	// Fault injection for tests
	AppendErr error // returned by AppendMessage when set
	CreateErr error // returned by CreateConversation when set
}

// NewMockStore creates a new MockStore.
func NewMockStore(defaultPrompt string) *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		settings:      *DefaultSettings(),
		defaultPrompt: defaultPrompt,
	}
}

// CreateConversation stores a new empty conversation.
func (m *MockStore) CreateConversation(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return "", m.CreateErr
	}

	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	m.conversations[id] = &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy with a copied message slice
	result := *c
	result.Messages = append([]*Message(nil), c.Messages...)
	return &result, nil
}

// AppendMessage adds a message to the end of the conversation.
func (m *MockStore) AppendMessage(ctx context.Context, conversationID string, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = StatusComplete
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ConversationID = conversationID
	for _, att := range msg.Attachments {
		if att.ID == "" {
			att.ID = uuid.New().String()
		}
		att.MessageID = msg.ID
	}

	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	return nil
}

// ListConversations returns summaries ordered newest first.
func (m *MockStore) ListConversations(ctx context.Context) ([]*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summaries []*Summary
	for _, c := range m.conversations {
		summaries = append(summaries, &Summary{
			ID:           c.ID,
			MessageCount: len(c.Messages),
			Summary:      c.Summary,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// DeleteConversation removes a conversation.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

// SetSystemPrompt sets the per-conversation prompt override.
func (m *MockStore) SetSystemPrompt(ctx context.Context, conversationID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.SystemPrompt = text
	return nil
}

// GetSystemPrompt returns the conversation prompt or the global default.
func (m *MockStore) GetSystemPrompt(ctx context.Context, conversationID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return "", ErrNotFound
	}
	if c.SystemPrompt == "" {
		return m.defaultPrompt, nil
	}
	return c.SystemPrompt, nil
}

// UpdateSummary stores the cached summary.
func (m *MockStore) UpdateSummary(ctx context.Context, conversationID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.Summary = summary
	return nil
}

// GetSettings returns the current model settings.
func (m *MockStore) GetSettings(ctx context.Context) (*ModelSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.settings
	return &s, nil
}

// SaveSettings replaces the model settings.
func (m *MockStore) SaveSettings(ctx context.Context, s *ModelSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = *s
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
