// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db            *sql.DB
	defaultPrompt string
	logger        *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. defaultPrompt is returned by
// GetSystemPrompt for conversations without their own prompt.
func NewSQLiteStore(path, defaultPrompt string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys so message/attachment deletes cascade
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:            db,
		defaultPrompt: defaultPrompt,
		logger:        logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			summary       TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'complete',
			created_at      TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant')),
			CHECK (status IN ('complete', 'partial-failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS attachments (
			id         TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			content    TEXT NOT NULL,

			CHECK (kind IN ('image', 'text'))
		);

		CREATE INDEX IF NOT EXISTS idx_attachments_message
			ON attachments(message_id);

		CREATE TABLE IF NOT EXISTS settings (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			temperature REAL NOT NULL,
			top_p       REAL NOT NULL,
			max_tokens  INTEGER NOT NULL,
			model       TEXT NOT NULL,
			host        TEXT NOT NULL,
			api_key     TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Seed the single settings row on first run
	def := DefaultSettings()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO settings (id, temperature, top_p, max_tokens, model, host, api_key, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
	`, def.Temperature, def.TopP, def.MaxTokens, def.Model, def.Host, def.APIKey,
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation creates a new empty conversation.
// If id is empty a new UUID is generated. Returns the conversation id.
func (s *SQLiteStore) CreateConversation(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, id, now, now)
	if err != nil {
		return "", fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", id)
	return id, nil
}

// GetConversation retrieves a conversation with its full ordered message list.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, summary, system_prompt, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(&conv.ID, &conv.Summary, &conv.SystemPrompt, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	conv.Messages, err = s.getMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	return &conv, nil
}

// getMessages returns the ordered message list with attachments grouped per message.
// Messages are append-only, so rowid (insertion order) is chat order. Sorting
// on the RFC3339Nano text would misorder a whole-second timestamp against a
// fractional one in the same second, since trailing zeros are trimmed.
func (s *SQLiteStore) getMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, status, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	byID := make(map[string]*Message)
	for rows.Next() {
		var msg Message
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Status, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
		byID[msg.ID] = &msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	if len(messages) == 0 {
		return messages, nil
	}

	attRows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.message_id, a.name, a.kind, a.content
		FROM attachments a
		JOIN messages m ON m.id = a.message_id
		WHERE m.conversation_id = ?
		ORDER BY a.rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}
	defer attRows.Close()

	for attRows.Next() {
		var att Attachment
		if err := attRows.Scan(&att.ID, &att.MessageID, &att.Name, &att.Kind, &att.Content); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		if msg, ok := byID[att.MessageID]; ok {
			msg.Attachments = append(msg.Attachments, &att)
		}
	}
	if err := attRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attachment rows: %w", err)
	}

	return messages, nil
}

// AppendMessage atomically adds one message (and its attachments) to the end
// of the conversation and bumps the conversation's updated_at timestamp.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *Message) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := msg.CreatedAt.UTC().Format(time.RFC3339Nano)

	// Touching updated_at doubles as the existence check
	result, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, conversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, conversationID, msg.Role, msg.Content, msg.Status, now)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	for _, att := range msg.Attachments {
		if att.ID == "" {
			att.ID = uuid.New().String()
		}
		att.MessageID = msg.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attachments (id, message_id, name, kind, content)
			VALUES (?, ?, ?, ?, ?)
		`, att.ID, msg.ID, att.Name, att.Kind, att.Content)
		if err != nil {
			return fmt.Errorf("inserting attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", conversationID,
		"role", msg.Role,
		"status", msg.Status,
		"attachments", len(msg.Attachments))
	return nil
}

// ListConversations returns conversation summaries ordered by recency, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.summary, c.updated_at, COUNT(m.id)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*Summary
	for rows.Next() {
		var sum Summary
		var updatedAtStr string

		if err := rows.Scan(&sum.ID, &sum.Summary, &updatedAtStr, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		sum.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return summaries, nil
}

// DeleteConversation removes a conversation and, via foreign keys, its
// messages and attachments. Returns ErrNotFound if the conversation doesn't
// exist, so callers can detect already-gone conversations.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// SetSystemPrompt sets the per-conversation system prompt override.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetSystemPrompt(ctx context.Context, conversationID, text string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET system_prompt = ? WHERE id = ?
	`, text, conversationID)
	if err != nil {
		return fmt.Errorf("updating system prompt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetSystemPrompt returns the conversation's system prompt, falling back to
// the global default when the conversation has none.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetSystemPrompt(ctx context.Context, conversationID string) (string, error) {
	var prompt string
	err := s.db.QueryRowContext(ctx, `
		SELECT system_prompt FROM conversations WHERE id = ?
	`, conversationID).Scan(&prompt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying system prompt: %w", err)
	}

	if prompt == "" {
		return s.defaultPrompt, nil
	}
	return prompt, nil
}

// UpdateSummary stores the cached summary for a conversation.
// Returns ErrNotFound if the conversation doesn't exist.
// Deliberately does not touch updated_at: summaries are derived state,
// not conversation activity.
func (s *SQLiteStore) UpdateSummary(ctx context.Context, conversationID, summary string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET summary = ? WHERE id = ?
	`, summary, conversationID)
	if err != nil {
		return fmt.Errorf("updating summary: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
