// Package store provides persistent storage for parley using SQLite.
//
// # Data Models
//
//   - Conversation: durable, identified, ordered list of messages with an
//     optional per-conversation system prompt and a cached summary
//   - Message: one user or assistant message; assistant messages carry a
//     status of "complete" or "partial-failed"
//   - Attachment: inline file payload (image data URI or UTF-8 text) owned
//     by exactly one message
//   - ModelSettings: the single-row model configuration (temperature, top_p,
//     max_tokens, model name, host, API key)
//
// # Invariants
//
// A conversation's message sequence is append-only: messages are never
// reordered or mutated in place once committed. AppendMessage inserts the
// message, its attachments, and the conversation's updated_at bump in one
// transaction, so a crash can never leave a half-written turn behind.
// Deleting a conversation cascades to its messages and attachments.
//
// SQLiteStore implements the Store interface with modernc.org/sqlite (no
// CGO). MockStore is an in-memory implementation for tests, with fault
// injection hooks.
package store
