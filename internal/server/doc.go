// ABOUTME: Package documentation for the HTTP boundary
// ABOUTME: describes endpoint groups and streaming behavior

// Package server exposes the conversation API over HTTP.
//
// CRUD endpoints return JSON. Two endpoints stream Server-Sent Events:
// POST /api/chat streams one model response (started, text, done, error),
// and GET /api/events streams store-change notifications for the lifetime
// of the connection.
//
// Errors detected before a chat stream opens map to HTTP status codes
// (409 for a busy conversation, 400 for invalid input, 404 for a missing
// conversation). Once streaming has begun, failures arrive as an SSE
// error event instead, since the status line has already been sent.
package server
