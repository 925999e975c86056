// ABOUTME: Conversation CRUD handlers
// ABOUTME: list, fetch (optionally markdown-rendered), delete, and per-conversation system prompt

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/parley-chat/parley/internal/store"
)

// markdown renders assistant output for the html view
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type conversationSummary struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type attachmentResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type messageResponse struct {
	ID          string               `json:"id"`
	Role        string               `json:"role"`
	Content     string               `json:"content"`
	ContentHTML string               `json:"content_html,omitempty"`
	Status      string               `json:"status"`
	Attachments []attachmentResponse `json:"attachments,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

type conversationResponse struct {
	ID           string            `json:"id"`
	Summary      string            `json:"summary"`
	SystemPrompt string            `json:"system_prompt"`
	Messages     []messageResponse `json:"messages"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	resp := make([]conversationSummary, 0, len(summaries))
	for _, sum := range summaries {
		resp = append(resp, conversationSummary{
			ID:           sum.ID,
			Summary:      sum.Summary,
			MessageCount: sum.MessageCount,
			UpdatedAt:    sum.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.CreateConversation(r.Context(), "")
	if err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"conversation_id": id})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("failed to get conversation", "conversation_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}

	renderHTML := r.URL.Query().Get("format") == "html"

	resp := conversationResponse{
		ID:           conv.ID,
		Summary:      conv.Summary,
		SystemPrompt: conv.SystemPrompt,
		Messages:     make([]messageResponse, 0, len(conv.Messages)),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, msg := range conv.Messages {
		mr := messageResponse{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Status:    msg.Status,
			CreatedAt: msg.CreatedAt,
		}
		if renderHTML {
			mr.ContentHTML = renderMarkdown(msg.Content)
		}
		for _, att := range msg.Attachments {
			mr.Attachments = append(mr.Attachments, attachmentResponse{
				ID:      att.ID,
				Name:    att.Name,
				Kind:    att.Kind,
				Content: att.Content,
			})
		}
		resp.Messages = append(resp.Messages, mr)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// renderMarkdown converts message content to HTML, falling back to the raw text
func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return buf.String()
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.DeleteConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("failed to delete conversation", "conversation_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	text, err := s.store.GetSystemPrompt(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("failed to get system prompt", "conversation_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to get system prompt")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"system_prompt": text})
}

func (s *Server) handleSetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		SystemPrompt string `json:"system_prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.store.SetSystemPrompt(r.Context(), id, body.SystemPrompt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("failed to set system prompt", "conversation_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to set system prompt")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
