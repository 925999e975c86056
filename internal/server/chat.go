// ABOUTME: Streaming chat endpoint and the live notification feed
// ABOUTME: multipart request in, Server-Sent Events out

package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/parley-chat/parley/internal/attach"
	"github.com/parley-chat/parley/internal/builder"
	"github.com/parley-chat/parley/internal/orchestrator"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/upstream"
)

// maxUploadBytes bounds the multipart form held in memory
const maxUploadBytes = 32 << 20

// handleChat accepts a user turn and streams the model response as SSE.
// Errors before the stream opens map to HTTP status codes; errors after
// the first byte are delivered as an SSE error event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	req := &orchestrator.TurnRequest{
		ConversationID: r.FormValue("conversation_id"),
		Message:        r.FormValue("message"),
		SystemPrompt:   r.FormValue("system_prompt"),
	}

	if r.MultipartForm != nil {
		for _, hdr := range r.MultipartForm.File["files"] {
			att, err := s.readUpload(hdr)
			if err != nil {
				if errors.Is(err, attach.ErrUnsupported) {
					s.sendJSONError(w, http.StatusBadRequest, "unsupported file type: "+hdr.Filename)
					return
				}
				s.sendJSONError(w, http.StatusBadRequest, "failed to read upload: "+hdr.Filename)
				return
			}
			req.Attachments = append(req.Attachments, att)
		}
	}

	resp, err := s.orch.SubmitTurn(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrConversationBusy):
			s.sendJSONError(w, http.StatusConflict, "conversation has a response in progress")
		case errors.Is(err, builder.ErrInvalidRequest):
			s.sendJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, upstream.ErrUpstream):
			s.sendJSONError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.Error("failed to submit turn", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	s.writeSSEEvent(w, "started", map[string]string{
		"conversation_id": resp.ConversationID,
		"message_id":      resp.MessageID,
	})
	flusher.Flush()

	for ev := range resp.Events {
		switch ev.Type {
		case orchestrator.EventText:
			s.writeSSEEvent(w, "text", map[string]string{"text": ev.Text})
		case orchestrator.EventDone:
			s.writeSSEEvent(w, "done", map[string]string{"full_response": ev.Text})
		case orchestrator.EventError:
			s.writeSSEEvent(w, "error", map[string]string{"error": ev.Err.Error()})
		}
		flusher.Flush()
	}
}

// readUpload reads one multipart file and encodes it for storage
func (s *Server) readUpload(hdr *multipart.FileHeader) (*store.Attachment, error) {
	f, err := hdr.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return nil, err
	}
	return attach.Encode(hdr.Filename, hdr.Header.Get("Content-Type"), data)
}

// handleEvents streams store-change notifications to the client as SSE.
// The subscription lasts until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, id := s.events.Subscribe(r.Context())
	s.logger.Debug("event subscriber connected", "subscriber_id", id)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	s.writeSSEEvent(w, "connected", map[string]string{"subscriber_id": id})
	flusher.Flush()

	for n := range ch {
		s.writeSSEEvent(w, n.Type, n)
		flusher.Flush()
	}
}
