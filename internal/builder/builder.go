// ABOUTME: Pure request builder translating stored history into an OpenAI-compatible payload
// ABOUTME: No I/O and no mutable state; validates history shape before building

package builder

import (
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parley-chat/parley/internal/store"
)

// ErrInvalidRequest is returned when the history cannot form a valid model
// request, e.g. the first non-system message is not a user message.
var ErrInvalidRequest = errors.New("invalid request")

// Build produces the chat completion request for the given ordered history.
// The history must already include the new user message. The system prompt is
// always placed first regardless of when it was set on the conversation.
//
// Attachments are embedded inline per message: text content as additional
// text parts, image content as a self-contained data URI (or the original
// URL when the attachment itself was a URL).
func Build(messages []*store.Message, systemPrompt string, settings *store.ModelSettings) (openai.ChatCompletionRequest, error) {
	req := openai.ChatCompletionRequest{
		Model:       settings.Model,
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
		MaxTokens:   settings.MaxTokens,
	}

	if len(messages) == 0 {
		return req, fmt.Errorf("%w: empty history", ErrInvalidRequest)
	}
	if messages[0].Role != store.RoleUser {
		// An assistant-first history indicates a corrupted store
		return req, fmt.Errorf("%w: history starts with %q message", ErrInvalidRequest, messages[0].Role)
	}

	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})

	for _, msg := range messages {
		req.Messages = append(req.Messages, toChatMessage(msg))
	}

	return req, nil
}

// toChatMessage converts one stored message. Messages without attachments use
// plain string content; messages with attachments use multi-part content.
func toChatMessage(msg *store.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: msg.Role}

	if len(msg.Attachments) == 0 {
		out.Content = msg.Content
		return out
	}

	if msg.Content != "" {
		out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}

	for _, att := range msg.Attachments {
		switch att.Kind {
		case store.KindImage:
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: imageURL(att)},
			})
		default:
			// Text-like attachments are inlined as-is, prefixed with the
			// file name so the model can tell the files apart
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: fmt.Sprintf("File %q:\n%s", att.Name, att.Content),
			})
		}
	}

	return out
}

// imageURL returns the attachment content when it is already self-contained
// (data URI) or an explicit URL the user attached; never anything else.
func imageURL(att *store.Attachment) string {
	if strings.HasPrefix(att.Content, "data:") ||
		strings.HasPrefix(att.Content, "http://") ||
		strings.HasPrefix(att.Content, "https://") {
		return att.Content
	}
	// Stored image content is always a data URI; guard against raw bytes
	// leaking in from an older database by wrapping them.
	return "data:application/octet-stream;base64," + att.Content
}
