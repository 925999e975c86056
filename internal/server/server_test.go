// ABOUTME: Tests for the HTTP API
// ABOUTME: Exercises the chat SSE flow, conversation CRUD, and settings endpoints end to end

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/orchestrator"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/upstream"
)

// stubStreamer emits the configured fragments and completes
type stubStreamer struct {
	fragments []string
	lastReq   openai.ChatCompletionRequest
}

func (s *stubStreamer) Stream(ctx context.Context, req openai.ChatCompletionRequest, settings *store.ModelSettings) (<-chan upstream.Event, error) {
	s.lastReq = req
	ch := make(chan upstream.Event, len(s.fragments)+1)
	for _, f := range s.fragments {
		ch <- upstream.Event{Type: upstream.EventText, Text: f}
	}
	ch <- upstream.Event{Type: upstream.EventDone}
	close(ch)
	return ch, nil
}

type testEnv struct {
	store    *store.MockStore
	streamer *stubStreamer
	events   *orchestrator.Broadcaster
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMockStore("default prompt")
	streamer := &stubStreamer{fragments: []string{"Hel", "lo"}}
	events := orchestrator.NewBroadcaster(nil)
	t.Cleanup(events.Close)

	orch := orchestrator.New(st, streamer, events, nil, orchestrator.Options{DisableSummaries: true})
	srv := New(st, orch, events, "test", nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{store: st, streamer: streamer, events: events, server: ts}
}

// postChat submits a multipart chat request and returns the response
func (e *testEnv) postChat(t *testing.T, fields map[string]string) *http.Response {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.server.URL+"/api/chat", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

// sseEvents parses an SSE body into event-name -> decoded JSON payloads
type sseEvent struct {
	name string
	data map[string]string
}

func parseSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()

	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = sseEvent{name: strings.TrimPrefix(line, "event: ")}
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			require.NoError(t, json.Unmarshal([]byte(payload), &current.data))
			events = append(events, current)
		}
	}
	return events
}

func TestChatStreamsResponse(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postChat(t, map[string]string{"message": "hi there"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := parseSSE(t, resp.Body)
	require.Len(t, events, 4)

	assert.Equal(t, "started", events[0].name)
	convID := events[0].data["conversation_id"]
	require.NotEmpty(t, convID)
	require.NotEmpty(t, events[0].data["message_id"])

	assert.Equal(t, "text", events[1].name)
	assert.Equal(t, "Hel", events[1].data["text"])
	assert.Equal(t, "text", events[2].name)
	assert.Equal(t, "lo", events[2].data["text"])

	assert.Equal(t, "done", events[3].name)
	assert.Equal(t, "Hello", events[3].data["full_response"])

	// Both sides of the turn are persisted
	conv, err := env.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "hi there", conv.Messages[0].Content)
	assert.Equal(t, "Hello", conv.Messages[1].Content)
}

func TestChatEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postChat(t, map[string]string{"message": "   "})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatContinuesConversation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postChat(t, map[string]string{"message": "first"})
	events := parseSSE(t, resp.Body)
	resp.Body.Close()
	convID := events[0].data["conversation_id"]

	resp = env.postChat(t, map[string]string{"message": "second", "conversation_id": convID})
	events = parseSSE(t, resp.Body)
	resp.Body.Close()
	assert.Equal(t, convID, events[0].data["conversation_id"])

	conv, err := env.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)
}

func TestChatWithFileUpload(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("message", "check this file"))

	fw, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="files"; filename="notes.txt"`},
		"Content-Type":        {"text/plain"},
	})
	require.NoError(t, err)
	_, err = fw.Write([]byte("file body"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(env.server.URL+"/api/chat", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := parseSSE(t, resp.Body)
	convID := events[0].data["conversation_id"]

	conv, err := env.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	require.Len(t, conv.Messages[0].Attachments, 1)
	assert.Equal(t, "notes.txt", conv.Messages[0].Attachments[0].Name)
	assert.Equal(t, store.KindText, conv.Messages[0].Attachments[0].Kind)
	assert.Equal(t, "file body", conv.Messages[0].Attachments[0].Content)
}

func TestChatUnsupportedFileRejected(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("message", "here"))

	fw, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="files"; filename="movie.mp4"`},
		"Content-Type":        {"video/mp4"},
	})
	require.NoError(t, err)
	_, err = fw.Write([]byte("binary"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(env.server.URL+"/api/chat", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Create
	resp, err := http.Post(env.server.URL+"/api/conversations", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	convID := created["conversation_id"]
	require.NotEmpty(t, convID)

	// List
	resp, err = http.Get(env.server.URL + "/api/conversations")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, convID, list[0]["id"])

	// Get
	resp, err = http.Get(env.server.URL + "/api/conversations/" + convID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Delete
	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/conversations/"+convID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Gone
	resp, err = http.Get(env.server.URL + "/api/conversations/" + convID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetConversationNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/conversations/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetConversationHTMLFormat(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.store.CreateConversation(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, env.store.AppendMessage(context.Background(), id, &store.Message{
		Role:    store.RoleAssistant,
		Content: "some **bold** text",
	}))

	resp, err := http.Get(env.server.URL + "/api/conversations/" + id + "?format=html")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var conv conversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "some **bold** text", conv.Messages[0].Content)
	assert.Contains(t, conv.Messages[0].ContentHTML, "<strong>bold</strong>")
}

func TestSystemPromptRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.store.CreateConversation(context.Background(), "")
	require.NoError(t, err)

	// Default applies before any override
	resp, err := http.Get(env.server.URL + "/api/conversations/" + id + "/system_prompt")
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "default prompt", got["system_prompt"])

	// Set an override
	body := strings.NewReader(`{"system_prompt": "be formal"}`)
	req, err := http.NewRequest(http.MethodPut, env.server.URL+"/api/conversations/"+id+"/system_prompt", body)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/api/conversations/" + id + "/system_prompt")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "be formal", got["system_prompt"])
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/settings")
	require.NoError(t, err)
	var got settingsPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, store.DefaultSettings().Model, got.Model)

	update := settingsPayload{
		Temperature: 0.3,
		TopP:        0.8,
		MaxTokens:   1024,
		Model:       "local-model",
		Host:        "http://localhost:1234/v1",
		APIKey:      "sk-test",
	}
	payload, err := json.Marshal(update)
	require.NoError(t, err)

	resp, err = http.Post(env.server.URL+"/api/settings", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/api/settings")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, update, got)
}

func TestSettingsValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		payload settingsPayload
	}{
		{"temperature too high", settingsPayload{Temperature: 3, TopP: 0.5, MaxTokens: 10, Model: "m", Host: "h"}},
		{"top_p too high", settingsPayload{Temperature: 1, TopP: 1.5, MaxTokens: 10, Model: "m", Host: "h"}},
		{"zero max_tokens", settingsPayload{Temperature: 1, TopP: 0.5, MaxTokens: 0, Model: "m", Host: "h"}},
		{"missing model", settingsPayload{Temperature: 1, TopP: 0.5, MaxTokens: 10, Host: "h"}},
		{"missing host", settingsPayload{Temperature: 1, TopP: 0.5, MaxTokens: 10, Model: "m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.payload)
			require.NoError(t, err)
			resp, err := http.Post(env.server.URL+"/api/settings", "application/json", bytes.NewReader(payload))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSettingsDefaults(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/settings/defaults")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got settingsPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	def := store.DefaultSettings()
	assert.Equal(t, def.Model, got.Model)
	assert.Equal(t, def.Host, got.Host)
	assert.Equal(t, def.MaxTokens, got.MaxTokens)
}

func TestVersionEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "test", got["version"])
}

func TestEventsFeed(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEventName := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}

	require.Equal(t, "connected", readEventName())

	env.events.Publish(&orchestrator.Notification{
		Type:           orchestrator.NotifySummaryUpdated,
		ConversationID: "c1",
		Summary:        "Trip planning",
	})

	require.Equal(t, orchestrator.NotifySummaryUpdated, readEventName())
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got["status"])
}
