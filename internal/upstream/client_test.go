// ABOUTME: Tests for the streaming upstream client
// ABOUTME: Uses a fake OpenAI-compatible endpoint to verify fragment order and failure modes

package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/store"
)

// fakeCompletionServer streams the given fragments in OpenAI chunk format
func fakeCompletionServer(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range fragments {
			fmt.Fprintf(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", f)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func testSettings(host string) *store.ModelSettings {
	return &store.ModelSettings{
		Temperature: 1.0,
		TopP:        0.95,
		MaxTokens:   128,
		Model:       "test-model",
		Host:        host + "/v1",
	}
}

func testRequest() openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: "test-model",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
		},
	}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestStreamFragmentOrder(t *testing.T) {
	srv := fakeCompletionServer(t, []string{"Hel", "lo", " world"})
	defer srv.Close()

	c := New(nil)
	ch, err := c.Stream(context.Background(), testRequest(), testSettings(srv.URL))
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 4)
	assert.Equal(t, Event{Type: EventText, Text: "Hel"}, events[0])
	assert.Equal(t, Event{Type: EventText, Text: "lo"}, events[1])
	assert.Equal(t, Event{Type: EventText, Text: " world"}, events[2])
	assert.Equal(t, EventDone, events[3].Type)
}

func TestStreamEmptyResponse(t *testing.T) {
	srv := fakeCompletionServer(t, nil)
	defer srv.Close()

	c := New(nil)
	ch, err := c.Stream(context.Background(), testRequest(), testSettings(srv.URL))
	require.NoError(t, err)

	// An empty successful stream is not an error
	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type)
}

func TestStreamOpenFailureIsSynchronous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Stream(context.Background(), testRequest(), testSettings(srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestStreamConnectionRefused(t *testing.T) {
	c := New(nil)
	_, err := c.Stream(context.Background(), testRequest(), testSettings("http://127.0.0.1:1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"one"}}]}`+"\n\n")
		flusher.Flush()
		// Hold the stream open until the test finishes
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(nil)
	ch, err := c.Stream(ctx, testRequest(), testSettings(srv.URL))
	require.NoError(t, err)

	ev := <-ch
	require.Equal(t, EventText, ev.Type)

	cancel()

	events := collect(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.ErrorIs(t, last.Err, ErrUpstream)
}

func TestStreamEmptyAPIKeySubstituted(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(nil)
	settings := testSettings(srv.URL)
	settings.APIKey = ""
	ch, err := c.Stream(context.Background(), testRequest(), settings)
	require.NoError(t, err)
	collect(t, ch)

	// Some local servers reject requests without a bearer token
	assert.Equal(t, "Bearer empty", gotAuth)
}
