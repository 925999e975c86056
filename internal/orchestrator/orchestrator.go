// ABOUTME: Orchestrator owns the end-to-end turn lifecycle for a conversation
// ABOUTME: Record first, then act - partial output is committed before errors surface

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parley-chat/parley/internal/builder"
	"github.com/parley-chat/parley/internal/prompt"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/upstream"
)

// ErrConversationBusy is returned when a turn is submitted for a conversation
// that already has a streaming turn in flight. The rejected turn leaves no
// trace: no user message is appended and no upstream call is made.
var ErrConversationBusy = errors.New("conversation busy")

// commitTimeout bounds terminal commits, which run on a detached context so
// a cancelled caller still gets its partial output persisted.
const commitTimeout = 5 * time.Second

// outputBufferSize is the turn output channel buffer. Small enough that a
// stalled caller applies backpressure, large enough to keep forwarding prompt.
const outputBufferSize = 16

// Streamer is what the orchestrator needs from the upstream client
type Streamer interface {
	Stream(ctx context.Context, req openai.ChatCompletionRequest, settings *store.ModelSettings) (<-chan upstream.Event, error)
}

// EventType identifies a turn output event
type EventType int

const (
	// EventText is one forwarded fragment of assistant output
	EventText EventType = iota
	// EventDone marks a committed turn; Text carries the full response
	EventDone
	// EventError marks a failed turn; the partial response is already committed
	EventError
)

// Event is one item on a turn's output channel
type Event struct {
	Type EventType
	Text string
	Err  error
}

// TurnRequest contains everything needed to submit one turn
type TurnRequest struct {
	// ConversationID is optional; an empty or unknown id creates a new
	// conversation so clients never need a separate create call
	ConversationID string

	// Message is the user's text (required)
	Message string

	// Attachments ride along on the user message
	Attachments []*store.Attachment

	// SystemPrompt overrides the conversation's system prompt when non-empty
	SystemPrompt string
}

// TurnResponse is the live result of a submitted turn
type TurnResponse struct {
	ConversationID string
	MessageID      string // id of the committed user message

	// Events yields fragments in upstream emission order, terminated by
	// exactly one EventDone or EventError
	Events <-chan Event
}

// Orchestrator drives the turn state machine: Created -> Streaming ->
// Committed/Failed. It is the only component that appends assistant
// messages, and it holds a per-conversation lock for the full span of a
// turn so two streams can never interleave into one history.
type Orchestrator struct {
	store          store.Store
	streamer       Streamer
	events         *Broadcaster
	logger         *slog.Logger
	summaries      bool
	summaryTimeout time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc // conversation id -> cancel for its in-flight turn
}

// Options configures optional orchestrator behavior
type Options struct {
	// DisableSummaries turns off background conversation summarization
	DisableSummaries bool

	// SummaryTimeout bounds the background summary call (default 30s)
	SummaryTimeout time.Duration
}

// New creates an Orchestrator. Pass nil broadcaster to disable notifications
// and nil logger for the default.
func New(st store.Store, streamer Streamer, events *Broadcaster, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SummaryTimeout == 0 {
		opts.SummaryTimeout = 30 * time.Second
	}
	return &Orchestrator{
		store:          st,
		streamer:       streamer,
		events:         events,
		logger:         logger.With("component", "orchestrator"),
		summaries:      !opts.DisableSummaries,
		summaryTimeout: opts.SummaryTimeout,
		active:         make(map[string]context.CancelFunc),
	}
}

// SubmitTurn runs one turn: resolve or create the conversation, append the
// user message, stream the model response, and commit the assistant message.
//
// Fragments are forwarded on the returned channel in the exact order the
// upstream produced them; the committed assistant message equals their
// concatenation. On failure or cancellation the partial concatenation is
// committed with status partial-failed before the error event is emitted.
//
// ErrConversationBusy, ErrInvalidRequest and storage faults are returned
// synchronously before any upstream call.
func (o *Orchestrator) SubmitTurn(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", builder.ErrInvalidRequest)
	}

	// Settings are read fresh per turn, never cached
	settings, err := o.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	conv, err := o.ensureConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	// Single writer per conversation for the full turn span
	streamCtx, cancel := context.WithCancel(ctx)
	if err := o.beginTurn(conv.ID, cancel); err != nil {
		cancel()
		return nil, err
	}
	// Released by the streaming goroutine; on early error paths below we
	// release explicitly.
	fail := func(err error) (*TurnResponse, error) {
		o.endTurn(conv.ID)
		cancel()
		return nil, err
	}

	// Validate the stored history before committing anything new, so a
	// corrupted conversation is rejected with no partial side effects
	if len(conv.Messages) > 0 && conv.Messages[0].Role != store.RoleUser {
		return fail(fmt.Errorf("%w: history starts with %q message", builder.ErrInvalidRequest, conv.Messages[0].Role))
	}

	systemPrompt, err := o.resolveSystemPrompt(ctx, conv, req.SystemPrompt)
	if err != nil {
		return fail(err)
	}

	// Record first, then act: the user message is durable before the
	// upstream call, so a turn that cannot be recorded costs nothing
	userMsg := &store.Message{
		Role:        store.RoleUser,
		Content:     req.Message,
		Attachments: req.Attachments,
	}
	if err := o.store.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		return fail(fmt.Errorf("recording user message: %w", err))
	}
	history := append(conv.Messages, userMsg)

	payload, err := builder.Build(history, systemPrompt, settings)
	if err != nil {
		return fail(err)
	}

	o.logger.Debug("turn streaming",
		"conversation_id", conv.ID,
		"message_id", userMsg.ID,
		"history", len(history),
		"model", settings.Model)

	in, err := o.streamer.Stream(streamCtx, payload, settings)
	if err != nil {
		// The turn entered Streaming and failed before the first fragment;
		// an empty partial keeps history aligned with what the user saw
		o.commitAssistant(conv.ID, "", store.StatusPartialFailed)
		o.endTurn(conv.ID)
		cancel()
		return nil, err
	}

	out := make(chan Event, outputBufferSize)
	go o.run(streamCtx, cancel, conv.ID, in, out)

	return &TurnResponse{
		ConversationID: conv.ID,
		MessageID:      userMsg.ID,
		Events:         out,
	}, nil
}

// run forwards fragments to the caller while accumulating them, then commits
// the terminal assistant message. Exactly one EventDone or EventError is
// emitted, always after the commit.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, conversationID string, in <-chan upstream.Event, out chan<- Event) {
	defer close(out)
	defer cancel()

	var buf strings.Builder

	// The lock is released on every terminal path below, always after the
	// terminal commit (so streams never interleave) and before the terminal
	// event (so a caller that resubmits on seeing it is not rejected).
	abort := func(cause error) {
		cancel()
		// Drain so the producer can exit
		go func() {
			for range in {
			}
		}()
		err := o.commitAssistant(conversationID, buf.String(), store.StatusPartialFailed)
		o.endTurn(conversationID)
		o.emitTerminal(out, Event{Type: EventError, Err: errors.Join(cause, err)})
	}

	for {
		select {
		case <-ctx.Done():
			// Caller disconnected; a cancelled turn still leaves its trace
			o.logger.Debug("turn cancelled", "conversation_id", conversationID, "partial_len", buf.Len())
			abort(fmt.Errorf("turn cancelled: %w", ctx.Err()))
			return

		case ev, ok := <-in:
			if !ok {
				// Producer closed without a terminal event; treat as failure
				abort(fmt.Errorf("%w: stream ended without terminal event", upstream.ErrUpstream))
				return
			}

			switch ev.Type {
			case upstream.EventText:
				buf.WriteString(ev.Text)
				select {
				case out <- Event{Type: EventText, Text: ev.Text}:
				case <-ctx.Done():
					o.logger.Debug("turn cancelled mid-forward", "conversation_id", conversationID, "partial_len", buf.Len())
					abort(fmt.Errorf("turn cancelled: %w", ctx.Err()))
					return
				}

			case upstream.EventDone:
				content := buf.String()
				err := o.commitAssistant(conversationID, content, store.StatusComplete)
				o.endTurn(conversationID)
				if err != nil {
					// Content reached the caller but was not saved; they
					// must hear about it
					o.emitTerminal(out, Event{Type: EventError, Err: err})
					return
				}
				o.notify(&Notification{Type: NotifyMessageAdded, ConversationID: conversationID})
				o.emitTerminal(out, Event{Type: EventDone, Text: content})
				if o.summaries {
					go o.summarize(conversationID)
				}
				return

			case upstream.EventError:
				err := o.commitAssistant(conversationID, buf.String(), store.StatusPartialFailed)
				o.endTurn(conversationID)
				o.emitTerminal(out, Event{Type: EventError, Err: errors.Join(ev.Err, err)})
				return
			}
		}
	}
}

// commitAssistant appends the terminal assistant message on a detached
// timeout context, so persistence outlives a cancelled request.
func (o *Orchestrator) commitAssistant(conversationID, content, status string) error {
	saveCtx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	msg := &store.Message{
		Role:    store.RoleAssistant,
		Content: content,
		Status:  status,
	}
	if err := o.store.AppendMessage(saveCtx, conversationID, msg); err != nil {
		o.logger.Error("failed to commit assistant message",
			"error", err,
			"conversation_id", conversationID,
			"status", status)
		return fmt.Errorf("committing assistant message: %w", err)
	}

	o.logger.Debug("assistant message committed",
		"conversation_id", conversationID,
		"status", status,
		"len", len(content))
	return nil
}

// emitTerminal delivers the terminal event. The send blocks until the
// consumer takes it: every turn ends in exactly one EventDone or EventError,
// and a full buffer only means the consumer is slow, not gone. A gone caller
// cancels ctx, which routes through the abort path before this send, and the
// HTTP handler drains the channel to close even when its client disconnects.
func (o *Orchestrator) emitTerminal(out chan<- Event, ev Event) {
	out <- ev
}

// ensureConversation resolves an existing conversation or creates one.
// A provided id that does not resolve is created under that id, so a client
// can always start a turn with no prior create call.
func (o *Orchestrator) ensureConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if id != "" {
		conv, err := o.store.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	newID, err := o.store.CreateConversation(ctx, id)
	if err != nil {
		// Two first turns on the same unknown id can both miss the lookup
		// above; the loser's insert hits the primary key. Re-resolve instead
		// of surfacing the constraint error.
		if id != "" {
			if conv, getErr := o.store.GetConversation(ctx, id); getErr == nil {
				return conv, nil
			}
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	o.notify(&Notification{Type: NotifyConversationCreated, ConversationID: newID})
	o.logger.Debug("conversation created", "conversation_id", newID)

	return &store.Conversation{ID: newID}, nil
}

// resolveSystemPrompt picks the effective prompt for this turn and persists
// a changed override so later turns keep it.
func (o *Orchestrator) resolveSystemPrompt(ctx context.Context, conv *store.Conversation, override string) (string, error) {
	if override == "" {
		p, err := o.store.GetSystemPrompt(ctx, conv.ID)
		if err != nil {
			return "", fmt.Errorf("reading system prompt: %w", err)
		}
		return p, nil
	}

	if override != conv.SystemPrompt {
		if err := o.store.SetSystemPrompt(ctx, conv.ID, override); err != nil {
			return "", fmt.Errorf("updating system prompt: %w", err)
		}
	}
	return override, nil
}

// beginTurn takes the per-conversation lock, rejecting when a turn is in flight
func (o *Orchestrator) beginTurn(conversationID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.active[conversationID]; busy {
		return fmt.Errorf("%w: %s", ErrConversationBusy, conversationID)
	}
	o.active[conversationID] = cancel
	return nil
}

// endTurn releases the per-conversation lock
func (o *Orchestrator) endTurn(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, conversationID)
}

// DeleteConversation removes a conversation, cancelling any in-flight turn
// first so its resources are released. The cancelled turn commits its
// partial message into the doomed conversation; the delete then removes
// everything in one cascade.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	o.mu.Lock()
	if cancel, ok := o.active[id]; ok {
		cancel()
	}
	o.mu.Unlock()

	if err := o.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	o.notify(&Notification{Type: NotifyConversationDeleted, ConversationID: id})
	return nil
}

// notify publishes a lifecycle notification when a broadcaster is attached
func (o *Orchestrator) notify(n *Notification) {
	if o.events != nil {
		o.events.Publish(n)
	}
}

// summarize asks the model for a short topic line covering the user messages
// and caches it on the conversation. Failures are logged, never surfaced:
// summaries are cosmetic.
func (o *Orchestrator) summarize(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.summaryTimeout)
	defer cancel()

	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		o.logger.Warn("summary skipped", "conversation_id", conversationID, "error", err)
		return
	}

	var userTexts []string
	for _, msg := range conv.Messages {
		if msg.Role == store.RoleUser {
			userTexts = append(userTexts, fmt.Sprintf("%q", msg.Content))
		}
	}
	if len(userTexts) == 0 {
		return
	}

	settings, err := o.store.GetSettings(ctx)
	if err != nil {
		o.logger.Warn("summary skipped", "conversation_id", conversationID, "error", err)
		return
	}

	req := openai.ChatCompletionRequest{
		Model:       settings.Model,
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
		MaxTokens:   settings.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.Summary},
			{Role: openai.ChatMessageRoleUser, Content: "[" + strings.Join(userTexts, ", ") + "]"},
		},
	}

	in, err := o.streamer.Stream(ctx, req, settings)
	if err != nil {
		o.logger.Warn("summary stream failed", "conversation_id", conversationID, "error", err)
		return
	}

	var buf strings.Builder
	for ev := range in {
		switch ev.Type {
		case upstream.EventText:
			buf.WriteString(ev.Text)
		case upstream.EventError:
			o.logger.Warn("summary stream failed", "conversation_id", conversationID, "error", ev.Err)
			return
		}
	}

	summary := strings.TrimSpace(buf.String())
	if summary == "" {
		return
	}
	if err := o.store.UpdateSummary(ctx, conversationID, summary); err != nil {
		o.logger.Warn("summary save failed", "conversation_id", conversationID, "error", err)
		return
	}

	o.notify(&Notification{Type: NotifySummaryUpdated, ConversationID: conversationID, Summary: summary})
	o.logger.Debug("summary updated", "conversation_id", conversationID, "summary", summary)
}
