// ABOUTME: In-memory fan-out broadcaster for conversation lifecycle notifications
// ABOUTME: Lets connected clients refresh their conversation list without polling

package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Notification types published by the orchestrator
const (
	NotifyConversationCreated = "conversation_created"
	NotifyConversationDeleted = "conversation_deleted"
	NotifyMessageAdded        = "message_added"
	NotifySummaryUpdated      = "summary_updated"
)

// Notification is a conversation lifecycle event
type Notification struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Summary        string `json:"summary,omitempty"`
}

// subscriberBufferSize is the channel buffer for each subscriber
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for lifecycle notifications.
// Notifications carry no message content; subscribers re-fetch what they
// need, so a dropped notification only delays a refresh.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Notification // subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *Notification),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for all notifications. Returns a channel
// and a subscription ID. The subscription is automatically cleaned up when
// ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *Notification, string) {
	subID := uuid.New().String()
	ch := make(chan *Notification, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends a notification to all subscribers.
// Non-blocking: notifications are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(n *Notification) {
	b.mu.RLock()
	targets := make([]chan *Notification, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- n:
			// Sent
		default:
			b.logger.Debug("dropped notification for slow subscriber",
				"type", n.Type,
				"conversation_id", n.ConversationID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}

	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
