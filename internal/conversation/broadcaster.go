// ABOUTME: In-memory fan-out event broadcaster for UI subscribers
// ABOUTME: Delivers events per conversation id, with id 0 receiving every event

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllConversations subscribes to every event, including connection events.
	AllConversations int64 = 0
)

// EventBroadcaster provides in-memory pub/sub for sync engine events.
// Subscribers register for one conversation, or AllConversations, and
// receive events without polling the store.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]map[string]chan *Event // conversationID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[int64]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given conversation.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is cleaned up when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, conversationID int64) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan *Event)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends an event to the subscribers of its conversation and to
// AllConversations subscribers. Non-blocking: events are dropped for
// subscribers whose channels are full.
func (b *EventBroadcaster) Publish(event *Event) {
	b.mu.RLock()
	var targets []chan *Event
	for _, ch := range b.subscribers[AllConversations] {
		targets = append(targets, ch)
	}
	if event.ConversationID != AllConversations {
		for _, ch := range b.subscribers[event.ConversationID] {
			targets = append(targets, ch)
		}
	}

	// sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; every send is non-blocking
	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"conversation_id", event.ConversationID,
				"kind", event.Kind.String())
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(conversationID int64, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// SubscriberCount returns the number of subscribers for a conversation.
func (b *EventBroadcaster) SubscriberCount(conversationID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conversationID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, id)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
