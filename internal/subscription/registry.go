// ABOUTME: Subscription registry keyed by conversation id
// ABOUTME: Idempotent subscribe, pending marks on disconnect and replay on reconnect

package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/chatsync/internal/chat"
)

// ErrInvalidConversation is returned for non-positive conversation ids.
var ErrInvalidConversation = errors.New("invalid conversation id")

// Handler receives messages routed to a conversation.
type Handler interface {
	HandleMessage(msg chat.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg chat.Message)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(msg chat.Message) { f(msg) }

// TypingHandler is implemented by handlers that also want typing events.
type TypingHandler interface {
	HandleTyping(ev chat.TypingEvent)
}

// Subscriber is the slice of the connection manager the registry drives.
type Subscriber interface {
	Subscribe(destination, id string) error
	Unsubscribe(id string) error
	IsConnected() bool
}

type entry struct {
	conversationID int64
	handler        Handler
	subID          string
	typingSubID    string // empty when typing topics are off
	pending        bool   // not yet acknowledged by the current connection
}

// Registry is the set of desired conversation subscriptions.
type Registry struct {
	mu      sync.Mutex
	conn    Subscriber
	typing  bool
	entries map[int64]*entry
	bySubID map[string]int64
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. When typing is set every entry
// also subscribes to its conversation's typing topic. Pass nil logger for
// default.
func NewRegistry(conn Subscriber, typing bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conn:    conn,
		typing:  typing,
		entries: make(map[int64]*entry),
		bySubID: make(map[string]int64),
		logger:  logger.With("component", "subscriptions"),
	}
}

// Subscribe registers handler for a conversation. A second call for the
// same conversation only replaces the handler. When disconnected the entry
// waits for the next Connected.
func (r *Registry) Subscribe(conversationID int64, handler Handler) error {
	if conversationID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConversation, conversationID)
	}
	if handler == nil {
		return errors.New("nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[conversationID]; ok {
		e.handler = handler
		r.logger.Debug("handler replaced", "conversation_id", conversationID)
		return nil
	}

	e := &entry{
		conversationID: conversationID,
		handler:        handler,
		subID:          uuid.New().String(),
		pending:        true,
	}
	r.bySubID[e.subID] = conversationID
	if r.typing {
		e.typingSubID = uuid.New().String()
		r.bySubID[e.typingSubID] = conversationID
	}
	r.entries[conversationID] = e

	if r.conn.IsConnected() {
		r.issueLocked(e)
	}
	return nil
}

// Unsubscribe drops a conversation's entry. UNSUBSCRIBE is only sent when
// connected and the server knows the subscription. Unknown ids are ignored.
func (r *Registry) Unsubscribe(conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[conversationID]
	if !ok {
		return
	}
	r.removeLocked(e)
	r.logger.Debug("unsubscribed", "conversation_id", conversationID)
}

// Clear drops every entry, unsubscribing remotely where possible.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		r.removeLocked(e)
	}
	r.logger.Debug("registry cleared")
}

// Connected replays pending entries on a fresh connection.
func (r *Registry) Connected() {
	n := r.Resubscribe()
	r.logger.Info("subscriptions restored", "count", n)
}

// Disconnected marks every entry pending.
func (r *Registry) Disconnected() {
	r.MarkAllPending()
}

// MarkAllPending flags every entry for replay on the next connection.
func (r *Registry) MarkAllPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.pending = true
	}
}

// Resubscribe issues SUBSCRIBE for every pending entry in conversation id
// order and returns how many were issued successfully.
func (r *Registry) Resubscribe() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, id := range r.sortedIDsLocked() {
		e := r.entries[id]
		if !e.pending {
			continue
		}
		if r.issueLocked(e) {
			n++
		}
	}
	return n
}

// Handler returns the handler registered for a conversation.
func (r *Registry) Handler(conversationID int64) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// ConversationForSubscription maps a subscription id, message or typing,
// back to its conversation.
func (r *Registry) ConversationForSubscription(subID string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySubID[subID]
	return id, ok
}

// DestinationForSubscription returns the topic a subscription id was issued
// for, so frames without a destination header can still be routed.
func (r *Registry) DestinationForSubscription(subID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySubID[subID]
	if !ok {
		return "", false
	}
	if e := r.entries[id]; e.typingSubID == subID {
		return TypingTopic(id), true
	}
	return MessageTopic(id), true
}

// Has reports whether a conversation has an entry.
func (r *Registry) Has(conversationID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[conversationID]
	return ok
}

// Pending reports whether a conversation's entry awaits replay.
func (r *Registry) Pending(conversationID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	return ok && e.pending
}

// Conversations returns the subscribed conversation ids in ascending order.
func (r *Registry) Conversations() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedIDsLocked()
}

func (r *Registry) sortedIDsLocked() []int64 {
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// issueLocked sends the SUBSCRIBE frames for e. On failure the entry stays
// pending and is retried on the next Connected.
func (r *Registry) issueLocked(e *entry) bool {
	if err := r.conn.Subscribe(MessageTopic(e.conversationID), e.subID); err != nil {
		r.logger.Warn("subscribe failed, will retry on reconnect",
			"conversation_id", e.conversationID,
			"error", err)
		return false
	}
	if e.typingSubID != "" {
		if err := r.conn.Subscribe(TypingTopic(e.conversationID), e.typingSubID); err != nil {
			r.logger.Warn("typing subscribe failed",
				"conversation_id", e.conversationID,
				"error", err)
		}
	}
	e.pending = false
	r.logger.Debug("subscribed", "conversation_id", e.conversationID, "sub_id", e.subID)
	return true
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.entries, e.conversationID)
	delete(r.bySubID, e.subID)
	if e.typingSubID != "" {
		delete(r.bySubID, e.typingSubID)
	}

	if e.pending || !r.conn.IsConnected() {
		return
	}
	for _, id := range []string{e.subID, e.typingSubID} {
		if id == "" {
			continue
		}
		if err := r.conn.Unsubscribe(id); err != nil && !errors.Is(err, chat.ErrNotConnected) {
			r.logger.Warn("unsubscribe failed", "conversation_id", e.conversationID, "error", err)
		}
	}
}
