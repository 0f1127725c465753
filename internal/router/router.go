// ABOUTME: Inbound frame router from topic destinations to conversation handlers
// ABOUTME: Decodes and validates message and typing payloads, drops duplicates and malformed frames

package router

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/2389/chatsync/internal/chat"
	"github.com/2389/chatsync/internal/dedupe"
	"github.com/2389/chatsync/internal/subscription"
)

// Registry is the lookup side of the subscription registry.
type Registry interface {
	Handler(conversationID int64) (subscription.Handler, bool)
	DestinationForSubscription(subID string) (string, bool)
}

// DeliveryKey identifies a message for redelivery detection.
type DeliveryKey struct {
	ConversationID int64
	MessageID      int64
}

// Router dispatches inbound frames. It implements connection.FrameHandler.
type Router struct {
	registry Registry
	seen     *dedupe.Cache[DeliveryKey]
	logger   *slog.Logger
}

// New creates a router. seen may be nil to disable redelivery filtering.
// Pass nil logger for default.
func New(registry Registry, seen *dedupe.Cache[DeliveryKey], logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		seen:     seen,
		logger:   logger.With("component", "router"),
	}
}

// HandleFrame routes f, logging and dropping anything that cannot be routed.
func (r *Router) HandleFrame(f *frame.Frame) {
	if err := r.Route(f); err != nil {
		r.logger.Warn("dropping inbound frame",
			"error", err,
			"destination", f.Header.Get("destination"),
			"subscription", f.Header.Get("subscription"))
	}
}

// Route dispatches f to its conversation's handler. It returns a protocol
// error for malformed frames and nil for frames dropped on purpose (no
// handler, duplicate).
func (r *Router) Route(f *frame.Frame) error {
	if f.Command != "MESSAGE" {
		return chat.ProtocolError(fmt.Sprintf("unexpected %s frame", f.Command), nil)
	}

	destination := f.Header.Get("destination")
	if destination == "" {
		subID := f.Header.Get("subscription")
		dest, ok := r.registry.DestinationForSubscription(subID)
		if !ok {
			r.logger.Debug("no destination and unknown subscription", "subscription", subID)
			return nil
		}
		destination = dest
	}

	conversationID, typing, err := subscription.ParseTopic(destination)
	if err != nil {
		return chat.ProtocolError("unroutable destination", err)
	}

	if typing {
		return r.routeTyping(conversationID, f.Body)
	}
	return r.routeMessage(conversationID, f.Body)
}

func (r *Router) routeMessage(conversationID int64, body []byte) error {
	msg, err := DecodeMessage(conversationID, body)
	if err != nil {
		return err
	}

	h, ok := r.registry.Handler(conversationID)
	if !ok {
		r.logger.Debug("no handler for conversation", "conversation_id", conversationID, "message_id", msg.ID)
		return nil
	}

	if r.seen != nil && r.seen.Observe(DeliveryKey{ConversationID: conversationID, MessageID: msg.ID}) {
		r.logger.Debug("dropping redelivered message", "conversation_id", conversationID, "message_id", msg.ID)
		return nil
	}

	r.safely(conversationID, func() { h.HandleMessage(msg) })
	return nil
}

func (r *Router) routeTyping(conversationID int64, body []byte) error {
	var ev chat.TypingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return chat.ProtocolError("decoding typing event", err)
	}
	if ev.ConversationID == 0 {
		ev.ConversationID = conversationID
	}
	if ev.ConversationID != conversationID {
		return chat.ProtocolError(fmt.Sprintf("typing event for conversation %d on topic %d", ev.ConversationID, conversationID), nil)
	}

	h, ok := r.registry.Handler(conversationID)
	if !ok {
		return nil
	}
	th, ok := h.(subscription.TypingHandler)
	if !ok {
		return nil
	}

	r.safely(conversationID, func() { th.HandleTyping(ev) })
	return nil
}

func (r *Router) safely(conversationID int64, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("conversation handler panicked",
				"conversation_id", conversationID,
				"panic", p)
		}
	}()
	fn()
}

// DecodeMessage parses and validates a message payload received on the
// topic of conversationID. A missing conversationId or messageType is
// filled in from the topic and TEXT respectively.
func DecodeMessage(conversationID int64, body []byte) (chat.Message, error) {
	var msg chat.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return chat.Message{}, chat.ProtocolError("decoding message", err)
	}

	if msg.ConversationID == 0 {
		msg.ConversationID = conversationID
	}
	if msg.ConversationID != conversationID {
		return chat.Message{}, chat.ProtocolError(
			fmt.Sprintf("message for conversation %d on topic %d", msg.ConversationID, conversationID), nil)
	}
	if msg.Type == "" {
		msg.Type = chat.MessageTypeText
	}
	if err := msg.Validate(); err != nil {
		return chat.Message{}, chat.ProtocolError("invalid message", err)
	}
	return msg, nil
}
