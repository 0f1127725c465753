// ABOUTME: Inbound handler applying routed messages and typing events
// ABOUTME: Also holds the read accessors a UI renders from

package session

import (
	"context"

	"github.com/2389/chatsync/internal/chat"
	"github.com/2389/chatsync/internal/connection"
	"github.com/2389/chatsync/internal/conversation"
	"github.com/2389/chatsync/internal/store"
)

// inbound is the handler registered for every subscribed conversation.
type inbound struct {
	s *Session
}

func (h inbound) HandleMessage(msg chat.Message) {
	added, err := h.s.store.ApplyInboundMessage(msg)
	if err != nil {
		h.s.logger.Warn("dropping invalid message",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID,
			"error", err)
		return
	}
	if !added {
		return
	}
	h.s.events.Publish(conversation.MessageEvent(msg))
}

func (h inbound) HandleTyping(ev chat.TypingEvent) {
	if me := h.s.Me(); me != nil && chat.NormalizeEmail(ev.UserEmail) == chat.NormalizeEmail(me.Email) {
		return
	}
	h.s.events.Publish(conversation.TypingEventFor(ev))
}

// Events subscribes to session events for one conversation, or for
// everything with conversation.AllConversations. The channel closes when
// ctx ends or the session is closed.
func (s *Session) Events(ctx context.Context, conversationID int64) <-chan *conversation.Event {
	ch, _ := s.events.Subscribe(ctx, conversationID)
	return ch
}

// Me returns the signed-in user, or nil before Start.
func (s *Session) Me() *chat.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.me == nil {
		return nil
	}
	me := *s.me
	return &me
}

// Conversations returns the conversation list in display order.
func (s *Session) Conversations() []chat.Conversation {
	return s.store.Conversations()
}

// Conversation returns one conversation.
func (s *Session) Conversation(id int64) (chat.Conversation, bool) {
	return s.store.Conversation(id)
}

// Messages returns a conversation's messages, oldest first.
func (s *Session) Messages(id int64) []chat.Message {
	return s.store.Messages(id)
}

// Active returns the selected conversation id, or 0.
func (s *Session) Active() int64 {
	return s.store.Active()
}

// TotalUnread sums unread counts across conversations.
func (s *Session) TotalUnread() int64 {
	return s.store.TotalUnread()
}

// DisplayName is the label shown for a conversation.
func (s *Session) DisplayName(c chat.Conversation) string {
	var email string
	if me := s.Me(); me != nil {
		email = me.Email
	}
	return store.DisplayName(c, email)
}

// State returns the connection state.
func (s *Session) State() connection.State {
	return s.manager.State()
}

// Wait blocks until the connection reaches state or ctx ends.
func (s *Session) Wait(ctx context.Context, state connection.State) error {
	return s.manager.Wait(ctx, state)
}
