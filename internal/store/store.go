// ABOUTME: In-memory conversation store with ordered, deduplicated message lists
// ABOUTME: Maintains last message and unread counts as inbound messages are applied

package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/2389/chatsync/internal/chat"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

type conversationState struct {
	conv     chat.Conversation
	messages []chat.Message // sorted by (CreatedAt, ID)
	ids      map[int64]struct{}
}

func newConversationState(c chat.Conversation) *conversationState {
	return &conversationState{
		conv: c.Clone(),
		ids:  make(map[int64]struct{}),
	}
}

// insert adds msg in order. It returns false when the id is already stored.
func (cs *conversationState) insert(msg chat.Message) bool {
	if _, dup := cs.ids[msg.ID]; dup {
		return false
	}
	i, _ := slices.BinarySearchFunc(cs.messages, msg, chat.Message.Compare)
	cs.messages = slices.Insert(cs.messages, i, msg)
	cs.ids[msg.ID] = struct{}{}

	if cs.conv.LastMessage == nil || msg.Compare(*cs.conv.LastMessage) > 0 {
		last := msg
		cs.conv.LastMessage = &last
	}
	return true
}

// Store holds conversations and messages for the signed-in user.
type Store struct {
	mu     sync.RWMutex
	order  []int64 // display order, head first
	convs  map[int64]*conversationState
	active int64 // 0 when nothing is selected
}

// New creates an empty store.
func New() *Store {
	return &Store{convs: make(map[int64]*conversationState)}
}

// SetConversations loads the server's conversation list in the server's
// order. Messages already held for listed conversations are kept and the
// server's unread counts are taken as-is. Conversations known locally but
// missing from convs stay, after the listed ones, in their previous order.
func (s *Store) SetConversations(convs []chat.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int64]*conversationState, len(convs)+len(s.order))
	order := make([]int64, 0, len(convs)+len(s.order))
	for _, c := range convs {
		if _, seen := next[c.ID]; seen || c.ID <= 0 {
			continue
		}
		cs := newConversationState(c)
		if prev, ok := s.convs[c.ID]; ok {
			cs.messages, cs.ids = prev.messages, prev.ids
			if prev.conv.LastMessage != nil &&
				(cs.conv.LastMessage == nil || prev.conv.LastMessage.Compare(*cs.conv.LastMessage) > 0) {
				last := *prev.conv.LastMessage
				cs.conv.LastMessage = &last
			}
		}
		next[c.ID] = cs
		order = append(order, c.ID)
	}
	for _, id := range s.order {
		if _, listed := next[id]; !listed {
			next[id] = s.convs[id]
			order = append(order, id)
		}
	}

	s.convs = next
	s.order = order
}

// UpsertConversation inserts c at the head of the ordering, or updates an
// existing conversation in place. Updates keep the stored messages, the
// local unread count and the newer of the two last messages. It reports
// whether c was new.
func (s *Store) UpsertConversation(c chat.Conversation) (bool, error) {
	if c.ID <= 0 {
		return false, fmt.Errorf("invalid conversation id %d", c.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.convs[c.ID]
	if !ok {
		s.convs[c.ID] = newConversationState(c)
		s.order = slices.Insert(s.order, 0, c.ID)
		return true, nil
	}

	updated := c.Clone()
	updated.UnreadCount = cs.conv.UnreadCount
	if cs.conv.LastMessage != nil &&
		(updated.LastMessage == nil || cs.conv.LastMessage.Compare(*updated.LastMessage) > 0) {
		updated.LastMessage = cs.conv.LastMessage
	}
	cs.conv = updated
	return false, nil
}

// ApplyInboundMessage records a message received on a conversation topic.
// Duplicates are ignored. A message for an unknown conversation creates a
// stub conversation at the head of the ordering. It reports whether the
// message was new.
func (s *Store) ApplyInboundMessage(msg chat.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.ensureLocked(msg)
	if !cs.insert(msg) {
		return false, nil
	}
	if s.active != msg.ConversationID {
		cs.conv.UnreadCount++
	}
	return true, nil
}

// MergeHistory merges a page of fetched history into a conversation using
// the same ordering and dedupe rules as inbound messages, without touching
// the unread count. Invalid messages and messages for other conversations
// are skipped. It returns how many messages were new.
func (s *Store) MergeHistory(conversationID int64, msgs []chat.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.convs[conversationID]
	if !ok {
		return 0, fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}

	added := 0
	for _, msg := range msgs {
		if msg.ConversationID == 0 {
			msg.ConversationID = conversationID
		}
		if msg.ConversationID != conversationID || msg.Validate() != nil {
			continue
		}
		if cs.insert(msg) {
			added++
		}
	}
	return added, nil
}

// SetActive marks the conversation the user is looking at and resets its
// unread count.
func (s *Store) SetActive(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	s.active = id
	cs.conv.UnreadCount = 0
	return nil
}

// ClearActive deselects the active conversation.
func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = 0
}

// Active returns the active conversation id, or 0.
func (s *Store) Active() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Conversations returns every conversation in display order.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.convs[id].conv.Clone())
	}
	return out
}

// Conversation returns one conversation.
func (s *Store) Conversation(id int64) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.convs[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return cs.conv.Clone(), true
}

// Messages returns a conversation's messages in (CreatedAt, ID) order.
func (s *Store) Messages(id int64) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.convs[id]
	if !ok {
		return nil
	}
	return slices.Clone(cs.messages)
}

// TotalUnread sums unread counts across conversations.
func (s *Store) TotalUnread() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, cs := range s.convs {
		n += cs.conv.UnreadCount
	}
	return n
}

// Clear drops everything, as on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = make(map[int64]*conversationState)
	s.order = nil
	s.active = 0
}

// ensureLocked returns the state for msg's conversation, creating a stub at
// the head when it is unknown.
func (s *Store) ensureLocked(msg chat.Message) *conversationState {
	if cs, ok := s.convs[msg.ConversationID]; ok {
		return cs
	}
	cs := newConversationState(chat.Conversation{
		ID:        msg.ConversationID,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.CreatedAt,
	})
	s.convs[msg.ConversationID] = cs
	s.order = slices.Insert(s.order, 0, msg.ConversationID)
	return cs
}
