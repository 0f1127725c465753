// ABOUTME: UI-facing events emitted as the sync engine changes state
// ABOUTME: Message applied, typing, conversation upserts and connection transitions

package conversation

import "github.com/2389/chatsync/internal/chat"

// EventKind identifies what an Event carries.
type EventKind int

// Event kinds.
const (
	EventMessage      EventKind = iota + 1 // a new message was stored
	EventTyping                            // a participant started or stopped typing
	EventConversation                      // a conversation was created or updated
	EventConnection                        // the connection changed state
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventTyping:
		return "typing"
	case EventConversation:
		return "conversation"
	case EventConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Event is a notification for UI subscribers. ConversationID is zero for
// connection events.
type Event struct {
	Kind           EventKind
	ConversationID int64
	Message        *chat.Message
	Typing         *chat.TypingEvent
	Conversation   *chat.Conversation
	State          string
	Err            error
}

// MessageEvent wraps a stored message.
func MessageEvent(m chat.Message) *Event {
	return &Event{Kind: EventMessage, ConversationID: m.ConversationID, Message: &m}
}

// TypingEventFor wraps a typing indicator.
func TypingEventFor(ev chat.TypingEvent) *Event {
	return &Event{Kind: EventTyping, ConversationID: ev.ConversationID, Typing: &ev}
}

// ConversationEvent wraps a created or updated conversation.
func ConversationEvent(c chat.Conversation) *Event {
	c = c.Clone()
	return &Event{Kind: EventConversation, ConversationID: c.ID, Conversation: &c}
}

// ConnectionEvent reports a connection state change.
func ConnectionEvent(state string, err error) *Event {
	return &Event{Kind: EventConnection, State: state, Err: err}
}
