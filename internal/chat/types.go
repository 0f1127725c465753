// ABOUTME: Domain types shared by every chatsync component
// ABOUTME: Message, Conversation, Participant, User and TypingEvent with their wire shapes

package chat

import (
	"fmt"
	"strings"
)

// MessageType is the kind of payload a message carries.
type MessageType string

// Message types accepted by the server.
const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeImage    MessageType = "IMAGE"
	MessageTypeVideo    MessageType = "VIDEO"
	MessageTypeAudio    MessageType = "AUDIO"
	MessageTypeDocument MessageType = "DOCUMENT"
	MessageTypeFile     MessageType = "FILE"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo,
		MessageTypeAudio, MessageTypeDocument, MessageTypeFile:
		return true
	}
	return false
}

// IsMedia reports whether the message type references an uploaded file.
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != MessageTypeText
}

// ParseMessageType normalises s (case-insensitive) into a MessageType.
// An empty string maps to TEXT.
func ParseMessageType(s string) (MessageType, error) {
	if s == "" {
		return MessageTypeText, nil
	}
	t := MessageType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown message type %q", s)
	}
	return t, nil
}

// Message is a single chat message within a conversation.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversationId"`
	SenderID       int64       `json:"senderId"`
	SenderEmail    string      `json:"senderEmail"`
	Content        string      `json:"content"`
	Type           MessageType `json:"messageType"`
	FileURL        string      `json:"fileUrl,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	FileSize       int64       `json:"fileSize,omitempty"`
	CreatedAt      Timestamp   `json:"createdAt"`
	IsRead         bool        `json:"isRead"`
}

// Validate checks the fields every stored message must carry.
func (m Message) Validate() error {
	if m.ID == 0 {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	if m.ConversationID == 0 {
		return fmt.Errorf("%w: conversationId", ErrMissingField)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("%w: createdAt", ErrMissingField)
	}
	if m.Type != "" && !m.Type.Valid() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// Compare orders messages by (CreatedAt, ID) ascending. It returns a negative
// number when m sorts before other, zero when the keys are equal, and a
// positive number otherwise.
func (m Message) Compare(other Message) int {
	if c := m.CreatedAt.Time.Compare(other.CreatedAt.Time); c != 0 {
		return c
	}
	switch {
	case m.ID < other.ID:
		return -1
	case m.ID > other.ID:
		return 1
	}
	return 0
}

// Participant is a member of a conversation.
type Participant struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	UserEmail string    `json:"userEmail"`
	IsAdmin   bool      `json:"isAdmin"`
	JoinedAt  Timestamp `json:"joinedAt"`
}

// Conversation is a direct or group chat together with its summary state.
type Conversation struct {
	ID           int64         `json:"id"`
	Name         *string       `json:"name"`
	IsGroup      bool          `json:"isGroup"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int64         `json:"unreadCount"`
	CreatedAt    Timestamp     `json:"createdAt"`
	UpdatedAt    Timestamp     `json:"updatedAt"`
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Name != nil {
		name := *c.Name
		out.Name = &name
	}
	if c.Participants != nil {
		out.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return out
}

// User is an account as returned by the users API.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TypingEvent reports that a participant started or stopped typing.
type TypingEvent struct {
	ConversationID int64  `json:"conversationId"`
	UserEmail      string `json:"userEmail"`
	IsTyping       bool   `json:"isTyping"`
}

// NormalizeEmail trims and lower-cases an email address for comparisons.
func NormalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
