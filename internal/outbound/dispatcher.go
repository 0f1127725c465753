// ABOUTME: Outbound dispatcher for chat messages and typing indicators
// ABOUTME: Validates input, fails fast while disconnected and throttles typing-start per conversation

package outbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/chatsync/internal/chat"
)

// Application destinations.
const (
	SendDestination   = "/app/chat.send"
	TypingDestination = "/app/chat.typing"

	contentTypeJSON = "application/json"
)

// Validation errors.
var (
	ErrInvalidConversation = errors.New("invalid conversation id")
	ErrEmptyContent        = errors.New("message content is empty")
)

// Publisher is the slice of the connection manager the dispatcher uses.
type Publisher interface {
	Send(destination, contentType string, body []byte) error
	IsConnected() bool
}

type sendPayload struct {
	ConversationID int64            `json:"conversationId"`
	Content        string           `json:"content"`
	MessageType    chat.MessageType `json:"messageType"`
}

type typingPayload struct {
	ConversationID int64 `json:"conversationId"`
	IsTyping       bool  `json:"isTyping"`
}

// Dispatcher publishes outbound frames. It implements connection.Listener.
type Dispatcher struct {
	pub            Publisher
	typingInterval time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu       sync.Mutex
	ready    bool
	limiters map[int64]*rate.Limiter
}

// NewDispatcher creates a dispatcher. A typingInterval of zero disables
// typing throttling. Pass nil logger for default.
func NewDispatcher(pub Publisher, typingInterval time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pub:            pub,
		typingInterval: typingInterval,
		now:            time.Now,
		logger:         logger.With("component", "outbound"),
		ready:          pub.IsConnected(),
		limiters:       make(map[int64]*rate.Limiter),
	}
}

// Connected marks publishing as possible. The manager calls it once the
// connection is attached, just before its state flips to Connected.
func (d *Dispatcher) Connected() {
	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
}

// Disconnected marks publishing as impossible.
func (d *Dispatcher) Disconnected() {
	d.mu.Lock()
	d.ready = false
	d.mu.Unlock()
}

// Ready reports whether the last lifecycle edge was Connected.
func (d *Dispatcher) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// SendMessage publishes a new message to a conversation. An empty
// messageType means TEXT; TEXT messages need non-blank content.
func (d *Dispatcher) SendMessage(conversationID int64, content string, messageType chat.MessageType) error {
	if conversationID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConversation, conversationID)
	}
	if messageType == "" {
		messageType = chat.MessageTypeText
	}
	if !messageType.Valid() {
		return fmt.Errorf("unknown message type %q", messageType)
	}
	if messageType == chat.MessageTypeText && strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if !d.Ready() {
		return chat.ErrNotConnected
	}

	err := d.publish(SendDestination, sendPayload{
		ConversationID: conversationID,
		Content:        content,
		MessageType:    messageType,
	})
	if err != nil {
		return err
	}
	d.logger.Debug("message published", "conversation_id", conversationID, "type", messageType)
	return nil
}

// SendTypingIndicator publishes a typing start or stop. Starts closer
// together than the typing interval are dropped without error; stops are
// always sent and let the next start through immediately.
func (d *Dispatcher) SendTypingIndicator(conversationID int64, isTyping bool) error {
	if conversationID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConversation, conversationID)
	}
	if !d.Ready() {
		return chat.ErrNotConnected
	}

	if isTyping && !d.allowTyping(conversationID) {
		d.logger.Debug("typing indicator throttled", "conversation_id", conversationID)
		return nil
	}
	if !isTyping {
		d.Forget(conversationID)
	}

	return d.publish(TypingDestination, typingPayload{
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
}

// Forget drops the typing throttle state of a conversation.
func (d *Dispatcher) Forget(conversationID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.limiters, conversationID)
}

func (d *Dispatcher) allowTyping(conversationID int64) bool {
	if d.typingInterval <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	lim, ok := d.limiters[conversationID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(d.typingInterval), 1)
		d.limiters[conversationID] = lim
	}
	return lim.AllowN(d.now(), 1)
}

func (d *Dispatcher) publish(destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", destination, err)
	}
	if err := d.pub.Send(destination, contentTypeJSON, body); err != nil {
		if errors.Is(err, chat.ErrNotConnected) {
			return chat.ErrNotConnected
		}
		return fmt.Errorf("publishing to %s: %w", destination, err)
	}
	return nil
}
