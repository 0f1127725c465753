// ABOUTME: Destination naming for conversation and typing topics
// ABOUTME: Formats topics for SUBSCRIBE and parses them back on inbound MESSAGE frames

package subscription

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	topicPrefix  = "/topic/conversation."
	typingSuffix = ".typing"
)

// ErrBadDestination marks a destination that is not a conversation topic.
var ErrBadDestination = errors.New("not a conversation topic")

// MessageTopic returns the message topic for a conversation.
func MessageTopic(conversationID int64) string {
	return topicPrefix + strconv.FormatInt(conversationID, 10)
}

// TypingTopic returns the typing-indicator topic for a conversation.
func TypingTopic(conversationID int64) string {
	return MessageTopic(conversationID) + typingSuffix
}

// ParseTopic recovers the conversation id from a topic and reports whether
// it is the typing topic.
func ParseTopic(destination string) (conversationID int64, typing bool, err error) {
	rest, ok := strings.CutPrefix(destination, topicPrefix)
	if !ok {
		return 0, false, fmt.Errorf("%w: %q", ErrBadDestination, destination)
	}
	if idPart, isTyping := strings.CutSuffix(rest, typingSuffix); isTyping {
		rest, typing = idPart, true
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, fmt.Errorf("%w: %q", ErrBadDestination, destination)
	}
	return id, typing, nil
}
