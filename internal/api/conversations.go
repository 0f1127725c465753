// ABOUTME: Conversation, history, message and participant endpoints
// ABOUTME: Thin typed wrappers over /chat/* REST routes

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/chatsync/internal/chat"
)

// ErrInvalidArgument is returned before any request is made when an
// argument cannot be sent to the server.
var ErrInvalidArgument = errors.New("invalid argument")

// CreateGroupRequest is the body of POST /chat/conversations/group.
type CreateGroupRequest struct {
	Name           string  `json:"name"`
	ParticipantIDs []int64 `json:"participantIds"`
}

// sendMessageRequest is the body of POST /chat/messages.
type sendMessageRequest struct {
	ConversationID int64            `json:"conversationId"`
	Content        string           `json:"content"`
	MessageType    chat.MessageType `json:"messageType"`
}

// ListConversations returns every conversation the current user is in.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/chat/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateDirectConversation opens (or returns the existing) direct
// conversation with another user.
func (c *Client) CreateDirectConversation(ctx context.Context, otherUserID int64) (*chat.Conversation, error) {
	if otherUserID <= 0 {
		return nil, ErrInvalidArgument
	}
	q := url.Values{"otherUserId": {idString(otherUserID)}}
	var out chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/chat/conversations/direct", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGroupConversation creates a named group with the given members.
func (c *Client) CreateGroupConversation(ctx context.Context, req CreateGroupRequest) (*chat.Conversation, error) {
	if strings.TrimSpace(req.Name) == "" || len(req.ParticipantIDs) == 0 {
		return nil, ErrInvalidArgument
	}
	var out chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/chat/conversations/group", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMessages returns one page of history. page is zero-based.
func (c *Client) GetMessages(ctx context.Context, conversationID int64, page, size int) ([]chat.Message, error) {
	if conversationID <= 0 || page < 0 || size <= 0 {
		return nil, ErrInvalidArgument
	}
	q := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
	var out []chat.Message
	path := "/chat/conversations/" + idString(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	// the history endpoint may omit conversationId on each entry
	for i := range out {
		if out[i].ConversationID == 0 {
			out[i].ConversationID = conversationID
		}
	}
	return out, nil
}

// SendMessage posts a message over REST. The realtime path is preferred;
// this exists for callers that need the stored message back synchronously.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string, messageType chat.MessageType) (*chat.Message, error) {
	if conversationID <= 0 {
		return nil, ErrInvalidArgument
	}
	if messageType == "" {
		messageType = chat.MessageTypeText
	}
	body := sendMessageRequest{ConversationID: conversationID, Content: content, MessageType: messageType}
	var out chat.Message
	if err := c.do(ctx, http.MethodPost, "/chat/messages", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddParticipant adds a user to a group conversation.
func (c *Client) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	if conversationID <= 0 || userID <= 0 {
		return ErrInvalidArgument
	}
	q := url.Values{"userId": {idString(userID)}}
	return c.do(ctx, http.MethodPost, participantsPath(conversationID), q, nil, nil)
}

// RemoveParticipant removes a user from a group conversation.
func (c *Client) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	if conversationID <= 0 || userID <= 0 {
		return ErrInvalidArgument
	}
	return c.do(ctx, http.MethodDelete, participantsPath(conversationID)+"/"+idString(userID), nil, nil, nil)
}

// MakeAdmin grants a participant admin rights in a group.
func (c *Client) MakeAdmin(ctx context.Context, conversationID, userID int64) error {
	if conversationID <= 0 || userID <= 0 {
		return ErrInvalidArgument
	}
	return c.do(ctx, http.MethodPut, participantsPath(conversationID)+"/"+idString(userID)+"/admin", nil, nil, nil)
}

func participantsPath(conversationID int64) string {
	return "/chat/conversations/" + idString(conversationID) + "/participants"
}
