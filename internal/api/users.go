// ABOUTME: User lookup endpoints
// ABOUTME: Current user and search by email fragment

package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/chatsync/internal/chat"
)

// CurrentUser returns the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*chat.User, error) {
	var out chat.User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchUsers finds users whose email matches query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]chat.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidArgument
	}
	var out []chat.User
	if err := c.do(ctx, http.MethodGet, "/users/search", url.Values{"query": {query}}, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
