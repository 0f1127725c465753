// ABOUTME: HTTP client for the chat server's REST API
// ABOUTME: Adds the bearer token, decodes JSON, and maps failures onto chat.Error

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/chatsync/internal/auth"
	"github.com/2389/chatsync/internal/chat"
)

// DefaultTimeout bounds a single REST call.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to the chat server's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client rooted at baseURL (for example
// http://localhost:8080/api). Pass nil logger for default.
func NewClient(baseURL, token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errorBody is the JSON error shape returned by the server. Either field
// may carry the human-readable reason.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do issues a request and decodes a JSON response into out (nil to discard).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", auth.BearerHeader(c.token))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return chat.TransportError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return chat.ProtocolError(fmt.Sprintf("%s %s: empty response body", method, path), err)
		}
		return chat.ProtocolError(fmt.Sprintf("%s %s: decoding response", method, path), err)
	}
	return nil
}

// handleErrorResponse maps a non-2xx response onto the error taxonomy.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(data))
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		switch {
		case eb.Message != "":
			msg = eb.Message
		case eb.Error != "":
			msg = eb.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		e := chat.AuthError(msg, nil)
		e.Status = resp.StatusCode
		return e
	}
	return chat.ApplicationError(resp.StatusCode, msg)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
