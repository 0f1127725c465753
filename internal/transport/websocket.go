// ABOUTME: STOMP over gorilla websocket, the production Conn implementation
// ABOUTME: Maps handshake 401/403 to auth errors and keeps the link alive with pings and heart-beats

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/2389/chatsync/internal/chat"
)

const (
	writeWait = 10 * time.Second
	// HeartbeatInterval is how often the client emits a keepalive. The
	// connection manager advertises it in the CONNECT heart-beat header.
	HeartbeatInterval = 10 * time.Second
)

// WebSocketDialer dials STOMP-over-websocket endpoints.
type WebSocketDialer struct {
	// Dialer is the underlying websocket dialer; nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Heartbeat overrides HeartbeatInterval; zero keeps the default,
	// negative disables keepalives.
	Heartbeat time.Duration
}

// Dial performs the websocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			e := chat.AuthError("handshake rejected", err)
			e.Status = resp.StatusCode
			return nil, e
		}
		return nil, chat.TransportError(fmt.Sprintf("dialing %s", url), err)
	}

	heartbeat := d.Heartbeat
	if heartbeat == 0 {
		heartbeat = HeartbeatInterval
	}
	return newWSConn(ws, heartbeat), nil
}

type wsConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	pending []*frame.Frame // decoded but not yet returned by ReadFrame

	once   sync.Once
	closed chan struct{}
}

func newWSConn(ws *websocket.Conn, heartbeat time.Duration) *wsConn {
	c := &wsConn{
		ws:     ws,
		closed: make(chan struct{}),
	}
	if heartbeat > 0 {
		go c.keepalive(heartbeat)
	}
	return c
}

func (c *wsConn) WriteFrame(f *frame.Frame) error {
	data, err := Encode(f)
	if err != nil {
		return chat.ProtocolError("encoding outbound frame", err)
	}
	return c.writeText(data)
}

func (c *wsConn) writeText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return chat.TransportError("setting write deadline", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return chat.TransportError("writing frame", err)
	}
	return nil
}

// ReadFrame is called from a single reader goroutine.
func (c *wsConn) ReadFrame() (*frame.Frame, error) {
	for len(c.pending) == 0 {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil, ErrClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, chat.TransportError("reading frame", err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		frames, err := Decode(data)
		c.pending = append(c.pending, frames...)
		if err != nil && len(c.pending) == 0 {
			return nil, chat.ProtocolError("decoding inbound frame", err)
		}
	}

	f := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return f, nil
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

// keepalive sends a websocket ping and a STOMP heart-beat newline each period
// until the connection closes or a write fails.
func (c *wsConn) keepalive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.writeText([]byte("\n")); err != nil && !errors.Is(err, ErrClosed) {
				return
			}
		}
	}
}
