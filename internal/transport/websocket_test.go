// ABOUTME: Tests for the websocket transport against an httptest server
// ABOUTME: Covers frame round trips, batched frames, handshake rejection and close handling

package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatsync/internal/chat"
)

// newWSServer starts a websocket server that hands each accepted socket to serve.
func newWSServer(t *testing.T, serve func(ws *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		serve(ws, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func authHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestWebSocket_RoundTrip(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn, _ *http.Request) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frames, err := Decode(data)
		if err != nil || len(frames) != 1 || frames[0].Command != "CONNECT" {
			return
		}
		reply, _ := Encode(frame.New("CONNECTED", "version", "1.2"))
		_ = ws.WriteMessage(websocket.TextMessage, reply)
		// block until the client goes away
		_, _, _ = ws.ReadMessage()
	})

	d := &WebSocketDialer{Heartbeat: -1}
	conn, err := d.Dial(context.Background(), url, authHeader("good"))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteFrame(frame.New("CONNECT", "accept-version", "1.2")))
	got, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "CONNECTED", got.Command)
}

func TestWebSocket_BatchedFramesAndHeartbeats(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn, _ *http.Request) {
		a, _ := Encode(frame.New("MESSAGE", "destination", "/topic/conversation.1"))
		b, _ := Encode(frame.New("MESSAGE", "destination", "/topic/conversation.2"))
		_ = ws.WriteMessage(websocket.TextMessage, []byte("\n"))
		_ = ws.WriteMessage(websocket.TextMessage, append(a, b...))
		_, _, _ = ws.ReadMessage()
	})

	conn, err := (&WebSocketDialer{Heartbeat: -1}).Dial(context.Background(), url, authHeader("good"))
	require.NoError(t, err)
	defer conn.Close()

	first, err := conn.ReadFrame()
	require.NoError(t, err)
	second, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "/topic/conversation.1", first.Header.Get("destination"))
	assert.Equal(t, "/topic/conversation.2", second.Header.Get("destination"))
}

func TestWebSocket_HandshakeUnauthorized(t *testing.T) {
	url := newWSServer(t, func(*websocket.Conn, *http.Request) {})

	_, err := (&WebSocketDialer{}).Dial(context.Background(), url, authHeader("bad"))
	require.Error(t, err)
	assert.True(t, chat.IsAuth(err), "401 on upgrade should be an auth error, got %v", err)
}

func TestWebSocket_DialFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := (&WebSocketDialer{}).Dial(context.Background(), url, nil)
	require.Error(t, err)
	assert.Equal(t, chat.KindTransport, chat.KindOf(err))
}

func TestWebSocket_ServerCloseIsEOF(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn, _ *http.Request) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
	})

	conn, err := (&WebSocketDialer{Heartbeat: -1}).Dial(context.Background(), url, authHeader("good"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWebSocket_LocalCloseUnblocksRead(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn, _ *http.Request) {
		_, _, _ = ws.ReadMessage()
	})

	conn, err := (&WebSocketDialer{Heartbeat: -1}).Dial(context.Background(), url, authHeader("good"))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame()
		errc <- err
	}()

	require.NoError(t, conn.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame did not return after Close")
	}
	assert.ErrorIs(t, conn.WriteFrame(frame.New("SEND")), ErrClosed)
}

func TestWebSocket_KeepaliveSendsHeartbeats(t *testing.T) {
	got := make(chan []byte, 4)
	url := newWSServer(t, func(ws *websocket.Conn, _ *http.Request) {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			got <- data
		}
	})

	conn, err := (&WebSocketDialer{Heartbeat: 10 * time.Millisecond}).Dial(context.Background(), url, authHeader("good"))
	require.NoError(t, err)
	defer conn.Close()

	select {
	case data := <-got:
		assert.Equal(t, "\n", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("no heart-beat received")
	}
}

func TestWebSocket_UndecodableMessageIsProtocolError(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn, _ *http.Request) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("MESSAGE\nbadheader\n\nx\x00"))
		ok, _ := Encode(frame.New("MESSAGE", "destination", "/topic/conversation.3"))
		_ = ws.WriteMessage(websocket.TextMessage, ok)
		_, _, _ = ws.ReadMessage()
	})

	conn, err := (&WebSocketDialer{Heartbeat: -1}).Dial(context.Background(), url, authHeader("good"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame()
	require.Error(t, err)
	assert.Equal(t, chat.KindProtocol, chat.KindOf(err))

	// the connection keeps reading after a bad message
	got, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "/topic/conversation.3", got.Header.Get("destination"))
}
