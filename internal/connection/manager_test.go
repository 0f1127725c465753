// ABOUTME: Tests for the connection manager against the in-memory broker
// ABOUTME: Covers handshake, auth failures, reconnect with backoff, publishing and teardown

package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatsync/internal/chat"
	"github.com/2389/chatsync/internal/transport"
	"github.com/2389/chatsync/internal/transport/transporttest"
)

const testToken = "opaque-test-token"

type recordingListener struct {
	connected    atomic.Int32
	disconnected atomic.Int32
}

func (r *recordingListener) Connected()    { r.connected.Add(1) }
func (r *recordingListener) Disconnected() { r.disconnected.Add(1) }

func newTestManager(t *testing.T, broker *transporttest.Broker, backoff Backoff) *Manager {
	t.Helper()
	if backoff == (Backoff{}) {
		backoff = Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2, MaxAttempts: -1}
	}
	m := NewManager(Options{
		URL:     "ws://chat.test:8080/ws/websocket",
		Dialer:  broker,
		Backoff: backoff,
	}, nil)
	t.Cleanup(m.Disconnect)
	return m
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx, want), "waiting for %s, state is %s", want, m.State())
}

func TestManager_ConnectHandshake(t *testing.T) {
	broker := transporttest.NewBroker()
	m := newTestManager(t, broker, Backoff{})
	l := &recordingListener{}
	m.AddListener(l)

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)

	connects := broker.Frames("CONNECT")
	require.Len(t, connects, 1)
	assert.Equal(t, "1.2,1.1", connects[0].Header.Get("accept-version"))
	assert.Equal(t, "chat.test", connects[0].Header.Get("host"))
	assert.Equal(t, "Bearer "+testToken, connects[0].Header.Get("Authorization"))
	assert.Equal(t, "10000,10000", connects[0].Header.Get("heart-beat"))
	assert.Equal(t, "Bearer "+testToken, broker.AuthorizationHeader())
	assert.Equal(t, int32(1), l.connected.Load())
	assert.True(t, m.IsConnected())
}

func TestManager_ConnectIsNoOpWhileActive(t *testing.T) {
	broker := transporttest.NewBroker()
	m := newTestManager(t, broker, Backoff{})

	require.NoError(t, m.Connect(testToken))
	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)
	require.NoError(t, m.Connect(testToken))

	assert.Equal(t, 1, broker.Dials())
}

func TestManager_PreflightRejectsBadTokens(t *testing.T) {
	broker := transporttest.NewBroker()
	m := newTestManager(t, broker, Backoff{})

	err := m.Connect("")
	assert.True(t, chat.IsAuth(err), "empty token: %v", err)

	expired, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a@example.com",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, signErr)

	err = m.Connect(expired)
	assert.True(t, chat.IsAuth(err), "expired token: %v", err)

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, broker.Dials())
}

func TestManager_HandshakeRejectedIsTerminal(t *testing.T) {
	broker := transporttest.NewBroker()
	broker.RejectHandshake(http.StatusUnauthorized)
	m := newTestManager(t, broker, Backoff{})

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(s State, _ error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(testToken))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.Wait(ctx, StateConnected)
	require.Error(t, err)
	assert.True(t, chat.IsAuth(err))
	assert.Equal(t, StateFailed, m.State())
	assert.True(t, chat.IsAuth(m.Err()))

	// no retries after an auth failure
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, broker.Dials())

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateFailed}, states)
	mu.Unlock()
}

func TestManager_FailureWatcherMayDisconnect(t *testing.T) {
	broker := transporttest.NewBroker()
	broker.RejectHandshake(http.StatusUnauthorized)
	m := newTestManager(t, broker, Backoff{})

	returned := make(chan struct{})
	m.OnStateChange(func(s State, _ error) {
		if s == StateFailed {
			m.Disconnect()
			close(returned)
		}
	})

	require.NoError(t, m.Connect(testToken))

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("Disconnect from a Failed watcher did not return; state=%s", m.State())
	}
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_ErrorFrameBeforeConnectedIsAuth(t *testing.T) {
	broker := transporttest.NewBroker()
	broker.RejectConnect("Invalid JWT")
	m := newTestManager(t, broker, Backoff{})

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateFailed)

	var e *chat.Error
	require.True(t, errors.As(m.Err(), &e))
	assert.Equal(t, chat.KindAuth, e.Kind)
	assert.Equal(t, "Invalid JWT", e.Message)
}

func TestManager_ReconnectsAfterTransportLoss(t *testing.T) {
	broker := transporttest.NewBroker()
	m := newTestManager(t, broker, Backoff{})
	l := &recordingListener{}
	m.AddListener(l)

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)

	broker.DropConnections()

	require.Eventually(t, func() bool {
		return l.connected.Load() == 2 && m.IsConnected()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), l.disconnected.Load())
	assert.Equal(t, 2, broker.Dials())
}

func TestManager_InitialTransportFailureRetries(t *testing.T) {
	broker := transporttest.NewBroker()
	broker.RefuseDials(errors.New("connection refused"))
	m := newTestManager(t, broker, Backoff{})

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateReconnecting)
	assert.Equal(t, chat.KindTransport, chat.KindOf(m.Err()))

	broker.RefuseDials(nil)
	waitState(t, m, StateConnected)
	assert.GreaterOrEqual(t, broker.Dials(), 2)
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	broker := transporttest.NewBroker()
	broker.RefuseDials(errors.New("connection refused"))
	m := newTestManager(t, broker, Backoff{Initial: 10 * time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 1, MaxAttempts: 3})

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateFailed)

	assert.Equal(t, chat.KindTransport, chat.KindOf(m.Err()))
	assert.Equal(t, 3, broker.Dials())
}

func TestManager_DisconnectCancelsBackoff(t *testing.T) {
	broker := transporttest.NewBroker()
	broker.RefuseDials(errors.New("connection refused"))
	m := newTestManager(t, broker, Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 1})

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateReconnecting)

	returned := make(chan struct{})
	go func() {
		m.Disconnect()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked on the backoff timer")
	}
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, broker.Dials())
}

func TestManager_DisconnectSendsFrameAndNotifies(t *testing.T) {
	broker := transporttest.NewBroker()
	m := newTestManager(t, broker, Backoff{})
	l := &recordingListener{}
	m.AddListener(l)

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)

	m.Disconnect()

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, int32(1), l.disconnected.Load())
	require.Eventually(t, func() bool { return len(broker.Frames("DISCONNECT")) == 1 }, time.Second, 5*time.Millisecond)

	// no reconnect after an explicit disconnect
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, broker.Dials())

	// and the manager can be reused
	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)
}

func TestManager_SendRequiresConnection(t *testing.T) {
	broker := transporttest.NewBroker()
	m := newTestManager(t, broker, Backoff{})

	err := m.Send("/app/chat.send", "application/json", []byte(`{}`))
	assert.ErrorIs(t, err, chat.ErrNotConnected)
	assert.ErrorIs(t, m.Subscribe("/topic/conversation.1", "s1"), chat.ErrNotConnected)

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)

	require.NoError(t, m.Send("/app/chat.send", "application/json", []byte(`{"conversationId":1}`)))
	require.Eventually(t, func() bool { return len(broker.Frames("SEND")) == 1 }, time.Second, 5*time.Millisecond)

	sent := broker.Frames("SEND")[0]
	assert.Equal(t, "/app/chat.send", sent.Header.Get("destination"))
	assert.Equal(t, "application/json", sent.Header.Get("content-type"))
	assert.JSONEq(t, `{"conversationId":1}`, string(sent.Body))
}

func TestManager_SubscribeAndUnsubscribe(t *testing.T) {
	broker := transporttest.NewBroker()
	m := newTestManager(t, broker, Backoff{})
	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)

	require.NoError(t, m.Subscribe("/topic/conversation.9", "sub-9"))
	require.Eventually(t, func() bool { return broker.Subscribed("/topic/conversation.9") }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Unsubscribe("sub-9"))
	require.Eventually(t, func() bool { return !broker.Subscribed("/topic/conversation.9") }, time.Second, 5*time.Millisecond)
}

func TestManager_DispatchesMessagesAndSurvivesPanics(t *testing.T) {
	broker := transporttest.NewBroker()
	m := newTestManager(t, broker, Backoff{})

	got := make(chan *frame.Frame, 4)
	m.SetHandler(FrameHandlerFunc(func(f *frame.Frame) {
		if string(f.Body) == "boom" {
			panic("handler exploded")
		}
		got <- f
	}))

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)
	require.NoError(t, m.Subscribe("/topic/conversation.1", "s"))
	require.Eventually(t, func() bool { return broker.Subscribed("/topic/conversation.1") }, time.Second, 5*time.Millisecond)

	broker.Publish("/topic/conversation.1", []byte("boom"))
	broker.Publish("/topic/conversation.1", []byte("ok"))

	select {
	case f := <-got:
		assert.Equal(t, "ok", string(f.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("message after panic was not delivered")
	}
	assert.True(t, m.IsConnected())
}

// garblingConn turns the next inbound frame into a decode failure once armed.
type garblingConn struct {
	transport.Conn
	armed atomic.Bool
}

func (c *garblingConn) ReadFrame() (*frame.Frame, error) {
	f, err := c.Conn.ReadFrame()
	if err == nil && f.Command == "MESSAGE" && c.armed.CompareAndSwap(true, false) {
		return nil, chat.ProtocolError("decoding inbound frame", errors.New("invalid frame format"))
	}
	return f, err
}

func TestManager_UndecodableFrameKeepsConnection(t *testing.T) {
	broker := transporttest.NewBroker()
	var conn atomic.Pointer[garblingConn]
	m := NewManager(Options{
		URL: "ws://chat.test:8080/ws/websocket",
		Dialer: transport.DialerFunc(func(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
			inner, err := broker.Dial(ctx, url, header)
			if err != nil {
				return nil, err
			}
			c := &garblingConn{Conn: inner}
			conn.Store(c)
			return c, nil
		}),
		Backoff: Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2, MaxAttempts: -1},
	}, nil)
	t.Cleanup(m.Disconnect)
	l := &recordingListener{}
	m.AddListener(l)

	got := make(chan *frame.Frame, 4)
	m.SetHandler(FrameHandlerFunc(func(f *frame.Frame) { got <- f }))

	require.NoError(t, m.Connect(testToken))
	waitState(t, m, StateConnected)
	require.NoError(t, m.Subscribe("/topic/conversation.1", "s"))
	require.Eventually(t, func() bool { return broker.Subscribed("/topic/conversation.1") }, time.Second, 5*time.Millisecond)

	conn.Load().armed.Store(true)
	broker.Publish("/topic/conversation.1", []byte("garbled"))
	broker.Publish("/topic/conversation.1", []byte("ok"))

	select {
	case f := <-got:
		assert.Equal(t, "ok", string(f.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("frame after a decode failure was not delivered")
	}
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, broker.Dials())
	assert.Equal(t, int32(0), l.disconnected.Load())
}

func TestManager_WaitHonoursContext(t *testing.T) {
	m := NewManager(Options{URL: "ws://localhost/ws", Dialer: transporttest.NewBroker()}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx, StateConnected), context.DeadlineExceeded)
	assert.NoError(t, m.Wait(context.Background(), StateDisconnected))
}

func TestBackoff(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2, MaxAttempts: 3}

	assert.Equal(t, 2*time.Second, b.Next(time.Second))
	assert.Equal(t, 4*time.Second, b.Next(2*time.Second))
	assert.Equal(t, 5*time.Second, b.Next(4*time.Second), "capped at Max")

	assert.False(t, b.Exhausted(2))
	assert.True(t, b.Exhausted(3))

	b.MaxAttempts = -1
	assert.False(t, b.Exhausted(1_000_000))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.True(t, StateConnecting.Active())
	assert.False(t, StateFailed.Active())
}
