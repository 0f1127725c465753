// ABOUTME: Connection manager that owns the STOMP session and its reconnect loop
// ABOUTME: Serialises outbound frames and fans lifecycle edges out to listeners

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/2389/chatsync/internal/auth"
	"github.com/2389/chatsync/internal/chat"
	"github.com/2389/chatsync/internal/transport"
)

const acceptVersion = "1.2,1.1"

// Options configures a Manager.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws/websocket.
	URL string
	// Dialer opens the transport. Nil uses transport.WebSocketDialer.
	Dialer transport.Dialer
	// Backoff is the reconnect policy. The zero value uses DefaultBackoff.
	Backoff Backoff
	// Heartbeat is advertised in the CONNECT heart-beat header.
	Heartbeat time.Duration
	// Now is used for token expiry checks. Nil uses time.Now.
	Now func() time.Time
}

// Manager owns at most one physical connection at a time.
type Manager struct {
	url       string
	host      string
	dialer    transport.Dialer
	backoff   Backoff
	heartbeat time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	err        error
	conn       transport.Conn // set from handshake completion until loss
	generation uint64         // bumped by every Connect and Disconnect
	cancel     context.CancelFunc
	done       chan struct{} // closed when the lifecycle goroutine exits
	changed    chan struct{} // closed and replaced on every transition
	listeners  []Listener
	watchers   []StateFunc
	handler    FrameHandler

	// writeMu orders every outbound frame on the wire.
	writeMu sync.Mutex
}

// NewManager creates a disconnected manager. Pass nil logger for default.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.WebSocketDialer{}
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = transport.HeartbeatInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	host := "localhost"
	if u, err := url.Parse(opts.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	return &Manager{
		url:       opts.URL,
		host:      host,
		dialer:    opts.Dialer,
		backoff:   opts.Backoff,
		heartbeat: opts.Heartbeat,
		now:       opts.Now,
		logger:    logger.With("component", "connection"),
		changed:   make(chan struct{}),
	}
}

// AddListener registers l for connect and disconnect edges. Register
// listeners before calling Connect.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// OnStateChange registers fn for every state transition.
func (m *Manager) OnStateChange(fn StateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// SetHandler sets the receiver of inbound MESSAGE frames.
func (m *Manager) SetHandler(h FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error behind the current state, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// IsConnected reports whether frames can be published right now.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Connect starts the connection lifecycle in the background and returns
// immediately. It is a no-op while a lifecycle is already active. An empty
// or expired token fails synchronously with an auth error.
func (m *Manager) Connect(token string) error {
	m.mu.Lock()
	if m.state.Active() {
		m.mu.Unlock()
		return nil
	}

	if err := auth.CheckUsable(token, m.now()); err != nil {
		m.mu.Unlock()
		return chat.AuthError("token rejected before connecting", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.generation++
	gen := m.generation
	m.cancel = cancel
	m.done = done
	notify := m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()
	notify()

	m.logger.Info("connecting", "url", m.url)
	go m.run(ctx, gen, token, done)
	return nil
}

// Disconnect ends the lifecycle from any state: it sends a best-effort
// DISCONNECT, closes the connection, cancels any pending backoff and waits
// for the lifecycle goroutine to exit.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, conn, prev := m.cancel, m.done, m.conn, m.state
	m.generation++
	m.cancel = nil
	m.done = nil
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		if err := conn.WriteFrame(frame.New("DISCONNECT")); err != nil {
			m.logger.Debug("DISCONNECT not delivered", "error", err)
		}
		m.writeMu.Unlock()
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	notify := m.setStateLocked(StateDisconnected, nil)
	listeners := m.listeners
	m.mu.Unlock()
	notify()

	if conn != nil {
		for _, l := range listeners {
			l.Disconnected()
		}
	}
	if prev != StateDisconnected {
		m.logger.Info("disconnected", "previous_state", prev.String())
	}
}

// Wait blocks until the manager reaches want or ctx ends. Waiting for any
// state other than StateFailed returns the failure error once the manager
// has failed.
func (m *Manager) Wait(ctx context.Context, want State) error {
	for {
		m.mu.Lock()
		state, err, changed := m.state, m.err, m.changed
		m.mu.Unlock()

		if state == want {
			return nil
		}
		if state == StateFailed {
			if err == nil {
				err = errors.New("connection failed")
			}
			return err
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send publishes body to destination. It returns chat.ErrNotConnected
// while no connection is attached. A connection is attached slightly
// before State reports Connected, so listeners can publish from Connected.
func (m *Manager) Send(destination, contentType string, body []byte) error {
	f := frame.New("SEND",
		"destination", destination,
		"content-type", contentType,
		"content-length", strconv.Itoa(len(body)))
	f.Body = body
	return m.write(f)
}

// Subscribe issues a SUBSCRIBE for destination under subscription id.
func (m *Manager) Subscribe(destination, id string) error {
	return m.write(frame.New("SUBSCRIBE", "id", id, "destination", destination, "ack", "auto"))
}

// Unsubscribe issues an UNSUBSCRIBE for subscription id.
func (m *Manager) Unsubscribe(id string) error {
	return m.write(frame.New("UNSUBSCRIBE", "id", id))
}

func (m *Manager) write(f *frame.Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return chat.ErrNotConnected
	}

	if err := conn.WriteFrame(f); err != nil {
		return chat.TransportError("writing "+f.Command+" frame", err)
	}
	m.logger.Debug("frame sent", "command", f.Command, "destination", f.Header.Get("destination"))
	return nil
}

// run is the lifecycle goroutine. It establishes the session, reads until
// the transport drops, then backs off and retries. Watchers of the terminal
// Failed transition run after done is closed so they may call Disconnect.
func (m *Manager) run(ctx context.Context, gen uint64, token string, done chan struct{}) {
	notifyFailed := func() {}
	defer func() {
		close(done)
		notifyFailed()
	}()

	delay := m.backoff.Initial
	failures := 0

	for {
		conn, err := m.establish(ctx, token)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err != nil {
			if chat.IsAuth(err) {
				m.logger.Warn("authentication rejected", "error", err)
				notifyFailed = m.fail(gen, err)
				return
			}

			failures++
			if m.backoff.Exhausted(failures) {
				final := chat.TransportError(fmt.Sprintf("giving up after %d attempts", failures), err)
				m.logger.Error("reconnect attempts exhausted", "attempts", failures, "error", err)
				notifyFailed = m.fail(gen, final)
				return
			}

			m.logger.Warn("connect failed, will retry",
				"error", err,
				"attempt", failures,
				"backoff", delay)
			if !m.transition(gen, StateReconnecting, err) {
				return
			}
			if !sleep(ctx, delay) {
				return
			}
			delay = m.backoff.Next(delay)
			continue
		}

		if !m.attach(ctx, gen, conn) {
			conn.Close()
			return
		}
		failures = 0
		delay = m.backoff.Initial

		readErr := m.readLoop(conn)
		conn.Close()

		if !m.detach(gen, readErr) {
			return
		}
		m.logger.Warn("connection lost, will reconnect", "error", readErr, "backoff", delay)
		if !sleep(ctx, delay) {
			return
		}
		delay = m.backoff.Next(delay)
	}
}

// establish dials and completes the STOMP handshake.
func (m *Manager) establish(ctx context.Context, token string) (transport.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", auth.BearerHeader(token))

	conn, err := m.dialer.Dial(ctx, m.url, header)
	if err != nil {
		if chat.KindOf(err) == chat.KindUnknown {
			err = chat.TransportError("dialing "+m.url, err)
		}
		return nil, err
	}

	// unblock ReadFrame if Disconnect lands mid-handshake
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hb := strconv.FormatInt(m.heartbeat.Milliseconds(), 10)
	connect := frame.New("CONNECT",
		"accept-version", acceptVersion,
		"host", m.host,
		"heart-beat", hb+","+hb,
		"Authorization", auth.BearerHeader(token))
	if err := conn.WriteFrame(connect); err != nil {
		conn.Close()
		return nil, chat.TransportError("sending CONNECT", err)
	}

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if chat.KindOf(err) == chat.KindProtocol {
				m.logger.Warn("dropping undecodable frame before CONNECTED", "error", err)
				continue
			}
			conn.Close()
			return nil, chat.TransportError("awaiting CONNECTED", err)
		}
		switch f.Command {
		case "CONNECTED":
			m.logger.Debug("handshake complete", "version", f.Header.Get("version"))
			return conn, nil
		case "ERROR":
			conn.Close()
			msg := f.Header.Get("message")
			if msg == "" {
				msg = "connection rejected"
			}
			return nil, chat.AuthError(msg, errors.New(string(f.Body)))
		default:
			m.logger.Debug("ignoring frame before CONNECTED", "command", f.Command)
		}
	}
}

// attach publishes conn as the live connection. Listeners run before the
// state flips to Connected.
func (m *Manager) attach(ctx context.Context, gen uint64, conn transport.Conn) bool {
	m.mu.Lock()
	if gen != m.generation || ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	listeners := m.listeners
	m.mu.Unlock()

	for _, l := range listeners {
		l.Connected()
	}
	if !m.transition(gen, StateConnected, nil) {
		return false
	}
	m.logger.Info("connected", "url", m.url)
	return true
}

// detach clears the live connection after a transport loss.
func (m *Manager) detach(gen uint64, cause error) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	m.conn = nil
	notify := m.setStateLocked(StateReconnecting, chat.TransportError("connection lost", cause))
	listeners := m.listeners
	m.mu.Unlock()

	for _, l := range listeners {
		l.Disconnected()
	}
	notify()
	return true
}

func (m *Manager) readLoop(conn transport.Conn) error {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if chat.KindOf(err) == chat.KindProtocol {
				m.logger.Warn("dropping undecodable frame", "error", err)
				continue
			}
			return err
		}

		switch f.Command {
		case "MESSAGE":
			m.dispatch(f)
		case "ERROR":
			m.logger.Warn("server sent ERROR frame",
				"message", f.Header.Get("message"),
				"body", string(f.Body))
		default:
			m.logger.Debug("ignoring frame", "command", f.Command)
		}
	}
}

func (m *Manager) dispatch(f *frame.Frame) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("frame handler panicked",
				"panic", r,
				"destination", f.Header.Get("destination"))
		}
	}()
	h.HandleFrame(f)
}

// transition moves to state if gen is still current.
func (m *Manager) transition(gen uint64, state State, err error) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	notify := m.setStateLocked(state, err)
	m.mu.Unlock()
	notify()
	return true
}

// fail records the Failed state if gen is still current and returns the
// watcher notification for the caller to run once it is safe to do so.
func (m *Manager) fail(gen uint64, err error) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return func() {}
	}
	return m.setStateLocked(StateFailed, err)
}

// setStateLocked records a transition and returns a func that runs the
// state watchers. Call the returned func after releasing mu.
func (m *Manager) setStateLocked(state State, err error) func() {
	if m.state == state && err == nil && m.err == nil {
		return func() {}
	}
	m.state = state
	m.err = err
	close(m.changed)
	m.changed = make(chan struct{})

	watchers := m.watchers
	return func() {
		for _, fn := range watchers {
			fn(state, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
