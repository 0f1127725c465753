// ABOUTME: Scripted in-memory STOMP broker for exercising the sync engine without a server
// ABOUTME: Implements transport.Dialer and records every frame clients send

package transporttest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/2389/chatsync/internal/chat"
	"github.com/2389/chatsync/internal/transport"
)

// Broker accepts in-memory connections and speaks just enough STOMP for
// tests: CONNECT, SUBSCRIBE, UNSUBSCRIBE, SEND and DISCONNECT.
type Broker struct {
	mu             sync.Mutex
	sessions       map[*session]struct{}
	handshakeCode  int
	dialErr        error
	connectErr     string
	dials          int
	received       []*frame.Frame
	nextMessageID  int
	lastAuthHeader string
}

type session struct {
	conn      transport.Conn
	writeMu   sync.Mutex
	connected bool
	subs      map[string]string // subscription id -> destination
}

// NewBroker returns a broker that accepts every connection.
func NewBroker() *Broker {
	return &Broker{sessions: make(map[*session]struct{})}
}

var _ transport.Dialer = (*Broker)(nil)

// Dial opens a new session unless the broker was told to refuse it.
func (b *Broker) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, chat.TransportError("dial cancelled", err)
	}

	b.mu.Lock()
	b.dials++
	b.lastAuthHeader = header.Get("Authorization")
	code, dialErr := b.handshakeCode, b.dialErr
	b.mu.Unlock()

	if code != 0 {
		e := chat.AuthError("handshake rejected", fmt.Errorf("HTTP %d", code))
		e.Status = code
		return nil, e
	}
	if dialErr != nil {
		return nil, chat.TransportError("dialing "+url, dialErr)
	}

	client, server := transport.Pipe()
	s := &session{conn: server, subs: make(map[string]string)}

	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()

	go b.serve(s)
	return client, nil
}

// RejectHandshake makes later dials fail as if the upgrade returned status.
// Zero accepts dials again.
func (b *Broker) RejectHandshake(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handshakeCode = status
}

// RefuseDials makes later dials fail with a transport error. Nil accepts
// dials again.
func (b *Broker) RefuseDials(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// RejectConnect makes later CONNECT frames get an ERROR reply carrying
// message. An empty message accepts CONNECT again.
func (b *Broker) RejectConnect(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = message
}

// DropConnections closes every live session from the server side.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
		delete(b.sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.conn.Close()
	}
}

// Publish delivers body as a MESSAGE to every subscription on destination
// and returns the number of deliveries.
func (b *Broker) Publish(destination string, body []byte) int {
	return b.publish(destination, body, true)
}

// PublishWithoutDestination is Publish with the destination header left off,
// so clients must resolve the topic from the subscription header.
func (b *Broker) PublishWithoutDestination(destination string, body []byte) int {
	return b.publish(destination, body, false)
}

type delivery struct {
	s     *session
	subID string
}

func (b *Broker) publish(destination string, body []byte, withDestination bool) int {
	b.mu.Lock()
	var targets []delivery
	for s := range b.sessions {
		for id, dest := range s.subs {
			if dest == destination {
				targets = append(targets, delivery{s: s, subID: id})
			}
		}
	}
	b.nextMessageID++
	messageID := strconv.Itoa(b.nextMessageID)
	b.mu.Unlock()

	sent := 0
	for _, t := range targets {
		f := frame.New("MESSAGE",
			"subscription", t.subID,
			"message-id", messageID,
			"content-type", "application/json")
		if withDestination {
			f.Header.Add("destination", destination)
		}
		f.Body = body
		if t.s.write(f) == nil {
			sent++
		}
	}
	return sent
}

// Dials returns how many dial attempts were made.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// AuthorizationHeader returns the Authorization header of the last dial.
func (b *Broker) AuthorizationHeader() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAuthHeader
}

// Sessions returns the number of live sessions that completed CONNECT.
func (b *Broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.sessions {
		if s.connected {
			n++
		}
	}
	return n
}

// Frames returns every client frame received with the given command, in
// arrival order. An empty command returns all frames.
func (b *Broker) Frames(command string) []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*frame.Frame
	for _, f := range b.received {
		if command == "" || f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

// Subscriptions returns the sorted destinations subscribed across live
// sessions. A destination subscribed twice appears twice.
func (b *Broker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for s := range b.sessions {
		for _, dest := range s.subs {
			out = append(out, dest)
		}
	}
	slices.Sort(out)
	return out
}

// Subscribed reports whether any live session subscribes to destination.
func (b *Broker) Subscribed(destination string) bool {
	return slices.Contains(b.Subscriptions(), destination)
}

func (b *Broker) serve(s *session) {
	defer b.remove(s)

	for {
		f, err := s.conn.ReadFrame()
		if err != nil {
			return
		}

		b.mu.Lock()
		b.received = append(b.received, f)
		connectErr := b.connectErr
		b.mu.Unlock()

		switch f.Command {
		case "CONNECT", "STOMP":
			if connectErr != "" {
				_ = s.write(frame.New("ERROR", "message", connectErr))
				return
			}
			b.mu.Lock()
			s.connected = true
			b.mu.Unlock()
			_ = s.write(frame.New("CONNECTED", "version", "1.2", "heart-beat", "0,0"))
		case "SUBSCRIBE":
			b.mu.Lock()
			s.subs[f.Header.Get("id")] = f.Header.Get("destination")
			b.mu.Unlock()
		case "UNSUBSCRIBE":
			b.mu.Lock()
			delete(s.subs, f.Header.Get("id"))
			b.mu.Unlock()
		case "DISCONNECT":
			if receipt := f.Header.Get("receipt"); receipt != "" {
				_ = s.write(frame.New("RECEIPT", "receipt-id", receipt))
			}
			return
		}

		if receipt := f.Header.Get("receipt"); receipt != "" && f.Command != "DISCONNECT" {
			_ = s.write(frame.New("RECEIPT", "receipt-id", receipt))
		}
	}
}

func (b *Broker) remove(s *session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
	s.conn.Close()
}

func (s *session) write(f *frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteFrame(f)
}
