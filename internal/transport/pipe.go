// ABOUTME: In-memory Conn pair that runs frames through the wire codec
// ABOUTME: Backs the transporttest broker and unit tests that need a live transport

package transport

import (
	"io"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/2389/chatsync/internal/chat"
)

const pipeBuffer = 64

// Pipe returns two connected Conns. Frames written to one are encoded,
// then decoded on the other side, so both ends see independent copies.
// Closing either end makes the peer's ReadFrame return io.EOF.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	a := &pipeConn{in: ba, out: ab, done: make(chan struct{})}
	b := &pipeConn{in: ab, out: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type pipeConn struct {
	in      <-chan []byte
	out     chan<- []byte
	done    chan struct{}
	once    sync.Once
	peer    *pipeConn
	pending []*frame.Frame
}

func (p *pipeConn) WriteFrame(f *frame.Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return io.ErrClosedPipe
	}
}

func (p *pipeConn) ReadFrame() (*frame.Frame, error) {
	for len(p.pending) == 0 {
		select {
		case data := <-p.in:
			frames, err := Decode(data)
			if err != nil {
				return nil, chat.ProtocolError("decoding inbound frame", err)
			}
			p.pending = frames
		case <-p.done:
			return nil, ErrClosed
		case <-p.peer.done:
			// drain what the peer wrote before closing
			select {
			case data := <-p.in:
				frames, err := Decode(data)
				if err != nil {
					return nil, chat.ProtocolError("decoding inbound frame", err)
				}
				p.pending = frames
			default:
				return nil, io.EOF
			}
		}
	}
	f := p.pending[0]
	p.pending = p.pending[1:]
	return f, nil
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
