// ABOUTME: Frame transport contracts and the STOMP wire codec
// ABOUTME: Conn and Dialer interfaces shared by the websocket and in-memory transports

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-stomp/stomp/v3/frame"
)

// ErrClosed is returned by operations on a Conn that was closed locally.
var ErrClosed = errors.New("transport closed")

// Conn is a bidirectional STOMP frame stream.
type Conn interface {
	// WriteFrame sends one frame. Callers serialise writes.
	WriteFrame(f *frame.Frame) error
	// ReadFrame blocks for the next frame. Heart-beats are consumed
	// silently. io.EOF means the peer went away. An undecodable message
	// yields a chat.KindProtocol error and the Conn stays usable.
	ReadFrame() (*frame.Frame, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens a Conn to url, sending header with the handshake.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}

// Encode renders f in STOMP wire format, including the trailing NUL.
func Encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// Decode parses every frame in data. Heart-beat newlines are skipped, so a
// payload of only newlines yields no frames and no error.
func Decode(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("decoding frame: %w", err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}
