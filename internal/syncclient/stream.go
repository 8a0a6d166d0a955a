package syncclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/gridsync/internal/protocol"
)

const (
	streamWriteWait   = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	maxStreamFrameLen = 16 << 20
)

// Stream is a websocket session bound to one dataset. Recv must be called
// from a single goroutine; Send is safe for concurrent use.
type Stream struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Dial opens a stream session on the named dataset.
func (c *Client) Dial(ctx context.Context, dataset string) (*Stream, error) {
	u, err := wsURL(c.BaseURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	c.authorize(header)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u+datasetPath(dataset)+"/stream", header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("dial %s: %w", dataset, statusError(resp.StatusCode, body))
		}
		return nil, fmt.Errorf("dial %s: %w", dataset, err)
	}
	conn.SetReadLimit(maxStreamFrameLen)
	return &Stream{conn: conn}, nil
}

func wsURL(base string) (string, error) {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://"), nil
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://"), nil
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base, nil
	}
	return "", fmt.Errorf("unsupported server url %q", base)
}

// Send writes one frame.
func (s *Stream) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv blocks for the next frame. A normal server close returns io.EOF.
func (s *Stream) Recv() (protocol.Message, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return protocol.Decode(data)
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
