package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"foursight.local/orchestrator/internal/types"
)

const ioTimeout = 10 * time.Second

// Chat is a websocket conversation with one session. Replies, errors and
// workflow events all arrive on Frames.
type Chat struct {
	url string

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	frames chan types.ChatFrame
	errs   chan error
	done   chan struct{}
}

// NewChat prepares a chat against wsBaseURL, e.g. "ws://127.0.0.1:8080".
func NewChat(wsBaseURL, sessionID string) (*Chat, error) {
	wsBaseURL = strings.TrimRight(strings.TrimSpace(wsBaseURL), "/")
	if !strings.HasPrefix(wsBaseURL, "ws://") && !strings.HasPrefix(wsBaseURL, "wss://") {
		return nil, fmt.Errorf("websocket url must start with ws:// or wss://, got %q", wsBaseURL)
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	return &Chat{
		url:    wsBaseURL + sessionPath(sessionID, "ws"),
		frames: make(chan types.ChatFrame, 64),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}, nil
}

func (c *Chat) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial chat websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop()
	return nil
}

func (c *Chat) Frames() <-chan types.ChatFrame {
	return c.frames
}

func (c *Chat) Errors() <-chan error {
	return c.errs
}

func (c *Chat) Done() <-chan struct{} {
	return c.done
}

func (c *Chat) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("message text is required")
	}
	return c.Send(ctx, types.ChatFrame{Action: types.ChatActionMessage, Text: text})
}

func (c *Chat) Send(ctx context.Context, frame types.ChatFrame) error {
	c.mu.RLock()
	conn := c.conn
	closed := c.closed
	c.mu.RUnlock()
	if conn == nil || closed {
		return fmt.Errorf("chat is not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Chat) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	close(c.done)
	return nil
}

func (c *Chat) readLoop() {
	defer c.Close()
	for {
		c.mu.RLock()
		conn := c.conn
		closed := c.closed
		c.mu.RUnlock()
		if conn == nil || closed {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(24 * time.Hour)); err != nil {
			c.pushErr(fmt.Errorf("set read deadline: %w", err))
			return
		}
		var frame types.ChatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				c.pushErr(fmt.Errorf("read chat frame: %w", err))
			}
			return
		}
		if frame.Action == "" || (frame.Action == types.ChatActionEvent && frame.Event == nil) {
			continue
		}

		// Replies must not be lost; events may be dropped under backpressure.
		if frame.Action != types.ChatActionEvent {
			select {
			case c.frames <- frame:
			case <-c.done:
				return
			}
			continue
		}
		select {
		case c.frames <- frame:
		default:
			c.pushErr(fmt.Errorf("dropping event %s because the frame channel is full", frame.Event.EventID))
		}
	}
}

func (c *Chat) pushErr(err error) {
	if err == nil {
		return
	}
	select {
	case c.errs <- err:
	default:
	}
}
