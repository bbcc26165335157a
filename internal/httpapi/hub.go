package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"foursight.local/orchestrator/internal/subscribers"
	"foursight.local/orchestrator/internal/types"
)

const chatWriteTimeout = 10 * time.Second

// Hub forwards workflow events to the chat sockets open on each session.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*chatConn]struct{}
}

var _ subscribers.Subscriber = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*chatConn]struct{})}
}

func (h *Hub) Name() string {
	return "chat-hub"
}

func (h *Hub) Handle(_ context.Context, event types.WorkflowEvent) error {
	h.mu.RLock()
	targets := make([]*chatConn, 0, len(h.conns[event.SessionID]))
	for c := range h.conns[event.SessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		ev := event
		// A dead socket is cleaned up by its reader; nothing to retry here.
		_ = c.send(types.ChatFrame{Action: types.ChatActionEvent, Event: &ev})
	}
	return nil
}

func (h *Hub) add(sessionID string, c *chatConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[sessionID] == nil {
		h.conns[sessionID] = make(map[*chatConn]struct{})
	}
	h.conns[sessionID][c] = struct{}{}
}

func (h *Hub) remove(sessionID string, c *chatConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[sessionID], c)
	if len(h.conns[sessionID]) == 0 {
		delete(h.conns, sessionID)
	}
}

// Connections returns the number of sockets open on sessionID.
func (h *Hub) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[sessionID])
}

// chatConn serializes writes; gorilla connections allow one writer at a time.
type chatConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *chatConn) send(frame types.ChatFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(chatWriteTimeout))
	return c.conn.WriteJSON(frame)
}
