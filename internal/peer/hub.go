package peer

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pagewire/pages/internal/telemetry"
)

const writeWait = 5 * time.Second

var (
	// ErrTooManyConnections is returned by AddConn when the hub is full.
	ErrTooManyConnections = errors.New("too many page connections")
	// ErrUnknownPage is returned when no connected page has the session id.
	ErrUnknownPage = errors.New("no connected page with that session id")
)

// pageConn is one connected page. Its session id is learned from the first
// envelope it sends.
type pageConn struct {
	ws     *websocket.Conn
	hub    *Hub
	send   chan []byte
	remote string

	mu sync.Mutex
	id string
}

func (c *pageConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.RemoveConn(c)
			return
		}
	}
}

func (c *pageConn) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Hub tracks page connections and fans instruction frames out to them.
type Hub struct {
	mu         sync.RWMutex
	conns      map[*pageConn]bool
	byID       map[string]*pageConn
	maxConns   int
	sendBuffer int
	logger     telemetry.Logger
	metrics    Metrics
}

// NewHub returns an empty hub. maxConns <= 0 means unlimited.
func NewHub(maxConns, sendBuffer int, logger telemetry.Logger, metrics Metrics) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Hub{
		conns:      make(map[*pageConn]bool),
		byID:       make(map[string]*pageConn),
		maxConns:   maxConns,
		sendBuffer: sendBuffer,
		logger:     logger,
		metrics:    metrics,
	}
}

func (h *Hub) AddConn(ws *websocket.Conn, remote string) (*pageConn, error) {
	h.mu.Lock()
	if h.maxConns > 0 && len(h.conns) >= h.maxConns {
		h.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := &pageConn{
		ws:     ws,
		hub:    h,
		send:   make(chan []byte, h.sendBuffer),
		remote: remote,
	}
	h.conns[c] = true
	n := len(h.conns)
	h.mu.Unlock()

	h.metrics.SetConnectedPages(n)
	go c.writePump()
	return c, nil
}

func (h *Hub) RemoveConn(c *pageConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	if ok {
		delete(h.conns, c)
		if id := c.sessionID(); id != "" && h.byID[id] == c {
			delete(h.byID, id)
		}
		close(c.send)
	}
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.metrics.SetConnectedPages(n)
	}
}

// bind associates c with a session id. A later page claiming the same id
// replaces the earlier one for targeted sends.
func (h *Hub) bind(c *pageConn, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
	h.byID[id] = c
}

// Send queues frame for the page with the given session id.
func (h *Hub) Send(id string, frame []byte) error {
	h.mu.RLock()
	c, ok := h.byID[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownPage
	}
	if !h.enqueue(c, frame) {
		return ErrUnknownPage
	}
	return nil
}

// Broadcast queues frame for every identified page except the one with
// session id except, and returns how many pages it reached.
func (h *Hub) Broadcast(frame []byte, except string) int {
	h.mu.RLock()
	targets := make([]*pageConn, 0, len(h.byID))
	for id, c := range h.byID {
		if id != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if h.enqueue(c, frame) {
			delivered++
		}
	}
	return delivered
}

// enqueue drops c when its buffer is full.
func (h *Hub) enqueue(c *pageConn, frame []byte) (ok bool) {
	h.mu.RLock()
	if !h.conns[c] {
		h.mu.RUnlock()
		return false
	}
	select {
	case c.send <- frame:
		h.mu.RUnlock()
		return true
	default:
	}
	h.mu.RUnlock()

	h.logger.Info("page too slow, disconnecting", "session", c.sessionID(), "remote", c.remote)
	h.metrics.IncDropped()
	h.RemoveConn(c)
	return false
}

// IDs lists the session ids of identified pages, sorted.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.byID))
	for id := range h.byID {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every page.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*pageConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "peer shutting down"), time.Now().Add(writeWait))
		h.RemoveConn(c)
	}
}
