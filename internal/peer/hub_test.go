package peer

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and returns
// the server-side connection. The caller must close the server.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-connCh:
		return srv, serverConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

type countingMetrics struct {
	nopMetrics
	dropped atomic.Int32
	pages   atomic.Int32
}

func (m *countingMetrics) IncDropped()             { m.dropped.Add(1) }
func (m *countingMetrics) SetConnectedPages(n int) { m.pages.Store(int32(n)) }

func TestAddConn_MaxConnections(t *testing.T) {
	const maxConns = 2
	h := NewHub(maxConns, 8, nil, nil)

	var conns []*pageConn
	for i := 0; i < maxConns; i++ {
		srv, ws := dialTestWS(t)
		defer srv.Close()

		c, err := h.AddConn(ws, "test")
		if err != nil {
			t.Fatalf("AddConn[%d]: unexpected error: %v", i, err)
		}
		conns = append(conns, c)
	}

	srv, ws := dialTestWS(t)
	defer srv.Close()
	if _, err := h.AddConn(ws, "test"); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
	ws.Close()

	h.RemoveConn(conns[0])

	srv2, ws2 := dialTestWS(t)
	defer srv2.Close()
	if _, err := h.AddConn(ws2, "test"); err != nil {
		t.Fatalf("AddConn after removal: unexpected error: %v", err)
	}
	if got := h.ConnCount(); got != maxConns {
		t.Fatalf("expected %d conns after re-add, got %d", maxConns, got)
	}
	h.Close()
}

func TestBind_SendAndBroadcast(t *testing.T) {
	h := NewHub(0, 8, nil, nil)

	srvA, wsA := dialTestWS(t)
	defer srvA.Close()
	srvB, wsB := dialTestWS(t)
	defer srvB.Close()

	// Conns built directly so writePump never drains them.
	a := &pageConn{ws: wsA, hub: h, send: make(chan []byte, 8)}
	b := &pageConn{ws: wsB, hub: h, send: make(chan []byte, 8)}
	h.conns[a] = true
	h.conns[b] = true
	h.bind(a, "a")
	h.bind(b, "b")

	if err := h.Send("b", []byte("one")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := string(<-b.send); got != "one" {
		t.Fatalf("b got %q", got)
	}

	if n := h.Broadcast([]byte("all"), "a"); n != 1 {
		t.Fatalf("Broadcast reached %d pages, want 1", n)
	}
	if len(a.send) != 0 {
		t.Fatal("broadcast should skip the excluded page")
	}

	if err := h.Send("ghost", []byte("x")); !errors.Is(err, ErrUnknownPage) {
		t.Fatalf("expected ErrUnknownPage, got %v", err)
	}

	h.RemoveConn(a)
	if ids := h.IDs(); len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("IDs after removal = %v", ids)
	}
}

func TestSend_DropsSlowPage(t *testing.T) {
	m := &countingMetrics{}
	h := NewHub(0, 1, nil, m)

	srv, ws := dialTestWS(t)
	defer srv.Close()

	c := &pageConn{ws: ws, hub: h, send: make(chan []byte, 1)}
	h.conns[c] = true
	h.bind(c, "slow")

	if err := h.Send("slow", []byte("1")); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := h.Send("slow", []byte("2")); !errors.Is(err, ErrUnknownPage) {
		t.Fatalf("second Send should drop the page, got %v", err)
	}
	if h.ConnCount() != 0 {
		t.Fatalf("slow page still connected")
	}
	if m.dropped.Load() != 1 {
		t.Fatalf("dropped = %d, want 1", m.dropped.Load())
	}
}

// TestWritePump_RemovesConnOnWriteError verifies that a failed write takes
// the page out of the hub.
func TestWritePump_RemovesConnOnWriteError(t *testing.T) {
	srv, ws := dialTestWS(t)
	defer srv.Close()

	h := NewHub(0, 8, nil, nil)
	c := &pageConn{ws: ws, hub: h, send: make(chan []byte, 8)}
	h.conns[c] = true

	ws.Close()
	c.send <- []byte(`{"type":"say","data":null}`)
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ConnCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("conn not removed after write error; ConnCount = %d", h.ConnCount())
}
