package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pagewire/pages/internal/identity"
	"github.com/pagewire/pages/internal/protocol"
	"github.com/pagewire/pages/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "0b9f3c7e-2d4a-4c1b-9e8f-1a2b3c4d5e6f"

// testPeer is a minimal peer: it accepts one page connection and exposes the
// envelopes it receives.
type testPeer struct {
	srv       *httptest.Server
	conns     chan *websocket.Conn
	envelopes chan protocol.Envelope
	raw       chan string
}

func newTestPeer(t *testing.T) *testPeer {
	t.Helper()

	p := &testPeer{
		conns:     make(chan *websocket.Conn, 1),
		envelopes: make(chan protocol.Envelope, 64),
		raw:       make(chan string, 64),
	}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- c
		go func() {
			defer close(p.envelopes)
			for {
				_, data, err := c.ReadMessage()
				if err != nil {
					return
				}
				env, err := protocol.DecodeEnvelope(data)
				if err != nil {
					continue
				}
				p.raw <- string(data)
				p.envelopes <- env
			}
		}()
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *testPeer) pageURL(path string) string {
	return p.srv.URL + path
}

func (p *testPeer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for page connection")
		return nil
	}
}

func (p *testPeer) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-p.envelopes:
		if !ok {
			t.Fatal("page connection closed")
		}
		<-p.raw
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return protocol.Envelope{}
	}
}

func (p *testPeer) nextRaw(t *testing.T) string {
	t.Helper()
	select {
	case raw := <-p.raw:
		<-p.envelopes
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return ""
	}
}

func push(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// sayRecorder collects sink output.
type sayRecorder struct {
	ch chan any
}

func newSayRecorder() *sayRecorder {
	return &sayRecorder{ch: make(chan any, 16)}
}

func (r *sayRecorder) sink(data any) { r.ch <- data }

func (r *sayRecorder) next(t *testing.T) any {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for say output")
		return nil
	}
}

type mockMetrics struct {
	sent          int32
	received      int32
	parseFailures int32
	dispatchErrs  int32
	state         atomic.Value
}

func (m *mockMetrics) IncSent(string)     { atomic.AddInt32(&m.sent, 1) }
func (m *mockMetrics) IncReceived(string) { atomic.AddInt32(&m.received, 1) }
func (m *mockMetrics) IncParseFailures()  { atomic.AddInt32(&m.parseFailures, 1) }
func (m *mockMetrics) IncDispatchErrors() { atomic.AddInt32(&m.dispatchErrs, 1) }
func (m *mockMetrics) SetState(s float64) { m.state.Store(s) }

// openSession dials a page at /pages/demo, starts Run and consumes the
// "connected" envelope.
func openSession(t *testing.T, p *testPeer, opts ...Option) (*Session, *websocket.Conn) {
	t.Helper()

	opts = append([]Option{WithIdentity(identity.Fixed(testID))}, opts...)
	s, err := Dial(context.Background(), p.pageURL("/pages/demo"), opts...)
	require.NoError(t, err)
	conn := p.conn(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	env := p.next(t)
	require.Equal(t, protocol.NameConnected, env.Name)
	return s, conn
}

func TestConnect_FirstEnvelopeIsConnected(t *testing.T) {
	p := newTestPeer(t)

	var states []State
	var mu sync.Mutex
	s, err := New(p.pageURL("/pages/demo?x=1"),
		WithIdentity(identity.Fixed(testID)),
		WithStateHook(func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, s.State())
	assert.Equal(t, "/pages/demo", s.Route())
	assert.True(t, strings.HasPrefix(s.SocketURL(), "ws://"))

	require.NoError(t, s.Connect(context.Background()))
	defer s.Unload()
	p.conn(t)

	raw := p.nextRaw(t)
	assert.JSONEq(t, `{"id":"`+testID+`","name":"connected","route":"/pages/demo"}`, raw)
	assert.NotContains(t, raw, "args")
	assert.Equal(t, StateOpen, s.State())

	mu.Lock()
	assert.Equal(t, []State{StateOpen}, states)
	mu.Unlock()
}

func TestConnect_FailureClosesSession(t *testing.T) {
	p := newTestPeer(t)
	url := p.pageURL("/")
	p.srv.Close()

	s, err := New(url)
	require.NoError(t, err)

	err = s.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Notify("x"), ErrNotOpen)

	// No second attempt from a closed session.
	assert.Error(t, s.Connect(context.Background()))
}

func TestConnect_UnloadDuringDial(t *testing.T) {
	p := newTestPeer(t)

	dialing := make(chan struct{})
	gate := make(chan struct{})
	dialer := &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			close(dialing)
			<-gate
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	rec := newSayRecorder()
	var mu sync.Mutex
	var states []State
	s, err := New(p.pageURL("/"), WithDialer(dialer), WithSink(rec.sink),
		WithStateHook(func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Connect(context.Background()) }()

	select {
	case <-dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("dial never started")
	}
	s.Unload()
	close(gate)

	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "session is closed")
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, s.Conn())
	assert.ErrorIs(t, s.Run(context.Background()), ErrNotOpen)

	mu.Lock()
	assert.Equal(t, []State{StateClosed}, states)
	mu.Unlock()

	// The peer sees the socket close without a single envelope.
	p.conn(t)
	select {
	case _, ok := <-p.envelopes:
		assert.False(t, ok, "closed session sent an envelope")
	case <-time.After(2 * time.Second):
		t.Fatal("socket from the abandoned dial was left open")
	}
	select {
	case v := <-rec.ch:
		t.Fatalf("closed session dispatched say: %v", v)
	default:
	}
}

// recordingLogger keeps Info messages.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(error, string, ...any) {}

func (l *recordingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func TestRun_SayWithoutSinkIsLogged(t *testing.T) {
	p := newTestPeer(t)
	logger := &recordingLogger{}
	_, conn := openSession(t, p, WithLogger(logger))

	push(t, conn, `{"type":"say","data":"hello"}`)
	assert.Eventually(t, func() bool { return logger.has("say") }, 2*time.Second, 10*time.Millisecond)
}

func TestNew_DefaultIdentityIsUUID(t *testing.T) {
	s, err := New("http://127.0.0.1:1/")
	require.NoError(t, err)
	assert.Len(t, s.ID(), 36)
	assert.Equal(t, byte('4'), s.ID()[14])
}

func TestNew_RejectsBadPageURL(t *testing.T) {
	_, err := New("ftp://example.com/x")
	assert.Error(t, err)
}

func TestOutboundOperations(t *testing.T) {
	p := newTestPeer(t)
	s, _ := openSession(t, p)

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{"notify", func() error { return s.Notify("x") }, `{"id":"` + testID + `","name":"notify","route":"/pages/demo","args":"x"}`},
		{"message", func() error { return s.Message("peer-1", "chat", map[string]any{"text": "hi"}) }, `{"id":"` + testID + `","name":"message","route":"/pages/demo","args":{"id":"peer-1","type":"chat","data":{"text":"hi"}}}`},
		{"broadcast", func() error { return s.Broadcast("chat", []int{1, 2}) }, `{"id":"` + testID + `","name":"broadcast","route":"/pages/demo","args":{"type":"chat","data":[1,2]}}`},
		{"callback", func() error { return s.Callback("clicked", map[string]int{"x": 3}) }, `{"id":"` + testID + `","name":"clicked","route":"/pages/demo","args":{"x":3}}`},
		{"callback without args", func() error { return s.Callback("tick", nil) }, `{"id":"` + testID + `","name":"tick","route":"/pages/demo"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())
			assert.JSONEq(t, tt.want, p.nextRaw(t))
		})
	}
}

func TestCapabilities(t *testing.T) {
	p := newTestPeer(t)
	s, _ := openSession(t, p)

	caps := s.Capabilities()
	assert.Equal(t, testID, caps.ID)
	assert.Equal(t, "/pages/demo", caps.Route)
	assert.NotNil(t, caps.Socket)

	require.NoError(t, caps.Notify("via-caps"))
	env := p.next(t)
	assert.Equal(t, protocol.NameNotify, env.Name)
	assert.Equal(t, json.RawMessage(`"via-caps"`), env.Args)
}

func TestRun_SayIsIdempotent(t *testing.T) {
	p := newTestPeer(t)
	rec := newSayRecorder()
	s, conn := openSession(t, p, WithSink(rec.sink))

	push(t, conn, `{"type":"say","data":{"msg":"hello"}}`)
	push(t, conn, `{"type":"say","data":{"msg":"hello"}}`)

	first, second := rec.next(t), rec.next(t)
	assert.Equal(t, map[string]any{"msg": "hello"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 0, s.PageState().Len())
	assert.Equal(t, StateOpen, s.State())
}

func TestRun_UnknownTypeIsIgnored(t *testing.T) {
	p := newTestPeer(t)
	rec := newSayRecorder()
	metrics := &mockMetrics{}
	s, conn := openSession(t, p, WithSink(rec.sink), WithMetrics(metrics))

	push(t, conn, `{"type":"ping","data":null}`)
	push(t, conn, `{"type":"say","data":"after"}`)

	assert.Equal(t, "after", rec.next(t))
	assert.Equal(t, int32(0), atomic.LoadInt32(&metrics.parseFailures))
	assert.Equal(t, int32(0), atomic.LoadInt32(&metrics.dispatchErrs))
	assert.Equal(t, int32(1), atomic.LoadInt32(&metrics.received))
	assert.Equal(t, 0, s.PageState().Len())

	// Nothing was sent in response to the unknown instruction.
	require.NoError(t, s.Notify("marker"))
	env := p.next(t)
	assert.Equal(t, json.RawMessage(`"marker"`), env.Args)
}

func TestRun_ScriptCallsNotifyOnce(t *testing.T) {
	p := newTestPeer(t)
	rec := newSayRecorder()
	s, conn := openSession(t, p, WithSink(rec.sink))

	push(t, conn, `{"type":"script","data":"notify('ack')"}`)
	push(t, conn, `{"type":"say","data":"done"}`)
	assert.Equal(t, "done", rec.next(t))

	env := p.next(t)
	assert.Equal(t, protocol.NameNotify, env.Name)
	assert.Equal(t, testID, env.ID)
	assert.Equal(t, json.RawMessage(`"ack"`), env.Args)

	require.NoError(t, s.Notify("marker"))
	assert.Equal(t, json.RawMessage(`"marker"`), p.next(t).Args, "script produced more than one envelope")
}

func TestRun_MalformedFrameDoesNotStopDispatch(t *testing.T) {
	p := newTestPeer(t)
	rec := newSayRecorder()
	metrics := &mockMetrics{}
	s, conn := openSession(t, p, WithSink(rec.sink), WithMetrics(metrics))

	push(t, conn, `{"type":"message's malformed JSON"`)
	push(t, conn, `{"type":"say","data":"still here"}`)

	assert.Equal(t, "still here", rec.next(t))
	assert.Equal(t, int32(1), atomic.LoadInt32(&metrics.parseFailures))
	assert.Equal(t, StateOpen, s.State())
}

func TestRun_ScriptFailureIsLocal(t *testing.T) {
	p := newTestPeer(t)
	rec := newSayRecorder()
	metrics := &mockMetrics{}
	s, conn := openSession(t, p,
		WithSink(rec.sink),
		WithMetrics(metrics),
		WithCapability("boom", func(script.Args) error { panic("kaboom") }),
	)

	push(t, conn, `{"type":"script","data":"eval('alert(1)')"}`)
	push(t, conn, `{"type":"script","data":"boom()"}`)
	push(t, conn, `{"type":"script","data":"this is not a call"}`)
	push(t, conn, `{"type":"say","data":"ok"}`)

	assert.Equal(t, "ok", rec.next(t))
	assert.Equal(t, int32(3), atomic.LoadInt32(&metrics.dispatchErrs))
	assert.Equal(t, StateOpen, s.State())

	// Nothing was reported back to the peer.
	require.NoError(t, s.Notify("marker"))
	assert.Equal(t, json.RawMessage(`"marker"`), p.next(t).Args)
}

func TestRun_ScriptsDisabled(t *testing.T) {
	p := newTestPeer(t)
	rec := newSayRecorder()
	s, conn := openSession(t, p, WithSink(rec.sink), WithScripts(false))

	push(t, conn, `{"type":"script","data":"notify('ack')"}`)
	push(t, conn, `{"type":"say","data":"done"}`)
	assert.Equal(t, "done", rec.next(t))

	require.NoError(t, s.Notify("marker"))
	assert.Equal(t, json.RawMessage(`"marker"`), p.next(t).Args)
}

func TestRun_InvokeAndState(t *testing.T) {
	p := newTestPeer(t)
	rec := newSayRecorder()
	s, conn := openSession(t, p, WithSink(rec.sink))

	push(t, conn, `{"type":"state","data":{"theme":"dark","count":2}}`)
	push(t, conn, `{"type":"invoke","data":{"name":"broadcast","args":["cursor",{"x":1}]}}`)
	push(t, conn, `{"type":"script","data":"set('theme', null); say('done')"}`)
	assert.Equal(t, "done", rec.next(t))

	env := p.next(t)
	assert.Equal(t, protocol.NameBroadcast, env.Name)
	assert.JSONEq(t, `{"type":"cursor","data":{"x":1}}`, string(env.Args.(json.RawMessage)))

	_, hasTheme := s.PageState().Get("theme")
	assert.False(t, hasTheme)
	count, _ := s.PageState().Get("count")
	assert.Equal(t, 2.0, count)
}

func TestUnload_SendsUnloadedLast(t *testing.T) {
	p := newTestPeer(t)
	s, _ := openSession(t, p)

	require.NoError(t, s.Notify("before"))
	s.Unload()
	s.Unload()

	assert.Equal(t, "notify", p.next(t).Name)
	raw := p.nextRaw(t)
	assert.JSONEq(t, `{"id":"`+testID+`","name":"unloaded","route":"/pages/demo"}`, raw)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Notify("after"), ErrNotOpen)

	select {
	case _, ok := <-p.envelopes:
		assert.False(t, ok, "no envelope may follow unloaded")
	case <-time.After(2 * time.Second):
		t.Fatal("peer connection was not closed")
	}
}

func TestRun_ContextCancelUnloads(t *testing.T) {
	p := newTestPeer(t)
	s, err := Dial(context.Background(), p.pageURL("/"), WithIdentity(identity.Fixed(testID)))
	require.NoError(t, err)
	p.conn(t)
	assert.Equal(t, protocol.NameConnected, p.next(t).Name)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, protocol.NameUnloaded, p.next(t).Name)
	assert.Equal(t, StateClosed, s.State())
}

func TestRun_PeerCloseEndsSession(t *testing.T) {
	p := newTestPeer(t)
	s, err := Dial(context.Background(), p.pageURL("/"))
	require.NoError(t, err)
	conn := p.conn(t)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second)))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after peer close")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Notify("late"), ErrNotOpen)
}

func TestRun_BeforeConnect(t *testing.T) {
	s, err := New("http://127.0.0.1:1/")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Run(context.Background()), ErrNotOpen)
}

func TestFunctions(t *testing.T) {
	s, err := New("http://127.0.0.1:1/", WithCapability("highlight", func(script.Args) error { return nil }))
	require.NoError(t, err)
	assert.Equal(t, []string{"broadcast", "callback", "highlight", "message", "notify", "say", "set"}, s.Functions())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
}
