// Package client implements the page side of the session protocol: it owns
// the socket, reports lifecycle events and dispatches peer instructions.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pagewire/pages/internal/identity"
	"github.com/pagewire/pages/internal/protocol"
	"github.com/pagewire/pages/internal/script"
	"github.com/pagewire/pages/internal/state"
	"github.com/pagewire/pages/internal/telemetry"
)

const (
	defaultFrameBuffer = 64
	closeGracePeriod   = time.Second
)

// ErrNotOpen is returned by outbound operations when the transport is not
// open. Delivery is best-effort, so callers may ignore it.
var ErrNotOpen = errors.New("session is not open")

// State is the lifecycle state of a session. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is one page's connection to its peer.
type Session struct {
	id        string
	route     string
	socketURL string

	logger       Logger
	metrics      Metrics
	dialer       *websocket.Dialer
	newID        identity.Generator
	sink         Sink
	extra        []namedFunc
	scripts      bool
	writeTimeout time.Duration
	onState      func(State)
	frameBuffer  int

	registry *script.Registry
	values   *state.Store
	caps     Capabilities

	mu      sync.Mutex
	hookMu  sync.Mutex // orders state hooks
	writeMu sync.Mutex // serialises all conn writes
	conn    *websocket.Conn
	state   State

	frames   chan []byte
	done     chan struct{}
	readErr  error
	unloaded atomic.Bool
	unload   sync.Once
}

// New creates a session for the page at pageURL in StateConnecting. The
// identity is generated and the route captured here, once.
func New(pageURL string, opts ...Option) (*Session, error) {
	socketURL, err := protocol.SocketURL(pageURL)
	if err != nil {
		return nil, err
	}
	route, err := protocol.RouteOf(pageURL)
	if err != nil {
		return nil, err
	}

	s := &Session{
		route:       route,
		socketURL:   socketURL,
		logger:      telemetry.NopLogger{},
		metrics:     nopMetrics{},
		dialer:      websocket.DefaultDialer,
		newID:       identity.New,
		scripts:     true,
		frameBuffer: defaultFrameBuffer,
		values:      state.NewStore(),
		state:       StateConnecting,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.id = s.newID()
	if s.sink == nil {
		out := s.logger
		if _, nop := out.(telemetry.NopLogger); nop {
			out = telemetry.Stderr()
		}
		s.sink = func(data any) {
			out.Info("say", "session", s.id, "data", data)
		}
	}
	s.registry = s.buildRegistry()
	s.caps = Capabilities{
		ID:        s.id,
		Route:     s.route,
		Notify:    s.Notify,
		Message:   s.Message,
		Broadcast: s.Broadcast,
		Callback:  s.Callback,
	}
	s.metrics.SetState(float64(StateConnecting))
	return s, nil
}

// Dial creates a session and connects it.
func Dial(ctx context.Context, pageURL string, opts ...Option) (*Session, error) {
	s, err := New(pageURL, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session identity.
func (s *Session) ID() string { return s.id }

// Route returns the page route captured when the session was created.
func (s *Session) Route() string { return s.route }

// SocketURL returns the derived peer address.
func (s *Session) SocketURL() string { return s.socketURL }

// PageState returns the state store updated by peer instructions.
func (s *Session) PageState() *state.Store { return s.values }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conn returns the live socket, or nil before Connect.
func (s *Session) Conn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Connect dials the peer. On success the session is open and a single
// "connected" envelope has been sent. On failure the session is closed;
// there is no retry.
func (s *Session) Connect(ctx context.Context) error {
	if st := s.State(); st != StateConnecting {
		return fmt.Errorf("connect: session is %s", st)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.socketURL, nil)
	if err != nil {
		s.transition(StateClosed)
		return fmt.Errorf("dial %s: %w", s.socketURL, err)
	}

	// Unload may have run while the dial was in flight. The state check and
	// the move to open happen under one lock so a closed session never gets
	// a live socket.
	s.hookMu.Lock()
	s.mu.Lock()
	if st := s.state; st != StateConnecting {
		s.mu.Unlock()
		s.hookMu.Unlock()
		conn.Close()
		return fmt.Errorf("connect: session is %s", st)
	}
	s.conn = conn
	s.frames = make(chan []byte, s.frameBuffer)
	s.done = make(chan struct{})
	s.state = StateOpen
	s.mu.Unlock()
	s.stateChanged(StateOpen)
	s.hookMu.Unlock()

	go s.readPump(conn)

	s.logger.Info("session open", "session", s.id, "route", s.route, "url", s.socketURL, "protocol", protocol.Version)

	if err := s.Callback(protocol.NameConnected, nil); err != nil {
		s.logger.Error(err, "connected notification failed", "session", s.id)
	}
	return nil
}

// transition moves the session forward to next. Backward moves are ignored.
func (s *Session) transition(next State) bool {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.Lock()
	if next <= s.state {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	s.stateChanged(next)
	return true
}

// stateChanged runs with hookMu held so hooks observe transitions in order.
func (s *Session) stateChanged(next State) {
	s.metrics.SetState(float64(next))
	if s.onState != nil {
		s.onState(next)
	}
}

// readPump feeds frames to Run until the connection fails or closes.
func (s *Session) readPump(conn *websocket.Conn) {
	defer close(s.frames)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
	}
}

// Run processes inbound frames one at a time until the peer closes the
// transport or ctx is cancelled. A normal close by either side, including
// an Unload from another goroutine, returns nil. Cancelling ctx unloads the
// session and returns ctx.Err().
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if frames == nil {
		return ErrNotOpen
	}

	for {
		select {
		case <-ctx.Done():
			s.Unload()
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				if conn := s.Conn(); conn != nil {
					conn.Close()
				}
				s.markClosed()
				return s.closeReason()
			}
			s.handleFrame(frame)
		}
	}
}

func (s *Session) closeReason() error {
	err := s.readErr
	if err == nil || s.unloaded.Load() {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (s *Session) markClosed() {
	if s.transition(StateClosed) {
		s.logger.Info("session closed", "session", s.id)
	}
}

// Unload sends a single best-effort "unloaded" envelope and tears down the
// transport. It is safe to call more than once.
func (s *Session) Unload() {
	s.unload.Do(func() {
		s.unloaded.Store(true)
		if err := s.Callback(protocol.NameUnloaded, nil); err != nil && !errors.Is(err, ErrNotOpen) {
			s.logger.Error(err, "unloaded notification failed", "session", s.id)
		}

		s.mu.Lock()
		conn, done := s.conn, s.done
		s.mu.Unlock()
		if done != nil {
			close(done)
		}
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "unloaded"),
				time.Now().Add(closeGracePeriod))
			s.writeMu.Unlock()
			conn.Close()
		}
		s.markClosed()
	})
}

// send is the single outbound primitive behind every helper.
func (s *Session) send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn, st := s.conn, s.state
	s.mu.Unlock()
	if st != StateOpen || conn == nil {
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", env.Name, err)
	}
	s.metrics.IncSent(env.Name)
	return nil
}
