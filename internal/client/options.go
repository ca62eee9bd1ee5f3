package client

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/pagewire/pages/internal/identity"
	"github.com/pagewire/pages/internal/script"
	"github.com/pagewire/pages/internal/telemetry"
)

// Logger is the structured logging hook used by a session.
type Logger = telemetry.Logger

// Metrics is an interface that allows for plugging in custom metrics collectors.
type Metrics interface {
	IncSent(name string)
	IncReceived(typ string)
	IncParseFailures()
	IncDispatchErrors()
	SetState(state float64)
}

type nopMetrics struct{}

func (nopMetrics) IncSent(string)     {}
func (nopMetrics) IncReceived(string) {}
func (nopMetrics) IncParseFailures()  {}
func (nopMetrics) IncDispatchErrors() {}
func (nopMetrics) SetState(float64)   {}

// Sink receives the payload of every "say" instruction and say() call,
// untransformed.
type Sink func(data any)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(metrics Metrics) Option {
	return func(s *Session) {
		s.metrics = metrics
	}
}

// WithDialer sets the websocket dialer used by Connect.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(s *Session) {
		s.dialer = dialer
	}
}

// WithIdentity overrides the identity generator. It runs exactly once.
func WithIdentity(gen identity.Generator) Option {
	return func(s *Session) {
		s.newID = gen
	}
}

// WithSink sets the diagnostic log sink. Defaults to logging through the
// session logger, or to standard error when no logger is set.
func WithSink(sink Sink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithCapability registers an extra function callable from scripts and
// "invoke" instructions. It replaces a built-in of the same name.
func WithCapability(name string, fn script.Func) Option {
	return func(s *Session) {
		s.extra = append(s.extra, namedFunc{name: name, fn: fn})
	}
}

// WithScripts enables or disables "script" instructions. Enabled by default.
func WithScripts(enabled bool) Option {
	return func(s *Session) {
		s.scripts = enabled
	}
}

// WithWriteTimeout bounds each outbound write. Zero means no deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.writeTimeout = d
	}
}

// WithStateHook registers a function called after every lifecycle
// transition, in transition order. The hook must not call Connect or Unload.
func WithStateHook(fn func(State)) Option {
	return func(s *Session) {
		s.onState = fn
	}
}

// WithFrameBuffer sets how many inbound frames may queue ahead of Run.
func WithFrameBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.frameBuffer = n
		}
	}
}

type namedFunc struct {
	name string
	fn   script.Func
}
