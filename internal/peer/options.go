package peer

import (
	"github.com/pagewire/pages/internal/journal"
	"github.com/pagewire/pages/internal/presence"
	"github.com/pagewire/pages/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the peer-side instrumentation. *telemetry.PeerMetrics
// satisfies it.
type Metrics interface {
	IncEnvelopes(name string)
	SetConnectedPages(n int)
	IncPushes(typ string)
	IncDropped()
}

type nopMetrics struct{}

func (nopMetrics) IncEnvelopes(string)   {}
func (nopMetrics) SetConnectedPages(int) {}
func (nopMetrics) IncPushes(string)      {}
func (nopMetrics) IncDropped()           {}

type Option func(*Server)

func WithLogger(logger telemetry.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(s *Server) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithGatherer serves the gatherer's metrics on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithPresence(store presence.Store) Option {
	return func(s *Server) {
		if store != nil {
			s.presence = store
		}
	}
}

func WithJournal(j *journal.Journal) Option {
	return func(s *Server) {
		s.journal = j
	}
}

// WithHandler adds a handler after the built-in relay.
func WithHandler(h Handler) Option {
	return func(s *Server) {
		s.handlers = append(s.handlers, h)
	}
}

func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = newOriginPolicy(origins)
	}
}

func WithMaxConnections(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

func WithSendBuffer(n int) Option {
	return func(s *Server) {
		s.sendBuffer = n
	}
}
