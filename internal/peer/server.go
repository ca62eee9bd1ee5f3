// Package peer is a reference server for pages: it accepts page sessions on
// any path, relays messages and broadcasts between them, and exposes an
// admin API to push instructions.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/pagewire/pages/internal/journal"
	"github.com/pagewire/pages/internal/presence"
	"github.com/pagewire/pages/internal/protocol"
	"github.com/pagewire/pages/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

const maxPushBytes = 1 << 20

type Server struct {
	hub        *Hub
	relay      *Relay
	handlers   []Handler
	presence   presence.Store
	journal    *journal.Journal
	logger     telemetry.Logger
	metrics    Metrics
	gatherer   prometheus.Gatherer
	origins    originPolicy
	maxConns   int
	sendBuffer int
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		presence:   presence.NewMemoryStore(0),
		logger:     telemetry.NopLogger{},
		metrics:    nopMetrics{},
		sendBuffer: 64,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.hub = NewHub(s.maxConns, s.sendBuffer, s.logger, s.metrics)
	s.relay = NewRelay(s.hub)
	s.upgrader = websocket.Upgrader{CheckOrigin: s.origins.check}
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the HTTP handler. Any path not claimed by the API accepts
// page sessions.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", telemetry.Handler(s.gatherer))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins.corsOrigins(),
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		api.Get("/sessions", s.handleSessions)
		api.Post("/sessions/{id}/push", s.handlePush)
		api.Post("/push", s.handlePushAll)
		api.Get("/journal", s.handleJournal)
	})

	r.HandleFunc("/*", s.handlePage)
	return r
}

// Close disconnects every page.
func (s *Server) Close() {
	s.cancel()
	s.hub.Close()
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "pages peer: open a page session at ws://%s%s\n", r.Host, r.URL.Path)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(err, "page upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c, err := s.hub.AddConn(ws, r.RemoteAddr)
	if err != nil {
		s.logger.Error(err, "page rejected", "remote", r.RemoteAddr)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(writeWait))
		ws.Close()
		return
	}

	s.logger.Info("page connected", "remote", r.RemoteAddr, "path", r.URL.Path)
	defer s.disconnect(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			s.logger.Error(err, "dropping page frame", "remote", r.RemoteAddr)
			continue
		}
		s.receive(c, env)
	}
}

func (s *Server) receive(c *pageConn, env protocol.Envelope) {
	if c.sessionID() == "" {
		s.hub.bind(c, env.ID)
		s.logger.Info("page identified", "session", env.ID, "route", env.Route, "remote", c.remote)
	}
	s.metrics.IncEnvelopes(env.Name)
	s.logger.Info("envelope", "session", env.ID, "name", env.Name, "route", env.Route)

	if env.Name == protocol.NameUnloaded {
		if err := s.presence.Remove(s.ctx, env.ID); err != nil {
			s.logger.Error(err, "presence remove failed", "session", env.ID)
		}
	} else {
		entry := presence.Entry{ID: env.ID, Route: env.Route, LastEvent: env.Name}
		if err := s.presence.Touch(s.ctx, entry); err != nil {
			s.logger.Error(err, "presence update failed", "session", env.ID)
		}
	}

	if s.journal != nil {
		if err := s.journal.Append(s.ctx, env); err != nil {
			s.logger.Error(err, "journal append failed", "session", env.ID)
		}
	}

	if err := s.relay.HandleEnvelope(s.ctx, env); err != nil {
		s.logger.Error(err, "relay failed", "session", env.ID, "name", env.Name)
	}
	for _, h := range s.handlers {
		if err := h.HandleEnvelope(s.ctx, env); err != nil {
			s.logger.Error(err, "handler failed", "session", env.ID, "name", env.Name)
		}
	}
}

func (s *Server) disconnect(c *pageConn) {
	s.hub.RemoveConn(c)
	id := c.sessionID()
	if id != "" {
		if err := s.presence.Remove(s.ctx, id); err != nil {
			s.logger.Error(err, "presence remove failed", "session", id)
		}
	}
	s.logger.Info("page disconnected", "session", id, "remote", c.remote)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pages":  s.hub.ConnCount(),
	})
}

// PageView is a presence entry annotated with whether this peer holds its
// connection.
type PageView struct {
	presence.Entry
	Connected bool `json:"connected"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.presence.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "presence unavailable")
		return
	}
	connected := make(map[string]bool)
	for _, id := range s.hub.IDs() {
		connected[id] = true
	}

	views := make([]PageView, 0, len(entries))
	for _, e := range entries {
		views = append(views, PageView{Entry: e, Connected: connected[e.ID]})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	frame, inst, ok := readInstruction(w, r)
	if !ok {
		return
	}

	if err := s.hub.Send(id, frame); err != nil {
		if errors.Is(err, ErrUnknownPage) {
			writeError(w, http.StatusNotFound, "session not connected")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.IncPushes(string(inst.Type))
	writeJSON(w, http.StatusAccepted, map[string]int{"delivered": 1})
}

func (s *Server) handlePushAll(w http.ResponseWriter, r *http.Request) {
	frame, inst, ok := readInstruction(w, r)
	if !ok {
		return
	}
	n := s.hub.Broadcast(frame, "")
	s.metrics.IncPushes(string(inst.Type))
	writeJSON(w, http.StatusAccepted, map[string]int{"delivered": n})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.journal.Recent(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		s.logger.Error(err, "journal query failed")
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}

	type item struct {
		journal.Record
		Args json.RawMessage `json:"args,omitempty"`
	}
	items := make([]item, 0, len(records))
	for _, rec := range records {
		items = append(items, item{Record: rec, Args: rec.RawArgs()})
	}
	writeJSON(w, http.StatusOK, items)
}

// readInstruction reads and validates a push body. The body is forwarded as
// is, so it must already be a well-formed instruction frame.
func readInstruction(w http.ResponseWriter, r *http.Request) ([]byte, protocol.Instruction, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return nil, protocol.Instruction{}, false
	}
	inst, err := protocol.DecodeInstruction(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, protocol.Instruction{}, false
	}
	return body, inst, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// originPolicy decides which browser origins may open page sessions. With
// no configured origins only same-host and loopback origins pass.
type originPolicy struct {
	origins map[string]bool
	hosts   map[string]bool
	list    []string
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{
		origins: make(map[string]bool),
		hosts:   make(map[string]bool),
	}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		p.origins[trimmed] = true
		p.list = append(p.list, trimmed)
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			p.hosts[parsed.Host] = true
		}
	}
	return p
}

func (p originPolicy) corsOrigins() []string {
	if len(p.list) == 0 {
		return []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return p.list
}

func (p originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(p.origins) > 0 {
		if p.origins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return p.hosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}
