package client

import (
	"github.com/gorilla/websocket"
	"github.com/pagewire/pages/internal/protocol"
)

// Capabilities is the public surface of a session, built once when the
// session is created. Consumers that should not hold the *Session itself
// receive this instead.
type Capabilities struct {
	ID    string
	Route string
	// Socket is the live transport, nil until the session connects.
	Socket *websocket.Conn

	Notify    func(name string) error
	Message   func(id, typ string, data any) error
	Broadcast func(typ string, data any) error
	Callback  func(name string, args any) error
}

// Capabilities returns the session's public surface.
func (s *Session) Capabilities() Capabilities {
	caps := s.caps
	caps.Socket = s.Conn()
	return caps
}

// Callback sends an envelope with an arbitrary event name and payload. A
// nil args is omitted from the wire.
func (s *Session) Callback(name string, args any) error {
	return s.send(protocol.Envelope{
		ID:    s.id,
		Name:  name,
		Route: s.route,
		Args:  args,
	})
}

// Notify reports a named event.
func (s *Session) Notify(name string) error {
	return s.Callback(protocol.NameNotify, name)
}

// Message asks the peer to deliver data to the page identified by id.
func (s *Session) Message(id, typ string, data any) error {
	return s.Callback(protocol.NameMessage, protocol.MessageArgs{ID: id, Type: typ, Data: data})
}

// Broadcast asks the peer to deliver data to every page.
func (s *Session) Broadcast(typ string, data any) error {
	return s.Callback(protocol.NameBroadcast, protocol.BroadcastArgs{Type: typ, Data: data})
}
