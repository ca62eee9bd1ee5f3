package peer

import (
	"context"
	"fmt"

	"github.com/pagewire/pages/internal/protocol"
)

// Handler receives every well-formed envelope a page sends.
type Handler interface {
	HandleEnvelope(ctx context.Context, env protocol.Envelope) error
}

type HandlerFunc func(ctx context.Context, env protocol.Envelope) error

func (f HandlerFunc) HandleEnvelope(ctx context.Context, env protocol.Envelope) error {
	return f(ctx, env)
}

// SayPayload is the "say" data a page receives for a relayed message or
// broadcast.
type SayPayload struct {
	From string `json:"from"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Relay delivers page-to-page traffic: "message" goes to one page,
// "broadcast" to every other page. Other envelopes are ignored.
type Relay struct {
	hub *Hub
}

func NewRelay(hub *Hub) *Relay {
	return &Relay{hub: hub}
}

func (r *Relay) HandleEnvelope(_ context.Context, env protocol.Envelope) error {
	switch env.Name {
	case protocol.NameMessage:
		var args protocol.MessageArgs
		if err := env.BindArgs(&args); err != nil {
			return fmt.Errorf("message args: %w", err)
		}
		if args.ID == "" {
			return fmt.Errorf("message args: missing target id")
		}
		frame, err := sayFrame(env.ID, args.Type, args.Data)
		if err != nil {
			return err
		}
		if err := r.hub.Send(args.ID, frame); err != nil {
			return fmt.Errorf("message to %s: %w", args.ID, err)
		}

	case protocol.NameBroadcast:
		var args protocol.BroadcastArgs
		if err := env.BindArgs(&args); err != nil {
			return fmt.Errorf("broadcast args: %w", err)
		}
		frame, err := sayFrame(env.ID, args.Type, args.Data)
		if err != nil {
			return err
		}
		r.hub.Broadcast(frame, env.ID)
	}
	return nil
}

func sayFrame(from, typ string, data any) ([]byte, error) {
	return protocol.EncodeInstruction(protocol.InstrSay, SayPayload{From: from, Type: typ, Data: data})
}
