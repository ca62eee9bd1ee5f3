package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pagewire/pages/internal/protocol"
	"github.com/pagewire/pages/internal/script"
)

// ErrScriptsDisabled is returned for "script" instructions when the session
// was built WithScripts(false).
var ErrScriptsDisabled = errors.New("script instructions are disabled")

func (s *Session) handleFrame(frame []byte) {
	inst, err := protocol.DecodeInstruction(frame)
	if err != nil {
		s.metrics.IncParseFailures()
		s.logger.Error(err, "dropping inbound frame", "session", s.id, "bytes", len(frame))
		return
	}
	if !inst.Type.Known() {
		return
	}

	s.metrics.IncReceived(string(inst.Type))
	if err := s.dispatch(inst); err != nil {
		s.metrics.IncDispatchErrors()
		s.logger.Error(err, "instruction failed", "session", s.id, "type", string(inst.Type))
	}
}

// dispatch runs one instruction to completion. A panicking capability fails
// the instruction, not the session.
func (s *Session) dispatch(inst protocol.Instruction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s instruction panicked: %v", inst.Type, r)
		}
	}()

	switch inst.Type {
	case protocol.InstrSay:
		var data any
		if err := json.Unmarshal(inst.Data, &data); err != nil {
			return fmt.Errorf("say data: %w", err)
		}
		s.sink(data)

	case protocol.InstrScript:
		if !s.scripts {
			return ErrScriptsDisabled
		}
		var src string
		if err := json.Unmarshal(inst.Data, &src); err != nil {
			return fmt.Errorf("script data must be a string: %w", err)
		}
		return s.registry.Run(src)

	case protocol.InstrInvoke:
		var d protocol.InvokeData
		if err := json.Unmarshal(inst.Data, &d); err != nil {
			return fmt.Errorf("invoke data: %w", err)
		}
		if d.Name == "" {
			return errors.New("invoke data: missing name")
		}
		return s.registry.Call(d.Name, script.Args(d.Args))

	case protocol.InstrState:
		var values map[string]any
		if err := json.Unmarshal(inst.Data, &values); err != nil {
			return fmt.Errorf("state data must be an object: %w", err)
		}
		s.values.Merge(values)
	}
	return nil
}

// buildRegistry binds the outbound helpers and local capabilities to script
// function names.
func (s *Session) buildRegistry() *script.Registry {
	r := script.NewRegistry()

	r.Register("notify", func(args script.Args) error {
		if err := args.Arity(1, 1); err != nil {
			return err
		}
		name, err := args.String(0)
		if err != nil {
			return err
		}
		return s.Notify(name)
	})
	r.Register("message", func(args script.Args) error {
		if err := args.Arity(2, 3); err != nil {
			return err
		}
		id, err := args.String(0)
		if err != nil {
			return err
		}
		typ, err := args.String(1)
		if err != nil {
			return err
		}
		return s.Message(id, typ, args.Value(2))
	})
	r.Register("broadcast", func(args script.Args) error {
		if err := args.Arity(1, 2); err != nil {
			return err
		}
		typ, err := args.String(0)
		if err != nil {
			return err
		}
		return s.Broadcast(typ, args.Value(1))
	})
	r.Register("callback", func(args script.Args) error {
		if err := args.Arity(1, 2); err != nil {
			return err
		}
		name, err := args.String(0)
		if err != nil {
			return err
		}
		return s.Callback(name, args.Value(1))
	})
	r.Register("say", func(args script.Args) error {
		if err := args.Arity(0, 1); err != nil {
			return err
		}
		s.sink(args.Value(0))
		return nil
	})
	r.Register("set", func(args script.Args) error {
		if err := args.Arity(1, 2); err != nil {
			return err
		}
		key, err := args.String(0)
		if err != nil {
			return err
		}
		s.values.Set(key, args.Value(1))
		return nil
	})

	for _, f := range s.extra {
		r.Register(f.name, f.fn)
	}
	return r
}

// Functions lists the names callable from scripts and invoke instructions.
func (s *Session) Functions() []string {
	return s.registry.Names()
}
