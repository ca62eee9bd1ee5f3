package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned for frames that are not valid JSON or lack a
// required field.
var ErrMalformedFrame = errors.New("malformed frame")

// Encode serialises an outbound envelope.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %q: %w", env.Name, err)
	}
	return data, nil
}

// DecodeEnvelope parses a page-to-peer frame. A missing or null args field
// leaves Args nil; otherwise Args is a json.RawMessage.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var raw struct {
		ID    *string         `json:"id"`
		Name  *string         `json:"name"`
		Route string          `json:"route"`
		Args  json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if raw.ID == nil || raw.Name == nil {
		return Envelope{}, fmt.Errorf("%w: envelope requires id and name", ErrMalformedFrame)
	}

	env := Envelope{ID: *raw.ID, Name: *raw.Name, Route: raw.Route}
	if len(raw.Args) > 0 && !bytes.Equal(raw.Args, []byte("null")) {
		env.Args = raw.Args
	}
	return env, nil
}

// BindArgs decodes the envelope args into v. It accepts both the raw form
// produced by DecodeEnvelope and in-memory values.
func (e Envelope) BindArgs(v any) error {
	var data []byte
	switch a := e.Args.(type) {
	case nil:
		return fmt.Errorf("envelope %q has no args", e.Name)
	case json.RawMessage:
		data = a
	default:
		var err error
		if data, err = json.Marshal(a); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, v)
}

// EncodeInstruction serialises a peer-to-page instruction.
func EncodeInstruction(typ InstructionType, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", typ, err)
	}
	return json.Marshal(Instruction{Type: typ, Data: payload})
}

// DecodeInstruction parses a peer-to-page frame. Both type and data must be
// present; data may be JSON null.
func DecodeInstruction(frame []byte) (Instruction, error) {
	var raw struct {
		Type *InstructionType `json:"type"`
		Data json.RawMessage  `json:"data"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Instruction{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if raw.Type == nil {
		return Instruction{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if raw.Data == nil {
		return Instruction{}, fmt.Errorf("%w: missing data", ErrMalformedFrame)
	}
	return Instruction{Type: *raw.Type, Data: raw.Data}, nil
}
