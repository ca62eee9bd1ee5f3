// Package protocol defines the wire format spoken between a page and its
// peer. Field names and casing are fixed; both sides must agree exactly.
package protocol

import (
	"encoding/json"
)

// Version identifies the inbound instruction vocabulary below.
const Version = 1

// InstructionType identifies the kind of peer-pushed instruction.
type InstructionType string

const (
	InstrSay    InstructionType = "say"
	InstrScript InstructionType = "script"
	InstrInvoke InstructionType = "invoke"
	InstrState  InstructionType = "state"
)

// Known reports whether t is part of the vocabulary. Unknown instructions
// are ignored by pages.
func (t InstructionType) Known() bool {
	switch t {
	case InstrSay, InstrScript, InstrInvoke, InstrState:
		return true
	}
	return false
}

// Envelope names produced by the page itself.
const (
	NameConnected = "connected"
	NameUnloaded  = "unloaded"
	NameNotify    = "notify"
	NameMessage   = "message"
	NameBroadcast = "broadcast"
)

// Envelope is the page-to-peer frame. Args is omitted from the wire when nil.
// On the peer side Args holds the undecoded json.RawMessage; use BindArgs.
type Envelope struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Route string `json:"route"`
	Args  any    `json:"args,omitempty"`
}

// MessageArgs is the args payload of a "message" envelope.
type MessageArgs struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BroadcastArgs is the args payload of a "broadcast" envelope.
type BroadcastArgs struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Instruction is the peer-to-page frame.
type Instruction struct {
	Type InstructionType `json:"type"`
	Data json.RawMessage `json:"data"`
}

// InvokeData is the data payload of an "invoke" instruction.
type InvokeData struct {
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}
