package app

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pagewire/pages/internal/client"
	"github.com/pagewire/pages/internal/state"
	"github.com/pagewire/pages/internal/telemetry"
)

// StateMsg reports a session lifecycle transition.
type StateMsg struct{ State client.State }

// SayMsg carries a "say" payload from the peer.
type SayMsg struct{ Data any }

// ValueMsg reports a page state change.
type ValueMsg struct{ Change state.Change }

// ErrorMsg carries a failure the session logged: a dropped frame, a failing
// script or an unknown function.
type ErrorMsg struct {
	Msg string
	Err error
}

// EndedMsg is sent when the session stops running.
type EndedMsg struct{ Err error }

type runningMsg struct{}

// Bridge carries session callbacks, which run on the session's goroutines,
// into the Bubble Tea loop.
type Bridge struct {
	ch chan tea.Msg
}

func NewBridge(buffer int) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bridge{ch: make(chan tea.Msg, buffer)}
}

// Options wires the bridge into a new session.
func (b *Bridge) Options() []client.Option {
	return []client.Option{
		client.WithSink(b.say),
		client.WithStateHook(b.state),
		client.WithLogger(b.Logger()),
	}
}

// Logger returns a session logger that surfaces errors in the UI. Info
// lines are dropped; state changes already arrive as StateMsg.
func (b *Bridge) Logger() telemetry.Logger {
	return bridgeLogger{b}
}

type bridgeLogger struct{ b *Bridge }

func (bridgeLogger) Info(string, ...any) {}

func (l bridgeLogger) Error(err error, msg string, _ ...any) {
	l.b.push(ErrorMsg{Msg: msg, Err: err})
}

// Wait returns a command that delivers the next bridged message.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		return <-b.ch
	}
}

func (b *Bridge) say(data any)              { b.push(SayMsg{Data: data}) }
func (b *Bridge) state(s client.State)      { b.push(StateMsg{State: s}) }
func (b *Bridge) value(change state.Change) { b.push(ValueMsg{Change: change}) }

// push never blocks the session; when the UI falls behind, messages are
// dropped.
func (b *Bridge) push(msg tea.Msg) {
	select {
	case b.ch <- msg:
	default:
	}
}
