// Package app is the Bubble Tea host for a terminal page: it runs one
// session, shows what the peer says and lets the user drive the outbound
// operations from a command line.
package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pagewire/pages/internal/client"
	"github.com/pagewire/pages/internal/theme"
	"github.com/pagewire/pages/internal/views/eventlog"
	"github.com/pagewire/pages/internal/views/status"
)

const maxValueLines = 6

// Model is the root Bubble Tea model.
type Model struct {
	session *client.Session
	bridge  *Bridge
	ctx     context.Context
	cancel  context.CancelFunc

	keys   KeyMap
	width  int
	height int

	input  textinput.Model
	log    eventlog.Model
	status status.Model
	values map[string]any

	showHelp bool
	help     string
	ended    bool
}

// New creates the root model. The session must have been built with
// bridge.Options().
func New(s *client.Session, bridge *Bridge) Model {
	ctx, cancel := context.WithCancel(context.Background())

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "notify NAME | broadcast TYPE DATA | message ID TYPE DATA | callback NAME JSON"
	input.Focus()

	st := status.New()
	st.SessionID = s.ID()
	st.Route = s.Route()
	st.Functions = len(s.Functions())

	s.PageState().OnChange(bridge.value)

	return Model{
		session: s,
		bridge:  bridge,
		ctx:     ctx,
		cancel:  cancel,
		keys:    DefaultKeyMap(),
		input:   input,
		log:     eventlog.New(),
		status:  st,
		values:  make(map[string]any),
	}
}

// Init connects the session and starts listening for bridged messages.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.connect(), m.bridge.Wait(), textinput.Blink)
}

func (m Model) connect() tea.Cmd {
	return func() tea.Msg {
		if err := m.session.Connect(m.ctx); err != nil {
			return EndedMsg{Err: err}
		}
		return runningMsg{}
	}
}

func (m Model) run() tea.Cmd {
	return func() tea.Msg {
		return EndedMsg{Err: m.session.Run(m.ctx)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.status.Width = msg.Width
		m.input.Width = msg.Width - 6
		if m.showHelp {
			m.help = m.renderHelp()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case runningMsg:
		m.log.Addf("sys", "connected to %s", m.session.SocketURL())
		return m, m.run()

	case StateMsg:
		m.status.State = msg.State.String()
		m.log.Addf("sys", "session %s", msg.State)
		return m, m.bridge.Wait()

	case SayMsg:
		m.log.Say(msg.Data)
		return m, m.bridge.Wait()

	case ValueMsg:
		if msg.Change.Deleted {
			delete(m.values, msg.Change.Key)
			m.log.Addf("val", "%s deleted", msg.Change.Key)
		} else {
			m.values[msg.Change.Key] = msg.Change.Value
			m.log.Addf("val", "%s = %s", msg.Change.Key, formatValue(msg.Change.Value))
		}
		return m, m.bridge.Wait()

	case ErrorMsg:
		m.log.Addf("err", "%s: %v", msg.Msg, msg.Err)
		return m, m.bridge.Wait()

	case EndedMsg:
		m.ended = true
		if msg.Err != nil {
			m.log.Addf("err", "session ended: %v", msg.Err)
		} else {
			m.log.Add("sys", "session ended")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.session.Unload()
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help) && m.input.Value() == "":
		m.showHelp = !m.showHelp
		if m.showHelp {
			m.help = m.renderHelp()
		}
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		if m.showHelp {
			m.showHelp = false
		} else {
			m.input.Reset()
		}
		return m, nil

	case key.Matches(msg, m.keys.ScrollUp):
		m.log.ScrollUp(5)
		return m, nil

	case key.Matches(msg, m.keys.ScrollDn):
		m.log.ScrollDown(5)
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		line := m.input.Value()
		m.input.Reset()
		m.submit(line)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit(line string) {
	cmd, err := ParseCommand(line)
	if err == errEmptyCommand {
		return
	}
	if err != nil {
		m.log.Add("err", err.Error())
		return
	}
	if err := cmd.Run(m.session); err != nil {
		m.log.Addf("err", "%s: %v", cmd.Verb, err)
		return
	}
	m.log.Add("out", cmd.String())
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	valuesPanel := m.renderValues()
	statusBar := m.status.View()
	inputLine := m.input.View()
	footer := theme.StyleDimmed.Render("  enter:send  ?:help  pgup/pgdn:scroll  ctrl+c:unload & quit")

	used := lipgloss.Height(statusBar) + lipgloss.Height(valuesPanel) + lipgloss.Height(inputLine) + lipgloss.Height(footer)
	mainHeight := m.height - used
	if mainHeight < 5 {
		mainHeight = 5
	}

	main := m.log.View(m.width, mainHeight)
	if m.showHelp {
		main = m.help
	}

	return lipgloss.JoinVertical(lipgloss.Left, statusBar, main, valuesPanel, inputLine, footer)
}

func (m Model) renderValues() string {
	title := theme.StyleHeader.Render(" PAGE STATE ")
	if len(m.values) == 0 {
		return title + theme.StyleDimmed.Render(" (empty)")
	}

	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{title}
	for i, k := range keys {
		if i == maxValueLines {
			lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  … %d more", len(keys)-i)))
			break
		}
		lines = append(lines, fmt.Sprintf("  %s = %s", k, formatValue(m.values[k])))
	}
	return strings.Join(lines, "\n")
}

const helpMarkdown = `# Commands

| command | sends |
|---|---|
| ` + "`notify NAME`" + ` | a notify envelope |
| ` + "`broadcast TYPE [DATA]`" + ` | data for every other page |
| ` + "`message ID TYPE [DATA]`" + ` | data for the page with session ID |
| ` + "`callback NAME [JSON]`" + ` | any envelope name with JSON args |

DATA is read as JSON when it parses, otherwise as text.

# Script functions

The peer may call these from script and invoke instructions:

%s

Press **esc** to close this panel.
`

func (m Model) renderHelp() string {
	var fns []string
	for _, name := range m.session.Functions() {
		fns = append(fns, "- `"+name+"`")
	}
	md := fmt.Sprintf(helpMarkdown, strings.Join(fns, "\n"))

	width := m.width - 4
	if width < 40 {
		width = 40
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
