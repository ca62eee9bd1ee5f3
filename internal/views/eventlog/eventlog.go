// Package eventlog provides the scrolling log where "say" payloads and
// session events land. Structured payloads keep their shape: objects and
// arrays are shown as indented JSON under a one-line summary.
package eventlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/pagewire/pages/internal/theme"
)

const (
	maxEntries   = 500
	maxDetail    = 12
	detailGutter = "│ "
)

// Entry is one logged event. Detail holds the pretty-printed payload of a
// structured "say", one line per row.
type Entry struct {
	Time    time.Time
	Kind    string // "say", "out", "val", "err", "sys"
	Message string
	Detail  []string
	Repeat  int // identical events folded into this one
}

func (e Entry) rows() int {
	return 1 + len(e.Detail)
}

// Model holds log state. Offset counts rendered rows from the bottom.
type Model struct {
	Entries []Entry
	Offset  int
	now     func() time.Time
}

func New() Model {
	return Model{now: time.Now}
}

func (m *Model) stamp() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// Add logs a plain event. An event identical to the previous one bumps its
// repeat count instead of adding a row.
func (m *Model) Add(kind, message string) {
	m.add(Entry{Kind: kind, Message: message})
}

func (m *Model) Addf(kind, format string, args ...any) {
	m.Add(kind, fmt.Sprintf(format, args...))
}

// Say logs a peer payload. Scalars are shown inline; objects and arrays get
// a summary line and an indented body.
func (m *Model) Say(data any) {
	switch v := data.(type) {
	case map[string]any:
		m.add(Entry{Kind: "say", Message: fmt.Sprintf("object{%d}", len(v)), Detail: detail(v)})
	case []any:
		m.add(Entry{Kind: "say", Message: fmt.Sprintf("array[%d]", len(v)), Detail: detail(v)})
	case string:
		m.add(Entry{Kind: "say", Message: v})
	case nil:
		m.add(Entry{Kind: "say", Message: "null"})
	default:
		b, err := json.Marshal(v)
		if err != nil {
			m.add(Entry{Kind: "say", Message: fmt.Sprint(v)})
			return
		}
		m.add(Entry{Kind: "say", Message: string(b)})
	}
}

func (m *Model) add(e Entry) {
	m.Offset = 0
	if n := len(m.Entries); n > 0 && sameEvent(m.Entries[n-1], e) {
		m.Entries[n-1].Repeat++
		m.Entries[n-1].Time = m.stamp()
		return
	}
	e.Time = m.stamp()
	m.Entries = append(m.Entries, e)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
}

func sameEvent(a, b Entry) bool {
	if a.Kind != b.Kind || a.Message != b.Message || len(a.Detail) != len(b.Detail) {
		return false
	}
	for i := range a.Detail {
		if a.Detail[i] != b.Detail[i] {
			return false
		}
	}
	return true
}

// detail pretty-prints v, capped at maxDetail lines.
func detail(v any) []string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return []string{err.Error()}
	}
	lines := strings.Split(string(b), "\n")
	if len(lines) > maxDetail {
		more := len(lines) - maxDetail + 1
		lines = append(lines[:maxDetail-1], fmt.Sprintf("… %d more lines", more))
	}
	return lines
}

// TotalRows is the number of rendered rows across all entries.
func (m Model) TotalRows() int {
	n := 0
	for _, e := range m.Entries {
		n += e.rows()
	}
	return n
}

// ScrollUp moves the viewport up by n rows, stopping at the first row.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	if max := m.TotalRows() - 1; m.Offset > max {
		m.Offset = max
	}
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// ScrollDown moves the viewport down by n rows.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// View renders the log in a bordered panel of the given outer size.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visible := height - 3
	if visible < 3 {
		visible = 3
	}

	title := theme.StyleHeader.Render(" LOG ")
	panel := theme.StyleBorder.Width(innerW).Padding(0, 1)

	if len(m.Entries) == 0 {
		return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleDimmed.Render("  No events yet.")))
	}

	// Walk back from the newest entry until the window is filled.
	var rows []string
	need := visible + m.Offset
	for i := len(m.Entries) - 1; i >= 0 && len(rows) < need; i-- {
		rows = append(m.render(m.Entries[i], innerW-2), rows...)
	}
	end := len(rows) - m.Offset
	if end < 0 {
		end = 0
	}
	start := end - visible
	if start < 0 {
		start = 0
	}

	body := strings.Join(rows[start:end], "\n")
	if m.Offset > 0 {
		body += "\n" + theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func (m Model) render(e Entry, width int) []string {
	color := theme.KindColor(e.Kind)
	head := fmt.Sprintf("%s %s %s",
		theme.StyleDimmed.Render(e.Time.Format("15:04:05.000")),
		lipgloss.NewStyle().Foreground(color).Width(4).Render(e.Kind),
		e.Message)
	if e.Repeat > 0 {
		head += theme.StyleDimmed.Render(fmt.Sprintf(" ×%d", e.Repeat+1))
	}

	out := []string{ansi.Truncate(head, width, "…")}
	gutter := lipgloss.NewStyle().Foreground(color).Render(detailGutter)
	for _, line := range e.Detail {
		out = append(out, ansi.Truncate(strings.Repeat(" ", 13)+gutter+line, width, "…"))
	}
	return out
}
