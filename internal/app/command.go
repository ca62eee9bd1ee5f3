package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Sender is the outbound surface a command line drives. *client.Session
// satisfies it.
type Sender interface {
	Notify(name string) error
	Message(id, typ string, data any) error
	Broadcast(typ string, data any) error
	Callback(name string, args any) error
}

var errEmptyCommand = errors.New("empty command")

// Command is one parsed command line.
type Command struct {
	Verb string
	Args []string
	Data any
}

// ParseCommand reads "notify NAME", "broadcast TYPE [DATA]",
// "message ID TYPE [DATA]" or "callback NAME [JSON]". DATA is decoded as
// JSON when it parses and kept as a string otherwise.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, errEmptyCommand
	}
	verb, rest, _ := strings.Cut(line, " ")
	verb = strings.ToLower(verb)

	switch verb {
	case "notify":
		parts := strings.Fields(rest)
		if len(parts) != 1 {
			return Command{}, fmt.Errorf("usage: notify NAME")
		}
		return Command{Verb: verb, Args: parts}, nil

	case "broadcast", "callback":
		parts := splitFields(rest, 2)
		if len(parts) == 0 {
			if verb == "broadcast" {
				return Command{}, fmt.Errorf("usage: broadcast TYPE [DATA]")
			}
			return Command{}, fmt.Errorf("usage: callback NAME [JSON]")
		}
		cmd := Command{Verb: verb, Args: parts[:1]}
		if len(parts) == 2 {
			cmd.Data = parseData(parts[1])
		}
		return cmd, nil

	case "message":
		parts := splitFields(rest, 3)
		if len(parts) < 2 {
			return Command{}, fmt.Errorf("usage: message ID TYPE [DATA]")
		}
		cmd := Command{Verb: verb, Args: parts[:2]}
		if len(parts) == 3 {
			cmd.Data = parseData(parts[2])
		}
		return cmd, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", verb)
}

// Run sends the command through s.
func (c Command) Run(s Sender) error {
	switch c.Verb {
	case "notify":
		return s.Notify(c.Args[0])
	case "broadcast":
		return s.Broadcast(c.Args[0], c.Data)
	case "message":
		return s.Message(c.Args[0], c.Args[1], c.Data)
	case "callback":
		return s.Callback(c.Args[0], c.Data)
	}
	return fmt.Errorf("unknown command %q", c.Verb)
}

func (c Command) String() string {
	s := c.Verb + " " + strings.Join(c.Args, " ")
	if c.Data != nil {
		s += " " + formatValue(c.Data)
	}
	return s
}

func parseData(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// splitFields splits s on whitespace into at most n parts; the last part
// keeps the remainder of the line.
func splitFields(s string, n int) []string {
	var out []string
	s = strings.TrimSpace(s)
	for s != "" && len(out) < n-1 {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, s[:i])
		s = strings.TrimSpace(s[i:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
