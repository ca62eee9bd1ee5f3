// Package script implements the closed call language peers use to drive a
// page. A script is a list of calls such as
//
//	notify('ack'); set("theme", {mode: "dark"})
//	broadcast('chat', [1, 2, 3])
//
// Calls can only reach functions registered in a Registry. There are no
// variables, operators or control flow.
package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// Call is one parsed statement.
type Call struct {
	Name string
	Args Args
	Pos  scanner.Position
}

// Program is a parsed script.
type Program []Call

// SyntaxError reports a script that could not be parsed.
type SyntaxError struct {
	Pos scanner.Position
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("script:%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

type parser struct {
	s   scanner.Scanner
	tok rune
	err *SyntaxError
}

// Parse parses src into a Program.
func Parse(src string) (Program, error) {
	p := &parser{}
	p.s.Init(strings.NewReader(src))
	p.s.Filename = "script"
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	// Newlines separate statements, so they are tokens.
	p.s.Whitespace = 1<<'\t' | 1<<'\r' | 1<<' '
	p.s.Error = func(s *scanner.Scanner, msg string) {
		p.fail(s.Pos(), msg)
	}

	p.next()
	var prog Program
	for p.err == nil && p.tok != scanner.EOF {
		if p.tok == ';' || p.tok == '\n' {
			p.next()
			continue
		}
		call := p.parseCall()
		if p.err != nil {
			break
		}
		prog = append(prog, call)
		if p.tok != ';' && p.tok != '\n' && p.tok != scanner.EOF {
			p.fail(p.s.Position, fmt.Sprintf("expected ; or newline after call, found %s", p.describe()))
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return prog, nil
}

func (p *parser) next() {
	p.tok = p.s.Scan()
}

func (p *parser) fail(pos scanner.Position, msg string) {
	if p.err == nil {
		p.err = &SyntaxError{Pos: pos, Msg: msg}
	}
}

func (p *parser) describe() string {
	switch p.tok {
	case scanner.EOF:
		return "end of script"
	case '\n':
		return "newline"
	}
	return strconv.Quote(p.s.TokenText())
}

func (p *parser) expect(tok rune) {
	if p.tok != tok {
		p.fail(p.s.Position, fmt.Sprintf("expected %q, found %s", tok, p.describe()))
		return
	}
	p.next()
}

// skipNewlines allows calls and literals to span lines inside brackets.
func (p *parser) skipNewlines() {
	for p.tok == '\n' {
		p.next()
	}
}

func (p *parser) parseCall() Call {
	pos := p.s.Position
	if p.tok != scanner.Ident {
		p.fail(pos, fmt.Sprintf("expected function name, found %s", p.describe()))
		return Call{}
	}
	call := Call{Name: p.s.TokenText(), Pos: pos}
	p.next()
	p.expect('(')
	p.skipNewlines()
	for p.err == nil && p.tok != ')' {
		call.Args = append(call.Args, p.parseValue())
		p.skipNewlines()
		if p.tok == ',' {
			p.next()
			p.skipNewlines()
			continue
		}
		if p.tok != ')' {
			p.fail(p.s.Position, fmt.Sprintf("expected , or ) in call to %s, found %s", call.Name, p.describe()))
		}
	}
	p.expect(')')
	return call
}

func (p *parser) parseValue() any {
	pos := p.s.Position
	switch p.tok {
	case scanner.String:
		text := p.s.TokenText()
		p.next()
		v, err := strconv.Unquote(text)
		if err != nil {
			p.fail(pos, fmt.Sprintf("invalid string literal %s", text))
		}
		return v
	case '\'':
		return p.parseSingleQuoted(pos)
	case scanner.Int, scanner.Float:
		return p.parseNumber(pos, false)
	case '-':
		p.next()
		if p.tok != scanner.Int && p.tok != scanner.Float {
			p.fail(pos, "expected number after -")
			return nil
		}
		return p.parseNumber(pos, true)
	case scanner.Ident:
		word := p.s.TokenText()
		p.next()
		switch word {
		case "true":
			return true
		case "false":
			return false
		case "null", "undefined":
			return nil
		}
		p.fail(pos, fmt.Sprintf("unknown identifier %q", word))
		return nil
	case '[':
		return p.parseArray()
	case '{':
		return p.parseObject()
	}
	p.fail(pos, fmt.Sprintf("unexpected %s", p.describe()))
	return nil
}

func (p *parser) parseNumber(pos scanner.Position, negative bool) any {
	tok, text := p.tok, p.s.TokenText()
	p.next()
	f, err := numberValue(tok, text)
	if err != nil {
		p.fail(pos, fmt.Sprintf("invalid number %s: %v", text, err))
		return nil
	}
	if negative {
		f = -f
	}
	return f
}

// numberValue follows JavaScript strict-mode literals: 0x, 0o and 0b
// integers and numeric separators are accepted, legacy octal forms such as
// 010 and hexadecimal floats are not.
func numberValue(tok rune, text string) (float64, error) {
	lower := strings.ToLower(text)
	prefixed := strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0o") || strings.HasPrefix(lower, "0b")
	if len(text) > 1 && text[0] == '0' && !prefixed && text[1] >= '0' && text[1] <= '9' {
		return 0, errors.New("leading zero")
	}
	if tok == scanner.Float {
		if prefixed {
			return 0, errors.New("hexadecimal float")
		}
		return strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
	}

	if prefixed {
		n, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return 0, err
		}
		return float64(n), nil
	}
	// Decimal integers beyond 64 bits still have a float value.
	return strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
}

// parseSingleQuoted reads a '...' string. The scanner returns the opening
// quote as a plain rune; the body is consumed with Next.
func (p *parser) parseSingleQuoted(pos scanner.Position) any {
	var b strings.Builder
	for {
		ch := p.s.Next()
		switch ch {
		case scanner.EOF, '\n':
			p.fail(pos, "unterminated string literal")
			return nil
		case '\'':
			p.next()
			return b.String()
		case '\\':
			esc := p.s.Next()
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			case scanner.EOF:
				p.fail(pos, "unterminated string literal")
				return nil
			default:
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(ch)
		}
	}
}

func (p *parser) parseArray() any {
	p.next() // [
	out := []any{}
	p.skipNewlines()
	for p.err == nil && p.tok != ']' {
		out = append(out, p.parseValue())
		p.skipNewlines()
		if p.tok == ',' {
			p.next()
			p.skipNewlines()
			continue
		}
		if p.tok != ']' {
			p.fail(p.s.Position, fmt.Sprintf("expected , or ] in array, found %s", p.describe()))
		}
	}
	p.expect(']')
	return out
}

func (p *parser) parseObject() any {
	p.next() // {
	out := map[string]any{}
	p.skipNewlines()
	for p.err == nil && p.tok != '}' {
		var key string
		switch p.tok {
		case scanner.Ident:
			key = p.s.TokenText()
			p.next()
		case scanner.String, '\'':
			k, _ := p.parseValue().(string)
			key = k
		default:
			p.fail(p.s.Position, fmt.Sprintf("expected object key, found %s", p.describe()))
			return nil
		}
		p.skipNewlines()
		p.expect(':')
		p.skipNewlines()
		out[key] = p.parseValue()
		p.skipNewlines()
		if p.tok == ',' {
			p.next()
			p.skipNewlines()
			continue
		}
		if p.tok != '}' {
			p.fail(p.s.Position, fmt.Sprintf("expected , or } in object, found %s", p.describe()))
		}
	}
	p.expect('}')
	return out
}
