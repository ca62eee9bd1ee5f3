package script

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownFunction is returned when a script calls a name that is not
// registered.
var ErrUnknownFunction = errors.New("unknown function")

// Func is a capability callable from scripts.
type Func func(args Args) error

// Args are the evaluated arguments of a call. Numbers are float64, objects
// are map[string]any and arrays are []any, as with encoding/json.
type Args []any

// Arity checks that the call received between min and max arguments.
// max < 0 means unbounded.
func (a Args) Arity(min, max int) error {
	if len(a) < min || (max >= 0 && len(a) > max) {
		if min == max {
			return fmt.Errorf("want %d argument(s), got %d", min, len(a))
		}
		return fmt.Errorf("want %d to %d arguments, got %d", min, max, len(a))
	}
	return nil
}

// Value returns argument i, or nil when absent.
func (a Args) Value(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// String returns argument i, which must be a string.
func (a Args) String(i int) (string, error) {
	s, ok := a.Value(i).(string)
	if !ok {
		return "", fmt.Errorf("argument %d: want string, got %T", i+1, a.Value(i))
	}
	return s, nil
}

// Registry maps function names to capabilities. It is populated once when a
// session is built and only read afterwards.
type Registry struct {
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces a function.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a single function by name.
func (r *Registry) Call(name string, args Args) error {
	fn, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if err := fn(args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Exec runs the program's calls in order and stops at the first failure.
// Calls before the failing one have already taken effect.
func (r *Registry) Exec(prog Program) error {
	for _, c := range prog {
		if err := r.Call(c.Name, c.Args); err != nil {
			return fmt.Errorf("script:%d:%d: %w", c.Pos.Line, c.Pos.Column, err)
		}
	}
	return nil
}

// Run parses and executes src.
func (r *Registry) Run(src string) error {
	prog, err := Parse(src)
	if err != nil {
		return err
	}
	return r.Exec(prog)
}
