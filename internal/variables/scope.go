// Package variables holds the typed variables a benchmark client evaluates
// transactions against, and the scope chain they are resolved through.
package variables

import (
	"fmt"
	"sort"
)

// Variable is a named, typed value. Value is nil until first rolled or assigned.
type Variable struct {
	Name  string
	Type  Type
	Value any
}

// IsSet reports whether the variable carries a value.
func (v *Variable) IsSet() bool {
	return v != nil && v.Value != nil
}

func (v *Variable) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%s=%v", v.Name, v.Type, v.Value)
}

// Scope resolves variables by name.
type Scope interface {
	// Variable returns the named variable, or nil if the scope cannot resolve it.
	Variable(name string) *Variable

	// Names returns the sorted set of names the scope can resolve.
	Names() []string
}

// Sampler produces successive values for a sample variable.
type Sampler interface {
	Next() any
}

// SampleScope binds one generator to each declared variable of a sample space.
// It is owned by a single client goroutine and needs no locking.
type SampleScope struct {
	name  string
	vars  map[string]*Variable
	gens  map[string]Sampler
	order []string
}

// NewSampleScope creates an empty scope for the named sample space.
func NewSampleScope(name string) *SampleScope {
	return &SampleScope{
		name: name,
		vars: make(map[string]*Variable),
		gens: make(map[string]Sampler),
	}
}

// Name returns the sample space name.
func (s *SampleScope) Name() string { return s.name }

// Add declares a variable fed by gen.
func (s *SampleScope) Add(name string, typ Type, gen Sampler) error {
	if _, dup := s.vars[name]; dup {
		return fmt.Errorf("sample space %q: duplicate variable %q", s.name, name)
	}
	if gen == nil {
		return fmt.Errorf("sample space %q: variable %q has no generator", s.name, name)
	}
	s.vars[name] = &Variable{Name: name, Type: typ}
	s.gens[name] = gen
	s.order = append(s.order, name)
	return nil
}

// Roll draws a fresh value for every variable in the scope.
func (s *SampleScope) Roll() {
	for _, name := range s.order {
		s.vars[name].Value = s.gens[name].Next()
	}
}

func (s *SampleScope) Variable(name string) *Variable {
	return s.vars[name]
}

func (s *SampleScope) Names() []string {
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names
}

// Frame is a mutable scope local to one mix execution. Reads fall through to
// the parent when a name is not bound locally; writes are always local.
type Frame struct {
	parent Scope
	local  map[string]*Variable
}

// NewFrame returns an empty frame chained to parent, which may be nil.
func NewFrame(parent Scope) *Frame {
	return &Frame{
		parent: parent,
		local:  make(map[string]*Variable),
	}
}

// Set binds name locally, shadowing any parent binding.
func (f *Frame) Set(name string, typ Type, value any) {
	f.local[name] = &Variable{Name: name, Type: typ, Value: value}
}

func (f *Frame) Variable(name string) *Variable {
	if v, ok := f.local[name]; ok {
		return v
	}
	if f.parent != nil {
		return f.parent.Variable(name)
	}
	return nil
}

func (f *Frame) Names() []string {
	seen := make(map[string]struct{}, len(f.local))
	for name := range f.local {
		seen[name] = struct{}{}
	}
	if f.parent != nil {
		for _, name := range f.parent.Names() {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies the resolvable bindings of s into a plain map.
func Snapshot(s Scope) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	names := s.Names()
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v := s.Variable(name); v != nil {
			out[name] = v.Value
		}
	}
	return out
}
