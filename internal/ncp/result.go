package ncp

import (
	"fmt"
	"strings"
	"sync"
)

// Result collects the errors and warnings of a call tree. Each entry is
// prefixed with the actors on the stack when it was recorded, so nested
// calls leave a breadcrumb such as "start/driver-2: connection reset".
//
// A Result is never cleared implicitly; call Clear between unrelated calls.
type Result struct {
	mu       sync.Mutex
	actors   []string
	errors   []string
	warnings []string
}

func NewResult() *Result {
	return &Result{}
}

// Push enters a named actor.
func (r *Result) Push(actor string) {
	r.mu.Lock()
	r.actors = append(r.actors, actor)
	r.mu.Unlock()
}

// Pop leaves the innermost actor.
func (r *Result) Pop() {
	r.mu.Lock()
	if n := len(r.actors); n > 0 {
		r.actors = r.actors[:n-1]
	}
	r.mu.Unlock()
}

func (r *Result) prefixed(msg string) string {
	if len(r.actors) == 0 {
		return msg
	}
	return strings.Join(r.actors, "/") + ": " + msg
}

func (r *Result) AddError(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, r.prefixed(msg))
	r.mu.Unlock()
}

func (r *Result) AddWarning(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, r.prefixed(msg))
	r.mu.Unlock()
}

func (r *Result) Errorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}

func (r *Result) Warnf(format string, args ...any) {
	r.AddWarning(fmt.Sprintf(format, args...))
}

// Errors returns a copy of the recorded errors in order.
func (r *Result) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Warnings returns a copy of the recorded warnings in order.
func (r *Result) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors) > 0
}

// Clear drops all entries and the actor stack.
func (r *Result) Clear() {
	r.mu.Lock()
	r.actors = nil
	r.errors = nil
	r.warnings = nil
	r.mu.Unlock()
}

// Annotate copies the recorded entries into the __error__ and __warning__
// fields of m, one entry per line.
func (r *Result) Annotate(m *Message) *Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) > 0 {
		m.Set(FieldError, strings.Join(r.errors, "\n"))
	}
	if len(r.warnings) > 0 {
		m.Set(FieldWarning, strings.Join(r.warnings, "\n"))
	}
	return m
}

// Absorb records the __error__ and __warning__ lines carried by m under the
// current actor stack.
func (r *Result) Absorb(m *Message) {
	for _, line := range splitLines(m.ErrorText()) {
		r.AddError(line)
	}
	for _, line := range splitLines(m.WarningText()) {
		r.AddWarning(line)
	}
}
