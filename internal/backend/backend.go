// Package backend defines the contract between the benchmark engine and the
// system under test. Engines are looked up by name from a process-wide registry.
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/torosent/fleetbench/internal/variables"
	"github.com/torosent/fleetbench/internal/workload"
)

// Engine is configured once per run and hands out one Client per virtual user.
type Engine interface {
	Configure(config map[string]any) error
	PrepareForStatement(name string, inputs []workload.Input, outputs []workload.Export) error
	ConsolidateForRun() error
	CreateClient() (Client, error)
}

// Client executes named transactions. A Client is used by exactly one goroutine.
type Client interface {
	Execute(ctx context.Context, transaction string, args variables.Scope) Result
	Close() error
}

// Result is the outcome of one Execute call: either the result sets the
// transaction produced or the reason it failed.
type Result struct {
	Scopes []variables.Scope
	Err    error
}

func OK(scopes ...variables.Scope) Result { return Result{Scopes: scopes} }

func Failed(err error) Result { return Result{Err: err} }

// Failed reports whether the transaction failed.
func (r Result) Failed() bool { return r.Err != nil }

// Factory builds an unconfigured Engine.
type Factory func() Engine

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under name. It panics on duplicates.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	factories[name] = f
}

// New returns a fresh engine registered under name.
func New(name string) (Engine, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend %q is not registered (available: %v)", name, Names())
	}
	return f(), nil
}

// Names lists the registered backends.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
