// Package sim is a simulated backend: every transaction sleeps for a
// configurable latency and echoes its arguments back as a single result set.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/fleetbench/internal/backend"
	"github.com/torosent/fleetbench/internal/variables"
	"github.com/torosent/fleetbench/internal/workload"
)

// Name is the registry key of the simulated backend.
const Name = "sim"

// ErrInjected is returned by transactions selected by fail_every.
var ErrInjected = errors.New("sim: injected failure")

func init() {
	backend.Register(Name, func() backend.Engine { return New() })
}

// Engine holds the simulation settings shared by all clients.
type Engine struct {
	latency   time.Duration
	failEvery int64
	rows      int

	mu         sync.Mutex
	statements map[string]statement
	sealed     bool
	calls      atomic.Int64
}

type statement struct {
	outputs []workload.Export
}

func New() *Engine {
	return &Engine{rows: 1, statements: make(map[string]statement)}
}

// Configure accepts latency (duration string or milliseconds), fail_every and rows.
func (e *Engine) Configure(config map[string]any) error {
	if raw, ok := config["latency"]; ok {
		d, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("sim latency: %w", err)
		}
		e.latency = d
	}
	if raw, ok := config["fail_every"]; ok {
		n, err := asInt(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("sim fail_every: invalid value %v", raw)
		}
		e.failEvery = int64(n)
	}
	if raw, ok := config["rows"]; ok {
		n, err := asInt(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("sim rows: invalid value %v", raw)
		}
		e.rows = n
	}
	return nil
}

func (e *Engine) PrepareForStatement(name string, _ []workload.Input, outputs []workload.Export) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		return fmt.Errorf("sim: statement %q prepared after consolidation", name)
	}
	e.statements[name] = statement{outputs: outputs}
	return nil
}

func (e *Engine) ConsolidateForRun() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sealed = true
	return nil
}

func (e *Engine) CreateClient() (backend.Client, error) {
	return &client{engine: e}, nil
}

// Calls returns the number of Execute calls served so far.
func (e *Engine) Calls() int64 { return e.calls.Load() }

type client struct {
	engine *Engine
}

func (c *client) Execute(ctx context.Context, transaction string, args variables.Scope) backend.Result {
	e := c.engine
	e.mu.Lock()
	_, known := e.statements[transaction]
	e.mu.Unlock()
	if !known {
		return backend.Failed(fmt.Errorf("sim: unprepared statement %q", transaction))
	}

	n := e.calls.Add(1)
	if e.latency > 0 {
		timer := time.NewTimer(e.latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return backend.Failed(ctx.Err())
		}
	}
	if e.failEvery > 0 && n%e.failEvery == 0 {
		return backend.Failed(ErrInjected)
	}

	scopes := make([]variables.Scope, 0, e.rows)
	for i := 0; i < e.rows; i++ {
		row := variables.NewFrame(nil)
		if args != nil {
			for _, name := range args.Names() {
				if v := args.Variable(name); v != nil {
					row.Set(name, v.Type, v.Value)
				}
			}
		}
		row.Set("rowid", variables.TypeInt, n*int64(e.rows)+int64(i))
		scopes = append(scopes, row)
	}
	return backend.OK(scopes...)
}

func (c *client) Close() error { return nil }

func asDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return time.Duration(ms) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", raw)
	}
}

func asInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unsupported integer type %T", raw)
	}
}
