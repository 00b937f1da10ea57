// Package feeder provides the sample value generators that feed benchmark
// variables: round-robin over a fixed list of literals and uniform random
// integers in a closed range.
package feeder

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/torosent/fleetbench/internal/variables"
	"github.com/torosent/fleetbench/internal/workload"
)

// SampleValue produces successive values for one sample variable.
// Implementations must be safe for concurrent use.
type SampleValue interface {
	// Next returns the next value. It never fails once the generator is built.
	Next() any

	// Len returns the number of distinct positions in the sequence, or 0 when
	// the sequence is unbounded.
	Len() int
}

// RoundRobin cycles over a fixed list of literals in declared order.
type RoundRobin struct {
	values []any
	index  int
	mu     sync.Mutex
}

// NewRoundRobin coerces every literal to typ and returns a generator cycling over them.
func NewRoundRobin(typ variables.Type, literals []any) (*RoundRobin, error) {
	if len(literals) == 0 {
		return nil, fmt.Errorf("round-robin value list is empty")
	}
	values := make([]any, len(literals))
	for i, lit := range literals {
		v, err := typ.Coerce(lit)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		values[i] = v
	}
	return &RoundRobin{values: values}, nil
}

// Next returns the value under the cursor and advances it modulo the list length.
func (r *RoundRobin) Next() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[r.index]
	r.index = (r.index + 1) % len(r.values)
	return v
}

func (r *RoundRobin) Len() int { return len(r.values) }

// Random draws independent uniform integers from [lb, ub].
type Random struct {
	lb, ub int64
	rnd    *rand.Rand
	mu     sync.Mutex
}

// NewRandom returns a generator over the inclusive range [lb, ub].
func NewRandom(lb, ub int64) (*Random, error) {
	if lb > ub {
		return nil, fmt.Errorf("random bounds inverted: %d > %d", lb, ub)
	}
	seed := uint64(time.Now().UnixNano())
	return &Random{lb: lb, ub: ub, rnd: rand.New(rand.NewPCG(seed, seed>>1|1))}, nil
}

// Next returns a value v with lb <= v <= ub.
func (r *Random) Next() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := uint64(r.ub - r.lb)
	if span == ^uint64(0) {
		return int64(r.rnd.Uint64())
	}
	return r.lb + int64(r.rnd.Uint64N(span+1))
}

func (r *Random) Len() int { return 0 }

// New builds the generator described by def. Relative file references are
// resolved against baseDir.
func New(def workload.ValueDef, typ variables.Type, baseDir string) (SampleValue, error) {
	switch def.Kind {
	case workload.ValueRoundRobin:
		return NewRoundRobin(typ, def.Values)
	case workload.ValueRandom:
		if typ != variables.TypeInt {
			return nil, fmt.Errorf("random values require type int, got %s", typ)
		}
		return NewRandom(def.Min, def.Max)
	case workload.ValueCSV:
		values, err := LoadCSVColumn(resolve(baseDir, def.File), def.Column)
		if err != nil {
			return nil, err
		}
		return NewRoundRobin(typ, values)
	case workload.ValueJSON:
		values, err := LoadJSONField(resolve(baseDir, def.File), def.Column)
		if err != nil {
			return nil, err
		}
		return NewRoundRobin(typ, values)
	default:
		return nil, fmt.Errorf("unsupported sample value kind %q", def.Kind)
	}
}

func resolve(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
