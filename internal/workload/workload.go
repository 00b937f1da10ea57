// Package workload defines the benchmark object graph consumed by the
// execution engine: sample spaces, transactions and mixes of steps.
package workload

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/torosent/fleetbench/internal/variables"
)

type StepKind int

const (
	StepNoop StepKind = iota
	StepTransaction
	StepSleep
)

func (k StepKind) String() string {
	switch k {
	case StepNoop:
		return "noop"
	case StepTransaction:
		return "transaction"
	case StepSleep:
		return "sleep"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Step is one action of a mix.
type Step struct {
	Kind  StepKind
	Value string        // transaction name for StepTransaction
	Sleep time.Duration // for StepSleep
}

// Signature names the step in reports, e.g. "transaction[t1]".
func (s Step) Signature() string {
	switch s.Kind {
	case StepSleep:
		return s.Kind.String() + "[" + strconv.FormatInt(s.Sleep.Milliseconds(), 10) + "]"
	default:
		return s.Kind.String() + "[" + s.Value + "]"
	}
}

// Mix is the script one virtual user replays.
type Mix struct {
	Name  string
	Steps []Step
	// SampleSpaces lists the sample spaces rolled before each execution, used
	// in round-robin order.
	SampleSpaces []string
	// Users is the default number of virtual users running this mix.
	Users int
}

type Operator string

const (
	OpEq Operator = "eq"
	OpGt Operator = "gt"
)

// ConditionItem compares a variable against a typed literal.
type ConditionItem struct {
	Var   string
	Op    Operator
	Type  variables.Type
	Value any
}

// Condition is a conjunction of comparisons.
type Condition struct {
	Items []ConditionItem
}

// Expr is an input expression: exactly one of Var, Template or Literal is used,
// checked in that order.
type Expr struct {
	Var      string
	Template string
	Literal  any
}

func (e Expr) String() string {
	switch {
	case e.Var != "":
		return "$" + e.Var
	case e.Template != "":
		return strconv.Quote(e.Template)
	default:
		return fmt.Sprint(e.Literal)
	}
}

// Input maps an expression onto a named, typed transaction argument.
type Input struct {
	Name string
	Type variables.Type
	Expr Expr
}

// Export copies column From of the backend results into variable Name.
type Export struct {
	Name string
	Type variables.Type
	From string
}

type Transaction struct {
	Name      string
	Condition *Condition
	Inputs    []Input
	Exports   []Export
	// Backoff skips a step running this transaction for this long after it
	// failed, unless another transaction succeeds in between. Zero disables it.
	Backoff time.Duration
}

type ValueKind string

const (
	ValueRoundRobin ValueKind = "round_robin"
	ValueRandom     ValueKind = "random"
	ValueCSV        ValueKind = "csv"
	ValueJSON       ValueKind = "json"
)

// ValueDef describes how a sample variable's values are generated.
type ValueDef struct {
	Kind   ValueKind
	Values []any  // round_robin literals
	Min    int64  // random lower bound, inclusive
	Max    int64  // random upper bound, inclusive
	File   string // csv/json source
	Column string // csv column or json field
}

type SampleVar struct {
	Name  string
	Type  variables.Type
	Value ValueDef
}

type SampleSpace struct {
	Name string
	Vars []SampleVar
}

// Backend selects and configures the engine transactions run against.
type Backend struct {
	Name   string
	Config map[string]any
}

type WorkLoad struct {
	Name         string
	SampleSpaces map[string]*SampleSpace
	Transactions map[string]*Transaction
	Mixes        []*Mix
	Backend      Backend
	// Resources lists files, relative to the workload, a remote driver must fetch.
	Resources []string
}

// Files returns the declared resources followed by every csv or json
// sample source, without duplicates and in a stable order.
func (w *WorkLoad) Files() []string {
	seen := make(map[string]bool)
	var files []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		files = append(files, name)
	}
	for _, r := range w.Resources {
		add(r)
	}
	names := make([]string, 0, len(w.SampleSpaces))
	for name := range w.SampleSpaces {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range w.SampleSpaces[name].Vars {
			if v.Value.Kind == ValueCSV || v.Value.Kind == ValueJSON {
				add(v.Value.File)
			}
		}
	}
	return files
}

// Validate checks cross references between mixes, transactions and sample spaces.
func (w *WorkLoad) Validate() error {
	var issues []string
	if len(w.Mixes) == 0 {
		issues = append(issues, "at least one mix is required")
	}
	for i, mix := range w.Mixes {
		if len(mix.Steps) == 0 {
			issues = append(issues, fmt.Sprintf("mixes[%d]: no steps", i))
		}
		for _, ss := range mix.SampleSpaces {
			if _, ok := w.SampleSpaces[ss]; !ok {
				issues = append(issues, fmt.Sprintf("mixes[%d]: unknown sample space %q", i, ss))
			}
		}
		for j, step := range mix.Steps {
			if step.Kind != StepTransaction {
				continue
			}
			if _, ok := w.Transactions[step.Value]; !ok {
				issues = append(issues, fmt.Sprintf("mixes[%d].steps[%d]: unknown transaction %q", i, j, step.Value))
			}
		}
	}
	for name, tr := range w.Transactions {
		if tr.Condition == nil {
			continue
		}
		for j, item := range tr.Condition.Items {
			switch item.Op {
			case OpEq, OpGt:
			default:
				issues = append(issues, fmt.Sprintf("transactions[%s].condition[%d]: unsupported operator %q", name, j, item.Op))
			}
		}
	}
	if len(issues) > 0 {
		return &ValidationError{issues: issues}
	}
	return nil
}

type ValidationError struct {
	issues []string
}

func (e *ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "workload validation failed"
	}
	msg := "workload validation failed: " + e.issues[0]
	for _, issue := range e.issues[1:] {
		msg += "; " + issue
	}
	return msg
}

func (e *ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}
