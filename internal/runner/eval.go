package runner

import (
	"fmt"

	"github.com/torosent/fleetbench/internal/variables"
	"github.com/torosent/fleetbench/internal/workload"
)

// EvalError reports a workload definition bug found while executing a mix.
// It is fatal to the benchmark run.
type EvalError struct {
	Mix  string
	Step int
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("mix %q step %d: %v", e.Mix, e.Step, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// checkCondition reports whether every comparison of cond holds in scope.
// The first failing comparison short-circuits.
func checkCondition(cond *workload.Condition, scope variables.Scope) (bool, error) {
	if cond == nil {
		return true, nil
	}
	for _, item := range cond.Items {
		v, err := variables.Resolve(scope, item.Var)
		if err != nil {
			return false, err
		}
		cmp, err := item.Type.Compare(v.Value, item.Value)
		if err != nil {
			return false, fmt.Errorf("condition on %q: %w", item.Var, err)
		}
		var ok bool
		switch item.Op {
		case workload.OpEq:
			ok = cmp == 0
		case workload.OpGt:
			ok = cmp > 0
		default:
			return false, fmt.Errorf("unsupported operator %q", item.Op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// buildArgs evaluates the transaction inputs against scope.
func buildArgs(tr *workload.Transaction, scope variables.Scope) (*variables.Frame, error) {
	args := variables.NewFrame(nil)
	for _, in := range tr.Inputs {
		var raw any
		switch {
		case in.Expr.Var != "":
			v, err := variables.Resolve(scope, in.Expr.Var)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", in.Name, err)
			}
			raw = v.Value
		case in.Expr.Template != "":
			s, err := variables.Expand(in.Expr.Template, scope)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", in.Name, err)
			}
			raw = s
		default:
			raw = in.Expr.Literal
		}
		if raw == nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, &variables.UnresolvedError{Name: in.Name})
		}
		value, err := in.Type.Coerce(raw)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		args.Set(in.Name, in.Type, value)
	}
	return args, nil
}

// bindExports copies each exported column from the first result set that
// defines it into frame.
func bindExports(tr *workload.Transaction, results []variables.Scope, frame *variables.Frame) error {
	for _, ex := range tr.Exports {
		var found *variables.Variable
		for _, rs := range results {
			if rs == nil {
				continue
			}
			if v := rs.Variable(ex.From); v != nil {
				found = v
				break
			}
		}
		if found == nil {
			return fmt.Errorf("exported symbol %q not found in results of %q", ex.From, tr.Name)
		}
		value, err := ex.Type.Coerce(found.Value)
		if err != nil {
			return fmt.Errorf("export %q: %w", ex.Name, err)
		}
		frame.Set(ex.Name, ex.Type, value)
	}
	return nil
}
