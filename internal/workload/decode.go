package workload

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/fleetbench/internal/variables"
)

// FileName is the conventional name of a benchmark's workload file.
const FileName = "workload.yaml"

type rawWorkLoad struct {
	Name         string                         `yaml:"name"`
	Backend      rawBackend                     `yaml:"backend"`
	Resources    []string                       `yaml:"resources"`
	SampleSpaces map[string]map[string]rawValue `yaml:"sample_spaces"`
	Transactions map[string]rawTransaction      `yaml:"transactions"`
	Mixes        []rawMix                       `yaml:"mixes"`
}

type rawBackend struct {
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config"`
}

type rawValue struct {
	Type   string `yaml:"type"`
	Kind   string `yaml:"kind"`
	Values []any  `yaml:"values"`
	Min    int64  `yaml:"min"`
	Max    int64  `yaml:"max"`
	File   string `yaml:"file"`
	Column string `yaml:"column"`
}

type rawTransaction struct {
	Condition []rawCondition `yaml:"condition"`
	Inputs    []rawInput     `yaml:"inputs"`
	Exports   []rawExport    `yaml:"exports"`
	Backoff   string         `yaml:"backoff"`
}

type rawCondition struct {
	Var   string `yaml:"var"`
	Op    string `yaml:"op"`
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

type rawInput struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Var      string `yaml:"var"`
	Template string `yaml:"template"`
	Value    any    `yaml:"value"`
}

type rawExport struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	From string `yaml:"from"`
}

type rawMix struct {
	Name         string   `yaml:"name"`
	Users        int      `yaml:"users"`
	SampleSpace  string   `yaml:"sample_space"`
	SampleSpaces []string `yaml:"sample_spaces"`
	Steps        []string `yaml:"steps"`
}

// Load reads and validates a workload file.
func Load(path string) (*WorkLoad, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workload: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a YAML workload and validates its cross references.
func Decode(r io.Reader) (*WorkLoad, error) {
	var raw rawWorkLoad
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode workload: %w", err)
	}

	w := &WorkLoad{
		Name:         raw.Name,
		Backend:      Backend{Name: raw.Backend.Name, Config: raw.Backend.Config},
		Resources:    raw.Resources,
		SampleSpaces: make(map[string]*SampleSpace, len(raw.SampleSpaces)),
		Transactions: make(map[string]*Transaction, len(raw.Transactions)),
	}
	if w.Backend.Config == nil {
		w.Backend.Config = map[string]any{}
	}

	for name, vars := range raw.SampleSpaces {
		ss, err := decodeSampleSpace(name, vars)
		if err != nil {
			return nil, err
		}
		w.SampleSpaces[name] = ss
	}

	for name, rt := range raw.Transactions {
		tr, err := decodeTransaction(name, rt)
		if err != nil {
			return nil, err
		}
		w.Transactions[name] = tr
	}

	for i, rm := range raw.Mixes {
		mix, err := decodeMix(rm)
		if err != nil {
			return nil, fmt.Errorf("mixes[%d]: %w", i, err)
		}
		if mix.Name == "" {
			mix.Name = "mix" + strconv.Itoa(i)
		}
		w.Mixes = append(w.Mixes, mix)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func decodeSampleSpace(name string, vars map[string]rawValue) (*SampleSpace, error) {
	ss := &SampleSpace{Name: name}
	names := make([]string, 0, len(vars))
	for v := range vars {
		names = append(names, v)
	}
	sort.Strings(names)
	for _, v := range names {
		rv := vars[v]
		typ, err := variables.ParseType(rv.Type)
		if err != nil {
			return nil, fmt.Errorf("sample_spaces[%s].%s: %w", name, v, err)
		}
		kind := ValueKind(strings.ToLower(rv.Kind))
		if kind == "" {
			kind = ValueRoundRobin
		}
		switch kind {
		case ValueRoundRobin, ValueRandom, ValueCSV, ValueJSON:
		default:
			return nil, fmt.Errorf("sample_spaces[%s].%s: unsupported kind %q", name, v, rv.Kind)
		}
		column := rv.Column
		if column == "" {
			column = v
		}
		ss.Vars = append(ss.Vars, SampleVar{
			Name: v,
			Type: typ,
			Value: ValueDef{
				Kind:   kind,
				Values: rv.Values,
				Min:    rv.Min,
				Max:    rv.Max,
				File:   rv.File,
				Column: column,
			},
		})
	}
	return ss, nil
}

func decodeTransaction(name string, rt rawTransaction) (*Transaction, error) {
	tr := &Transaction{Name: name}
	if rt.Backoff != "" {
		d, err := time.ParseDuration(rt.Backoff)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("transactions[%s].backoff: invalid duration %q", name, rt.Backoff)
		}
		tr.Backoff = d
	}
	if len(rt.Condition) > 0 {
		tr.Condition = &Condition{}
		for i, rc := range rt.Condition {
			typ, err := variables.ParseType(rc.Type)
			if err != nil {
				return nil, fmt.Errorf("transactions[%s].condition[%d]: %w", name, i, err)
			}
			value, err := typ.Coerce(rc.Value)
			if err != nil {
				return nil, fmt.Errorf("transactions[%s].condition[%d]: %w", name, i, err)
			}
			tr.Condition.Items = append(tr.Condition.Items, ConditionItem{
				Var:   rc.Var,
				Op:    Operator(strings.ToLower(rc.Op)),
				Type:  typ,
				Value: value,
			})
		}
	}
	for i, ri := range rt.Inputs {
		typ, err := variables.ParseType(ri.Type)
		if err != nil {
			return nil, fmt.Errorf("transactions[%s].inputs[%d]: %w", name, i, err)
		}
		if ri.Name == "" {
			return nil, fmt.Errorf("transactions[%s].inputs[%d]: name is required", name, i)
		}
		expr := Expr{Var: ri.Var, Template: ri.Template}
		if expr.Var == "" && expr.Template == "" {
			if ri.Value == nil {
				return nil, fmt.Errorf("transactions[%s].inputs[%d]: one of var, template or value is required", name, i)
			}
			lit, err := typ.Coerce(ri.Value)
			if err != nil {
				return nil, fmt.Errorf("transactions[%s].inputs[%d]: %w", name, i, err)
			}
			expr.Literal = lit
		}
		tr.Inputs = append(tr.Inputs, Input{Name: ri.Name, Type: typ, Expr: expr})
	}
	for i, re := range rt.Exports {
		typ, err := variables.ParseType(re.Type)
		if err != nil {
			return nil, fmt.Errorf("transactions[%s].exports[%d]: %w", name, i, err)
		}
		from := re.From
		if from == "" {
			from = re.Name
		}
		tr.Exports = append(tr.Exports, Export{Name: re.Name, Type: typ, From: from})
	}
	return tr, nil
}

func decodeMix(rm rawMix) (*Mix, error) {
	mix := &Mix{Name: rm.Name, Users: rm.Users}
	if rm.SampleSpace != "" {
		mix.SampleSpaces = append(mix.SampleSpaces, rm.SampleSpace)
	}
	mix.SampleSpaces = append(mix.SampleSpaces, rm.SampleSpaces...)
	for j, raw := range rm.Steps {
		step, err := ParseStep(raw)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", j, err)
		}
		mix.Steps = append(mix.Steps, step)
	}
	return mix, nil
}

// ParseStep parses "noop", "sleep <ms>" or "transaction <name>".
func ParseStep(s string) (Step, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Step{}, fmt.Errorf("empty step")
	}
	switch strings.ToLower(fields[0]) {
	case "noop":
		if len(fields) != 1 {
			return Step{}, fmt.Errorf("noop takes no argument")
		}
		return Step{Kind: StepNoop}, nil
	case "sleep":
		if len(fields) != 2 {
			return Step{}, fmt.Errorf("sleep requires a duration in milliseconds")
		}
		ms, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || ms < 0 {
			return Step{}, fmt.Errorf("invalid sleep duration %q", fields[1])
		}
		return Step{Kind: StepSleep, Sleep: time.Duration(ms) * time.Millisecond}, nil
	case "transaction", "tx":
		if len(fields) != 2 {
			return Step{}, fmt.Errorf("transaction requires a name")
		}
		return Step{Kind: StepTransaction, Value: fields[1]}, nil
	default:
		return Step{}, fmt.Errorf("unsupported action %q", fields[0])
	}
}
