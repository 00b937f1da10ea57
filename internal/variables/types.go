package variables

import (
	"fmt"
	"strconv"
	"strings"
)

// Type names the value domain of a Variable.
type Type string

const (
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeString Type = "string"
)

// ParseType resolves a declared type name. An empty name means string.
func ParseType(name string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(name))) {
	case TypeInt, "integer", "long":
		return TypeInt, nil
	case TypeFloat, "double", "number":
		return TypeFloat, nil
	case TypeString, "", "varchar", "text":
		return TypeString, nil
	default:
		return "", fmt.Errorf("unsupported variable type %q", name)
	}
}

// Coerce converts v into the canonical Go representation of t:
// int64 for int, float64 for float and string for string.
func (t Type) Coerce(v any) (any, error) {
	switch t {
	case TypeInt:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int", x)
			}
			return n, nil
		}
	case TypeFloat:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float32:
			return float64(x), nil
		case float64:
			return x, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to float", x)
			}
			return f, nil
		}
	case TypeString:
		if v == nil {
			return nil, fmt.Errorf("cannot convert nil to string")
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	default:
		return nil, fmt.Errorf("unsupported variable type %q", t)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

// Compare orders a and b after coercing both to t. It returns -1, 0 or 1.
func (t Type) Compare(a, b any) (int, error) {
	ca, err := t.Coerce(a)
	if err != nil {
		return 0, err
	}
	cb, err := t.Coerce(b)
	if err != nil {
		return 0, err
	}
	switch t {
	case TypeInt:
		x, y := ca.(int64), cb.(int64)
		return cmpOrdered(x, y), nil
	case TypeFloat:
		x, y := ca.(float64), cb.(float64)
		return cmpOrdered(x, y), nil
	default:
		return strings.Compare(ca.(string), cb.(string)), nil
	}
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
