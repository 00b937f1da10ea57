package variables

import (
	"fmt"
	"strings"
)

// UnresolvedError reports a variable reference no scope could satisfy.
type UnresolvedError struct {
	Name string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved variable %q", e.Name)
}

// Resolve returns the named variable or an *UnresolvedError when it is
// missing or has no value yet.
func Resolve(s Scope, name string) (*Variable, error) {
	if s == nil {
		return nil, &UnresolvedError{Name: name}
	}
	v := s.Variable(name)
	if !v.IsSet() {
		return nil, &UnresolvedError{Name: name}
	}
	return v, nil
}

// Expand replaces every {{name}} placeholder in tmpl with the value bound to
// name in s.
func Expand(tmpl string, s Scope) (string, error) {
	var sb strings.Builder
	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", tmpl)
		}
		sb.WriteString(rest[:open])
		name := strings.TrimSpace(rest[open+2 : open+2+end])
		v, err := Resolve(s, name)
		if err != nil {
			return "", err
		}
		fmt.Fprint(&sb, v.Value)
		rest = rest[open+2+end+2:]
	}
}
