package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Classifier is implemented by backend errors that name their own class.
type Classifier interface {
	ErrorClass() string
}

// ErrorClass names the bucket err is counted under in NStat.Errors.
func ErrorClass(err error) string {
	if err == nil {
		return "none"
	}
	var c Classifier
	if errors.As(err, &c) {
		if class := strings.TrimSpace(c.ErrorClass()); class != "" {
			return class
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "network timeout"
		}
		return "network error"
	}
	return typeClass(innermost(err))
}

func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// typeClass renders the dynamic type of err as pkg.Type. Errors built with
// errors.New or fmt.Errorf carry no type worth reporting.
func typeClass(err error) string {
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	switch name {
	case "errors.errorString", "fmt.wrapError", "fmt.wrapErrors", "errors.joinError":
		return "backend error"
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
