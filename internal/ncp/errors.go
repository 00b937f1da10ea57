package ncp

import (
	"errors"
	"fmt"
)

var (
	// ErrUndefinedMessage is returned by catalog lookups that miss.
	ErrUndefinedMessage = errors.New("ncp: undefined message")
	// ErrMissingProperty is returned when a handshake property was never set.
	ErrMissingProperty = errors.New("ncp: missing protocol property")
	// ErrAborted is returned by Process when the peer sent an abort request.
	ErrAborted = errors.New("ncp: aborted by peer")
)

// ProtocolError reports a malformed or unexpected frame or message. It is
// fatal to the connection.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ncp protocol error: %s: %v", e.Reason, e.Err)
	}
	return "ncp protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
