package ragflow

import (
	"errors"
	"fmt"
)

// ErrBackendProtocol marks responses whose shape the adapter cannot use.
var ErrBackendProtocol = errors.New("ragflow: unexpected backend response")

// ProtocolError reports a malformed or incomplete backend response.
type ProtocolError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("ragflow: %s: unexpected response (status %d)", e.Op, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrBackendProtocol, e.Err}
}

// StatusError is returned when the completions endpoint answers with a
// non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ragflow: http %d", e.Code)
	}
	return fmt.Sprintf("ragflow: http %d: %s", e.Code, e.Body)
}
