package harness

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout       = errors.New("harness invocation timed out")
	ErrScriptMissing = errors.New("harness script not found")
	ErrNotExecuted   = errors.New("harness could not be executed")
)

// InvocationError wraps errors with invocation context.
type InvocationError struct {
	InvocationID string
	Op           string // The operation that failed
	Err          error
}

func (e *InvocationError) Error() string {
	if e.InvocationID != "" {
		return fmt.Sprintf("invocation %s: %s: %s", e.InvocationID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
