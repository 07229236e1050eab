package ssh

import (
	"fmt"
	"time"
)

// ConnectionError reports a failure to establish or keep the transport:
// authentication rejection, an unreachable host, or a host-key mismatch.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExecutionError reports that a command could not be run at all: the
// connection was unusable at call time, the logical channel could not be
// opened, or the remote side failed to launch the process. A command that
// runs and exits nonzero is not an ExecutionError; that outcome is returned
// as data in Result.
type ExecutionError struct {
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %q: %v", e.Command, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that the caller's deadline elapsed before the remote
// process exited. The remote process may still be running; cancellation is
// requested but not guaranteed.
type TimeoutError struct {
	Command string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execute %q: timed out after %s", e.Command, e.Elapsed)
}

// Timeout reports whether the error is a timeout. Implements the net.Error
// convention so callers can check without referencing the concrete type.
func (e *TimeoutError) Timeout() bool {
	return true
}
