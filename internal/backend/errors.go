package backend

import (
	"errors"
	"fmt"
)

var (
	ErrExecutableUnavailable = errors.New("executable unavailable")
	ErrUnsupportedTask       = errors.New("task not supported by backend")
	ErrProcessFailed         = errors.New("backend process failed")
	ErrFragmentUnavailable   = errors.New("fragment unavailable")
	ErrProtocolMismatch      = errors.New("rpc response id mismatch")
	ErrRetriesExhausted      = errors.New("fragment retries exhausted")
)

// ProcessError carries the exit code and the verbatim stderr of a failed backend.
type ProcessError struct {
	Backend  string
	ExitCode int
	Stderr   []byte
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Backend, e.ExitCode)
}

func (e *ProcessError) Unwrap() error { return ErrProcessFailed }

type FragmentError struct {
	Index int
	Err   error
}

func (e *FragmentError) Error() string {
	return fmt.Sprintf("unable to open fragment %d: %v", e.Index, e.Err)
}

func (e *FragmentError) Unwrap() []error { return []error{ErrFragmentUnavailable, e.Err} }

// Retryable reports whether the caller may try the next backend for the same task.
func Retryable(err error) bool {
	return errors.Is(err, ErrExecutableUnavailable) || errors.Is(err, ErrUnsupportedTask)
}
