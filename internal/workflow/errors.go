package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound is returned by stores for unknown run ids.
	ErrRunNotFound = errors.New("workflow run not found")
	// ErrRunExists is returned by Store.Create when the run id is taken.
	ErrRunExists = errors.New("workflow run already exists")
	// ErrRunInFlight is returned when another goroutine is executing the run.
	ErrRunInFlight = errors.New("workflow run already executing")
	// ErrRunFinished is returned when resuming a run that already ended.
	ErrRunFinished = errors.New("workflow run already finished")
	// ErrEngineClosed is returned once Shutdown has been called.
	ErrEngineClosed = errors.New("workflow engine is shut down")
)

// TerminalError stops a run without further attempts.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal returns a non-retriable failure.
func Terminal(reason string) error {
	return &TerminalError{Reason: reason}
}

// TerminalWrap marks err as non-retriable.
func TerminalWrap(reason string, err error) error {
	return &TerminalError{Reason: reason, Err: err}
}

// IsTerminal reports whether err, or anything it wraps, is terminal.
func IsTerminal(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}

// TransientError marks a failure as eligible for a retry of the run.
// Any non-terminal error is already treated as transient; the wrapper only
// makes the intent explicit at the call site.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retriable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}
