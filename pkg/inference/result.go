package inference

import (
	"errors"
	"fmt"
)

// ReturnCode is the tri-state outcome of every execution call.
type ReturnCode int

const (
	// Finished indicates normal completion.
	Finished ReturnCode = iota
	// Canceled indicates a deliberate early stop. It is not a failure.
	Canceled
	// Error indicates the run could not complete. The output must be ignored.
	Error
)

// String returns the lowercase name of the code.
func (c ReturnCode) String() string {
	switch c {
	case Finished:
		return "finished"
	case Canceled:
		return "canceled"
	case Error:
		return "error"
	}
	return fmt.Sprintf("ReturnCode(%d)", int(c))
}

// Result is what the Context hands back for every node it runs.
type Result struct {
	// Output is the node output. Meaningless when Code is Error.
	Output Value
	// Code is the outcome of the run.
	Code ReturnCode
	// Err is the cause when Code is Error, or an optional reason when Canceled.
	Err error
}

// Finish returns a Finished result carrying output.
func Finish(output Value) Result {
	return Result{Output: output, Code: Finished}
}

// Cancel returns a Canceled result. reason may be nil.
func Cancel(reason error) Result {
	return Result{Code: Canceled, Err: reason}
}

// Fail returns an Error result.
func Fail(err error) Result {
	return Result{Code: Error, Err: err}
}

// OK reports whether the run finished normally.
func (r Result) OK() bool {
	return r.Code == Finished
}

// AsError converts the result into a Go error for top-level callers.
// It returns nil for Finished, an error matching ErrCanceled for Canceled
// and the recorded cause (or ErrFailed) for Error.
func (r Result) AsError() error {
	switch r.Code {
	case Finished:
		return nil
	case Canceled:
		if r.Err == nil || errors.Is(r.Err, ErrCanceled) {
			return orDefault(r.Err, ErrCanceled)
		}
		return fmt.Errorf("%w: %w", ErrCanceled, r.Err)
	default:
		return orDefault(r.Err, ErrFailed)
	}
}

func orDefault(err, def error) error {
	if err == nil {
		return def
	}
	return err
}
