// Package errors defines the structured error returned to callers outside
// the engine, such as commands and event consumers.
package errors

import (
	"errors"
	"fmt"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

var (
	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrPublishFailed indicates that an event could not be published
	ErrPublishFailed = errors.New("publish failed")
)

// Error codes
const (
	CodeNodeFailed        = "NODE_FAILED"
	CodeCanceled          = "CANCELED"
	CodeInvalidDefinition = "INVALID_DEFINITION"
	CodeStorage           = "STORAGE"
	CodeNotConnected      = "NOT_CONNECTED"
	CodeInternal          = "INTERNAL"
)

// Error represents a structured engine error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromResult converts a run result into an error, or nil when it finished.
// Failures carry the path of the node they originated from.
func FromResult(res inference.Result) error {
	switch res.Code {
	case inference.Finished:
		return nil
	case inference.Canceled:
		return NewError(CodeCanceled, "inference canceled", res.AsError())
	}
	var ne *inference.NodeError
	if errors.As(res.Err, &ne) {
		return NewError(CodeNodeFailed, "inference failed at "+ne.Path, res.Err)
	}
	return NewError(CodeNodeFailed, "inference failed", res.AsError())
}

// CodeOf returns the code of the first Error in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsCanceled reports whether err stems from a canceled run.
func IsCanceled(err error) bool {
	return errors.Is(err, inference.ErrCanceled) || CodeOf(err) == CodeCanceled
}
