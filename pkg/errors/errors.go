// Package errors provides the structured error taxonomy used by the ingestion
// pipeline. Every error carries a type that decides how the pipeline reacts:
// configuration and cleaning errors abort a run, remote errors are retried and,
// once retries are exhausted, recorded as per-batch failures.
//
// # Basic Usage
//
//	err := errors.New(errors.ErrorTypeConfig, "batch size must be positive").
//	    WithDetail("batch_size", size)
//
//	if err := store.CallProcedure(ctx, name); err != nil {
//	    return errors.Wrap(err, errors.ErrorTypeCleaning, "clean procedure failed").
//	        WithDetail("procedure", name)
//	}
//
// Errors are compatible with the standard library errors.Is and errors.As.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeConfig is an invalid configuration or table identity. Never retried.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTransport is a network-level failure talking to the remote store.
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeLogical is a remote call that succeeded on the wire but whose
	// response reports an application-level error.
	ErrorTypeLogical ErrorType = "logical"
	// ErrorTypeRemote is a remote operation that exhausted its retry budget.
	ErrorTypeRemote ErrorType = "remote"
	// ErrorTypeCleaning is a failed or unverifiable table clean.
	ErrorTypeCleaning ErrorType = "cleaning"
	// ErrorTypeValidation is a recoverable problem with a single item.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. If err is already an
// *Error its stack is preserved. Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable reports whether the retry policy should try err again.
// Transport and logical remote errors are both retryable: the remote API
// does not let us tell a transient logical failure from a permanent one.
// Untyped errors are treated as transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return true
	}

	switch e.Type {
	case ErrorTypeTransport, ErrorTypeLogical:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err must abort a whole pipeline run.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeConfig, ErrorTypeCleaning, ErrorTypeInternal:
		return true
	default:
		return false
	}
}

// IsType reports whether any error in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// Is and As re-export the standard library helpers so callers need only one
// errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
