// Package errors provides coded, categorized errors for the reactive
// command line, its configuration and the signal hub.
//
// Each error has a code (e.g. "R101") registered with a category, a short
// message and a longer explanation:
//
//	err := errors.New("R102").
//	    WithKey("scheduler.strategy").
//	    WithDetail(`unknown strategy "fast"`).
//	    WithSuggestion("use one of: sync, macrotask, frame, manual")
//
//	fmt.Print(err.Format())
//	// ERROR R102: Invalid scheduler strategy
//	//
//	//   at scheduler.strategy
//	//
//	//   unknown strategy "fast"
//	//
//	//   Hint: use one of: sync, macrotask, frame, manual
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryCLI      Category = "cli"
	CategoryHub      Category = "hub"
	CategoryScenario Category = "scenario"
	CategoryRuntime  Category = "runtime"
)

// Error is a structured error with a code, a location inside a document
// (a config key or scenario step) and a suggestion.
type Error struct {
	// Code is a unique error identifier (e.g., "R101").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of this occurrence.
	Detail string

	// Key locates the error inside a document, e.g. "signals.count" or
	// "steps[3]".
	Key string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = fmt.Sprintf("%s (at %s)", msg, e.Key)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

// WithKey records where in a document the error occurred.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// WithDetailf is WithDetail with formatting.
func (e *Error) WithDetailf(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	if e.Detail == "" && err != nil {
		e.Detail = err.Error()
	}
	return e
}

// New creates an Error from a registered error code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
	}
}

// Newf creates a new Error with a formatted message (no code).
func Newf(category Category, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError returns err as an *Error, wrapping it under code if it is not
// one already. It returns nil for a nil err.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code).Wrap(err)
}

// HasCode reports whether err is or wraps an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Wrapped
	}
	return false
}
