// Package apperr defines the error kinds shared by the protocol client and the
// pipeline orchestrator. Every error produced by the bridge carries one kind,
// an optional subject (the offending step, tool, method or cycle) and a
// human-readable message, so it can be rendered to an operator as-is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrConnection         = errors.New("connection error")
	ErrTimeout            = errors.New("timeout")
	ErrProtocol           = errors.New("protocol error")
	ErrValidation         = errors.New("validation error")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrCircularDependency = errors.New("circular dependency")
	ErrRateLimited        = errors.New("rate limited")
)

var codes = []struct {
	kind error
	code string
}{
	{ErrValidation, "validation_error"},
	{ErrUnknownTool, "unknown_tool"},
	{ErrCircularDependency, "circular_dependency"},
	{ErrRateLimited, "rate_limited"},
	{ErrTimeout, "timeout"},
	{ErrConnection, "connection_error"},
	{ErrProtocol, "protocol_error"},
}

// Error is a kinded error. Kind is one of the package sentinels.
type Error struct {
	Kind    error
	Subject string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Subject != "" {
		msg += " [" + e.Subject + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

func Connection(format string, args ...any) *Error {
	return newError(ErrConnection, "", format, args...)
}

func Timeout(format string, args ...any) *Error {
	return newError(ErrTimeout, "", format, args...)
}

func Protocol(format string, args ...any) *Error {
	return newError(ErrProtocol, "", format, args...)
}

// Validation builds a validation error naming the offending subject.
func Validation(subject, format string, args ...any) *Error {
	return newError(ErrValidation, subject, format, args...)
}

func UnknownTool(name string) *Error {
	return newError(ErrUnknownTool, name, "no executor registered for %q", name)
}

// CircularDependency reports the cycle as "a -> b -> a".
func CircularDependency(cycle string) *Error {
	return newError(ErrCircularDependency, cycle, "dependency graph is not acyclic")
}

func RateLimited(format string, args ...any) *Error {
	return newError(ErrRateLimited, "", format, args...)
}

// Wrap attaches a cause to a kinded error and returns it.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the stable snake_case code for the kind of err
// (validation kinds win over transport kinds), or "internal_error".
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "internal_error"
}

// SubjectOf returns the subject of the first *Error in err's chain.
func SubjectOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Subject
	}
	return ""
}
