// Package errcode classifies the failure conditions of the store and query
// engine into the small set of codes a host renders to users.
//
// Every error produced by the engine is an *Error carrying one of the codes
// below. Callers match them with errors.Is against the package sentinels:
//
//	if errors.Is(err, errcode.ErrNotAvailable) {
//		// no window has closed yet, render #N/A
//	}
package errcode

import (
	"errors"
	"fmt"
)

// Code is a host-visible error code.
type Code string

const (
	// CodeArgs marks a wrong number of positional parameters.
	CodeArgs Code = "#ARGS"
	// CodeValue marks a parameter that could not be parsed or validated.
	CodeValue Code = "#VALUE"
	// CodeLimit marks an insertion or result append beyond the configured cap.
	CodeLimit Code = "#LIMIT"
	// CodeNotAvailable marks the transient state before the first window closes.
	CodeNotAvailable Code = "#N/A"
	// CodeUnknown is used for errors that did not originate in this module.
	CodeUnknown Code = "#ERROR"
)

// Error is a classified engine error.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is reports whether target is the sentinel for the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrArgs         = &Error{Code: CodeArgs}
	ErrValue        = &Error{Code: CodeValue}
	ErrLimit        = &Error{Code: CodeLimit}
	ErrNotAvailable = &Error{Code: CodeNotAvailable}
)

// Argsf returns an ARGS error with a formatted message.
func Argsf(format string, args ...any) error {
	return &Error{Code: CodeArgs, Msg: fmt.Sprintf(format, args...)}
}

// Valuef returns a VALUE error with a formatted message.
func Valuef(format string, args ...any) error {
	return &Error{Code: CodeValue, Msg: fmt.Sprintf(format, args...)}
}

// Limitf returns a LIMIT error with a formatted message.
func Limitf(format string, args ...any) error {
	return &Error{Code: CodeLimit, Msg: fmt.Sprintf(format, args...)}
}

// Of maps err to the code the host should render.
// It returns "" for a nil error and CodeUnknown for foreign errors.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
