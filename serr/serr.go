// Package serr implements the error-kind taxonomy described in spec §7:
// every failure the engine surfaces is a *serr.Error carrying a Kind, a
// status code, the operation that failed, and an optional source location.
//
// adapted from the teacher's single-axis ErrorCode (an int with an Error()
// method) into a richer struct, since this spec's error surface spans
// several independent axes (parse vs compile vs runtime vs constraint)
// that a single result code can't express cleanly.
package serr

import (
	"errors"
	"fmt"
)

// Kind classifies the failure (spec §7).
type Kind int

const (
	KindInternal Kind = iota
	KindParse
	KindCompile
	KindConstraint
	KindMisuse
	KindReadonly
	KindNotFound
	KindRange
	KindRuntime
	KindType
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindCompile:
		return "compile"
	case KindConstraint:
		return "constraint"
	case KindMisuse:
		return "misuse"
	case KindReadonly:
		return "readonly"
	case KindNotFound:
		return "not_found"
	case KindRange:
		return "range"
	case KindRuntime:
		return "runtime"
	case KindType:
		return "type"
	default:
		return "internal"
	}
}

// Status returns the default status code associated with a Kind (spec §6).
// Status codes are a coarse axis independent of Kind: most kinds map
// one-to-one, but callers may override via WithStatus when a finer-grained
// code applies (e.g. a unique-constraint violation versus a check-constraint
// violation, both KindConstraint).
func (k Kind) Status() int {
	switch k {
	case KindParse:
		return 1
	case KindCompile:
		return 2
	case KindConstraint:
		return 3
	case KindMisuse:
		return 4
	case KindReadonly:
		return 5
	case KindNotFound:
		return 6
	case KindRange:
		return 7
	case KindRuntime:
		return 8
	case KindType:
		return 9
	default:
		return 99
	}
}

// Location is a source-text position, carried through from lexer/parser
// tokens and compiler nodes that embed {line, column, offset} per spec §6.
type Location struct {
	Line   int
	Column int
	Offset int
}

func (l Location) String() string {
	if l == (Location{}) {
		return ""
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Error is the engine's single error type: every failure returned across
// package boundaries is either a *Error or wraps one.
type Error struct {
	Op       string
	Kind     Kind
	Status   int
	Location Location
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if loc := e.Location.String(); loc != "" {
		msg += " (" + loc + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with the Kind's default status code.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Status: kind.Status(), Cause: cause}
}

// Newf constructs an Error wrapping a formatted message as its cause.
func Newf(op string, kind Kind, format string, args ...any) *Error {
	return New(op, kind, fmt.Errorf(format, args...))
}

// At attaches a source location, returning a new Error (the receiver is
// never mutated — Errors are treated as values once constructed).
func (e *Error) At(loc Location) *Error {
	cp := *e
	cp.Location = loc
	return &cp
}

// WithStatus overrides the default status code for the Kind.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

// Is reports whether err is a *Error of the given Kind, unwrapping as
// needed — used by callers that branch on failure category.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindInternal if err is not a *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
