// Package apperr classifies the errors surfaced by the command line tool
// and maps them to process exit codes.
package apperr

import (
	"errors"
	"fmt"
)

type Kind uint

const (
	// malformed persisted defaults: recovered locally, never fatal
	Config Kind = iota + 1
	// unparsable or out of range command line values
	Argument
	// connection open failures, missing hardware
	Connection
	// transaction failures: timeouts, exception responses, i/o errors
	Protocol
	// unknown actions, types or kinds
	Usage
)

func (k Kind) String() (s string) {
	switch k {
	case Config:
		s = "config"
	case Argument:
		s = "argument"
	case Connection:
		s = "connection"
	case Protocol:
		s = "protocol"
	case Usage:
		s = "usage"
	default:
		s = "unknown"
	}

	return
}

// Error is an error tagged with its Kind and the operation which failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() (s string) {
	if e.Op == "" {
		s = fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	} else {
		s = fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	}

	return
}

func (e *Error) Unwrap() (err error) {
	err = e.Err

	return
}

func New(kind Kind, op string, err error) (e *Error) {
	e = &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}

	return
}

func Configf(op string, format string, args ...interface{}) error {
	return New(Config, op, fmt.Errorf(format, args...))
}

func Argumentf(op string, format string, args ...interface{}) error {
	return New(Argument, op, fmt.Errorf(format, args...))
}

func Connectionf(op string, format string, args ...interface{}) error {
	return New(Connection, op, fmt.Errorf(format, args...))
}

func Usagef(op string, format string, args ...interface{}) error {
	return New(Usage, op, fmt.Errorf(format, args...))
}

// Wraps err with kind, unless err is nil or already carries a kind.
func Wrap(kind Kind, op string, err error) error {
	var e *Error

	if err == nil {
		return nil
	}

	if errors.As(err, &e) {
		return err
	}

	return New(kind, op, err)
}

// Returns the kind of err, or 0 if it carries none.
func KindOf(err error) (kind Kind) {
	var e *Error

	if errors.As(err, &e) {
		kind = e.Kind
	}

	return
}

// Returns the process exit code for err: 0 for nil, 1 for anything else.
func ExitCode(err error) (code int) {
	if err != nil {
		code = 1
	}

	return
}
