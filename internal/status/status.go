// Package status defines the error taxonomy shared across the pipeline.
//
// Codes are kinds, not types: callers switch on Code() rather than on
// concrete error values, and every wrapped error still satisfies the
// standard errors.Is/As chain.
package status

import (
	"errors"
	"fmt"
)

// Code classifies a pipeline outcome.
type Code int

const (
	OK Code = iota
	NoData
	NoMem
	BadFormat
	BadOperation
	NotFound
	Unknown
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NoData:
		return "NoData"
	case NoMem:
		return "NoMem"
	case BadFormat:
		return "BadFormat"
	case BadOperation:
		return "BadOperation"
	case NotFound:
		return "NotFound"
	case Unknown:
		return "Unknown"
	default:
		return "Unrecognized"
	}
}

// Error is a status-coded error. It wraps an optional cause so the
// original error remains reachable via errors.Unwrap.
type Error struct {
	code  Code
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// CodeOf returns the status code, or Unknown if err was not produced by
// this package.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	return Unknown
}

// New creates a status-coded error with no wrapped cause.
func New(code Code, msg string) error {
	return &Error{code: code, msg: msg}
}

// Wrap creates a status-coded error wrapping cause.
func Wrap(code Code, msg string, cause error) error {
	return &Error{code: code, msg: msg, cause: cause}
}

// Sentinel errors for the common transient/terminal outcomes named in
// the taxonomy. Use errors.Is against these for control flow; use New/Wrap
// with a Code and message when more context is needed.
var (
	ErrNoData       = New(NoData, "no data available")
	ErrNoMem        = New(NoMem, "pool exhausted")
	ErrBadFormat    = New(BadFormat, "malformed packet")
	ErrBadOperation = New(BadOperation, "operation not activated for this direction")
	ErrNotFound     = New(NotFound, "not found")
	ErrUnknown      = New(Unknown, "unexpected failure")
)

// IsTransient reports whether an error kind is expected to resolve
// itself on a later call (NoData, Unknown) rather than indicating a
// permanent condition. The depacketizer treats these as "emit silence
// and keep going" per the propagation policy.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case NoData, Unknown:
		return true
	default:
		return false
	}
}

// Counters accumulates per-kind occurrence counts for a session's
// metrics surface.
type Counters struct {
	counts map[Code]uint64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[Code]uint64)}
}

// Record increments the counter for err's code. A nil error records OK.
func (c *Counters) Record(err error) {
	c.counts[CodeOf(err)]++
}

// Snapshot returns a copy of the current counts.
func (c *Counters) Snapshot() map[Code]uint64 {
	out := make(map[Code]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
