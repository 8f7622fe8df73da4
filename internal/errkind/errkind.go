// Package errkind defines the closed error taxonomy of the control
// plane. Every failure crossing a security boundary is mapped onto one
// of these kinds, and each kind maps to exactly one target security
// state. The mapping is total: anything unclassified escalates to the
// more restrictive side, never assumed benign.
package errkind

import (
	"errors"
	"fmt"

	"github.com/vigilcore/vigil/internal/state"
)

// Kind classifies a boundary failure.
type Kind string

const (
	// Validation covers schema and input failures. Recoverable.
	Validation Kind = "validation"
	// Lookup covers missing keys, files and entries. Recoverable.
	Lookup Kind = "lookup"
	// Integrity covers hash mismatches and baseline violations.
	Integrity Kind = "integrity"
	// Runtime covers unexpected execution failures.
	Runtime Kind = "runtime"
	// Permission covers denied capability or filesystem access.
	Permission Kind = "permission"
	// Fatal is explicitly tagged unrecoverable. Always locks down.
	Fatal Kind = "fatal"
	// Unknown is anything that carries no classification.
	Unknown Kind = "unknown"
)

// TargetState returns the security state a failure of this kind
// escalates toward. Unrecognized kinds map to Compromised, not
// Lockdown; that margin is deliberate and must not be changed silently.
func (k Kind) TargetState() state.State {
	switch k {
	case Fatal:
		return state.Lockdown
	case Integrity, Runtime, Permission:
		return state.Compromised
	case Validation, Lookup:
		return state.Degraded
	default:
		return state.Compromised
	}
}

// Error is a failure tagged with its taxonomy kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags an existing error with a kind.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Classify extracts the Kind from an error. Errors that were never
// tagged classify as Unknown.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
