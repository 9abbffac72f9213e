// Package errkind classifies errors crossing the sync engine's module
// boundaries.
//
// Callers branch on the kind of a failure rather than its message:
//
//	if errkind.IsPersistence(err) {
//	    // fatal - abort the run
//	}
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies a category of failure. Kinds are string-based for
// debuggability and natural JSON serialization in audit payloads.
type Kind string

const (
	// KindAdapter indicates a source or destination adapter failure:
	// unreachable endpoint, malformed response, or upstream error.
	KindAdapter Kind = "ADAPTER_FAILURE"

	// KindUnauthorized indicates the adapter rejected our credentials.
	KindUnauthorized Kind = "UNAUTHORIZED"

	// KindNotFound indicates a requested object does not exist upstream.
	KindNotFound Kind = "NOT_FOUND"

	// KindPrecondition indicates a configuration or precondition failure,
	// e.g. a required creation target that is not configured.
	KindPrecondition Kind = "PRECONDITION_FAILED"

	// KindPersistence indicates a state store write failure. Always fatal.
	KindPersistence Kind = "PERSISTENCE_FAILURE"

	// KindUnknown is the classification for errors produced outside this
	// package.
	KindUnknown Kind = "UNKNOWN"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string // short operation label, e.g. "state.UpsertMapping"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and operation label. Returns nil if err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf constructs a classified error from a format string.
func Newf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Classify returns the Kind of err, walking the wrap chain.
// Unclassified errors report KindUnknown.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAdapter reports whether err is an adapter failure, including
// authorization and not-found failures surfaced by an adapter.
func IsAdapter(err error) bool {
	switch Classify(err) {
	case KindAdapter, KindUnauthorized, KindNotFound:
		return true
	}
	return false
}

// IsPersistence reports whether err is a state store write failure.
// Persistence failures are fatal to the enclosing run.
func IsPersistence(err error) bool {
	return Classify(err) == KindPersistence
}

// IsPrecondition reports whether err is a configuration/precondition
// failure. These surface as skip actions, not exceptions.
func IsPrecondition(err error) bool {
	return Classify(err) == KindPrecondition
}

// IsNotFound reports whether err indicates a missing upstream object.
func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}
