// Package errtax implements the closed error taxonomy the substrate uses
// to classify and propagate failures.
package errtax

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of error categories the substrate recognizes.
type Kind int

const (
	// InvalidInput marks caller-supplied data as malformed. Non-retryable.
	InvalidInput Kind = iota
	// Configuration marks missing or invalid configuration. Non-retryable.
	Configuration
	// Transient marks a failure the failing stage declared retryable.
	Transient
	// Timeout marks a stage that exceeded its timeout.
	Timeout
	// Cancelled marks cooperative cancellation having been observed.
	Cancelled
	// DependencyUnavailable marks a required circuit being open.
	DependencyUnavailable
	// StageFatal marks a failure the stage declares unrecoverable.
	StageFatal
	// Internal marks a substrate invariant violation (a programming error).
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case Configuration:
		return "configuration"
	case Transient:
		return "transient"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case DependencyUnavailable:
		return "dependency_unavailable"
	case StageFatal:
		return "stage_fatal"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Retryable reports whether a given Kind is eligible for the supervisor's
// retry loop. Transient and Timeout are retryable; everything else is
// terminal for the attempt that produced it.
func (k Kind) Retryable() bool {
	switch k {
	case Transient, Timeout:
		return true
	default:
		return false
	}
}

// Error carries a Kind plus a structured context bag: card id, stage,
// attempt, dependency name, and the underlying cause.
type Error struct {
	Kind       Kind
	CardID     string
	Stage      string
	Attempt    int
	Dependency string
	Cause      error
}

// New creates an Error of the given kind wrapping cause, with no context
// bag fields set. Use the With* methods to attach context.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Cause: errors.New(msg)}
}

// Wrap creates an Error of the given kind wrapping an existing error.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithCard returns a copy of e with CardID set.
func (e *Error) WithCard(id string) *Error {
	c := *e
	c.CardID = id
	return &c
}

// WithStage returns a copy of e with Stage set.
func (e *Error) WithStage(stage string) *Error {
	c := *e
	c.Stage = stage
	return &c
}

// WithAttempt returns a copy of e with Attempt set.
func (e *Error) WithAttempt(n int) *Error {
	c := *e
	c.Attempt = n
	return &c
}

// WithDependency returns a copy of e with Dependency set.
func (e *Error) WithDependency(name string) *Error {
	c := *e
	c.Dependency = name
	return &c
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("artemis: %s", e.Kind)
	if e.Stage != "" {
		msg += fmt.Sprintf(": stage %q", e.Stage)
	}
	if e.Attempt > 0 {
		msg += fmt.Sprintf(" attempt %d", e.Attempt)
	}
	if e.CardID != "" {
		msg += fmt.Sprintf(" card %q", e.CardID)
	}
	if e.Dependency != "" {
		msg += fmt.Sprintf(" dependency %q", e.Dependency)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether this error's kind is retryable.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// As extracts the *Error (and its Kind) from any error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and Internal otherwise — an unclassified error is always
// treated as non-retryable.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}
