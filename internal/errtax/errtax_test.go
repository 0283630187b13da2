package errtax

import (
	"errors"
	"testing"
)

func TestError_RetryableByKind(t *testing.T) {
	// Given errors of various kinds
	cases := []struct {
		kind      Kind
		retryable bool
	}{
		{InvalidInput, false},
		{Configuration, false},
		{Transient, true},
		{Timeout, true},
		{Cancelled, false},
		{DependencyUnavailable, false},
		{StageFatal, false},
		{Internal, false},
	}

	for _, tc := range cases {
		// When Retryable is queried
		got := tc.kind.Retryable()

		// Then it matches the retryable set (Transient, Timeout)
		if got != tc.retryable {
			t.Errorf("Kind(%s).Retryable() = %v, want %v", tc.kind, got, tc.retryable)
		}
	}
}

func TestError_WrapAndUnwrap(t *testing.T) {
	// Given a wrapped underlying error
	cause := errors.New("boom")
	err := Wrap(Transient, cause).WithStage("dev").WithAttempt(2).WithCard("C1")

	// When Unwrap is called
	// Then the original cause is reachable
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	// And the context bag fields are attached without mutating the original
	if err.Stage != "dev" || err.Attempt != 2 || err.CardID != "C1" {
		t.Errorf("unexpected context bag: %+v", err)
	}
}

func TestAs_ExtractsError(t *testing.T) {
	// Given a plain error wrapping a classified *Error
	inner := New(StageFatal, "validation rejected")
	outer := errors.New("pipeline: " + inner.Error())

	// When As is called on a wrapped-but-not-chained error
	_, ok := As(outer)

	// Then it does not find an *Error (string wrapping breaks the chain)
	if ok {
		t.Error("expected As to fail on a plain string-wrapped error")
	}

	// But a properly chain-wrapped error is found
	chained := &Error{Kind: Internal, Cause: inner}
	found, ok := As(chained)
	if !ok || found.Kind != Internal {
		t.Errorf("expected to find chained *Error, got %+v ok=%v", found, ok)
	}
}

func TestKindOf_UnclassifiedIsInternal(t *testing.T) {
	// Given a plain, unclassified error
	err := errors.New("oops")

	// When KindOf is called
	k := KindOf(err)

	// Then it defaults to Internal (non-retryable)
	if k != Internal {
		t.Errorf("KindOf(plain error) = %s, want %s", k, Internal)
	}
}
