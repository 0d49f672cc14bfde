package seq

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Configuration and usage sentinels.
var (
	// ErrNilCompletion is the panic value for a callback-style run started
	// without a completion handler. This is a programming-error assertion,
	// not a run outcome: every other error reaches the caller through the
	// completion channel, but a nil handler leaves no channel to report
	// through.
	ErrNilCompletion = errors.New("seq: completion handler is required")

	// ErrNoSteps is reported when a callback-style run is started without a
	// single check step; finally hooks do not count.
	ErrNoSteps = errors.New("seq: a run needs at least one check step")

	// ErrAlreadyWaited is reported when a settled defer is waited on a
	// second time without an intervening Clear or WaitAgain.
	ErrAlreadyWaited = errors.New("seq: defer already waited; Clear or WaitAgain before waiting again")
)

// NotFunctionError reports a run entry that is not a Step, a *Defer or a
// recognizable function.
type NotFunctionError struct {
	Ordinal int
	Value   any
}

func (e *NotFunctionError) Error() string {
	return fmt.Sprintf("seq: check function %d is not callable (got %T)", e.Ordinal, e.Value)
}

// ClassifyError reports a raw function entry whose signature matches none of
// the supported check shapes.
type ClassifyError struct {
	Ordinal int
	Type    reflect.Type
}

func (e *ClassifyError) Error() string {
	return fmt.Sprintf("seq: check function %d has unsupported signature %v", e.Ordinal, e.Type)
}

// ExpectationError reports an expect-error step that either produced no
// error at all or produced one with the wrong message.
type ExpectationError struct {
	Ordinal  int
	Expected string // quoted in the message when set
	Got      error  // nil when the step did not fail at all
	Exact    bool
}

func (e *ExpectationError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("seq: check function %d was expected to fail but did not", e.Ordinal)
	}
	if e.Exact {
		return fmt.Sprintf("seq: check function %d: expected error %q, got %q", e.Ordinal, e.Expected, e.Got.Error())
	}
	return fmt.Sprintf("seq: check function %d: expected error containing %q, got %q", e.Ordinal, e.Expected, e.Got.Error())
}

func (e *ExpectationError) Unwrap() error { return e.Got }

// RunTimeoutError reports expiry of the live timeout directive.
type RunTimeoutError struct {
	Bound time.Duration
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("seq: run timed out after %d ms", e.Bound.Milliseconds())
}

// DeferTimeoutError reports a defer that failed to settle within its bound.
// PerWait distinguishes a Wait-call bound from the defer's construction-time
// bound.
type DeferTimeoutError struct {
	Bound   time.Duration
	PerWait bool
}

func (e *DeferTimeoutError) Error() string {
	origin := "construction"
	if e.PerWait {
		origin = "wait"
	}
	return fmt.Sprintf("seq: defer not settled within %d ms (%s bound)", e.Bound.Milliseconds(), origin)
}

// TypeMismatchError reports a typed step whose prior result had an
// unexpected dynamic type.
type TypeMismatchError struct {
	Want string
	Got  any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("seq: prior result is %T, step expects %s", e.Got, e.Want)
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// isNil reports whether v is nil, including a typed nil pointer or func.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// flatten expands joined errors into a flat list, unwrapping any
// Unwrap() []error chain one level.
func flatten(err error) []error {
	if isNil(err) {
		return []error{}
	}
	if m, ok := err.(interface{ Unwrap() []error }); ok {
		return m.Unwrap()
	}
	return []error{err}
}
