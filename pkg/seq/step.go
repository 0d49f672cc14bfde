package seq

import (
	"context"
	"time"
)

// Callback is the continuation handed to callback-style check functions.
// Calling it settles the step with a value or an error; only the first call
// counts.
type Callback func(v any, err error)

// ZeroFunc is a check that takes no prior result and settles synchronously.
type ZeroFunc func(ctx context.Context) (any, error)

// ResultFunc is a check that receives the prior step's result.
type ResultFunc func(ctx context.Context, prev any) (any, error)

// CallbackFunc is a check that settles through its continuation.
type CallbackFunc func(ctx context.Context, done Callback)

// ResultCallbackFunc receives the prior result and settles through its
// continuation.
type ResultCallbackFunc func(ctx context.Context, prev any, done Callback)

// FailureFunc is a failure hook body: it observes the error that stopped the
// run and the partial result accumulated so far. A non-nil return replaces
// the current failure.
type FailureFunc func(ctx context.Context, cause error, partial any) error

// protocol is the closed set of invocation protocols a step can resolve to.
// Every step carries exactly one, chosen at construction or classification
// time, never inferred at call time.
type protocol int

const (
	protoZero protocol = iota
	protoResult
	protoCallback
	protoResultCallback
	protoFailure
	protoDirective // timeout directive, no user logic
	protoRegister  // defer registration marker
	protoWait      // defer wait marker
)

func (p protocol) String() string {
	switch p {
	case protoZero:
		return "zero-arg"
	case protoResult:
		return "result-arg"
	case protoCallback:
		return "callback-arg"
	case protoResultCallback:
		return "result+callback"
	case protoFailure:
		return "failure-hook"
	case protoDirective:
		return "timeout-directive"
	case protoRegister:
		return "defer-registration"
	case protoWait:
		return "defer-wait"
	}
	return "unknown"
}

type expectMode int

const (
	expectNone expectMode = iota
	expectAny
	expectSubstring
	expectExact
)

// flags is the explicit capability record attached to a step. Flags compose
// freely and never change the identity of the underlying callable.
type flags struct {
	expect         expectMode
	expectText     string
	forcedCallback bool
	finallyHook    bool
	failureHook    bool
	timeout        time.Duration // per-step bound, armed before invocation
}

// Step is a passive descriptor of one entry in a run: the callable, its
// resolved protocol and its capability flags. Steps are immutable values;
// decorating one yields a new Step. A Step is reusable across runs as long
// as the underlying function is stateless.
type Step struct {
	proto protocol
	flags flags

	zero      ZeroFunc
	result    ResultFunc
	callback  CallbackFunc
	resultCb  ResultCallbackFunc
	failureFn FailureFunc

	// directive fields
	bound    time.Duration
	onExpiry func()

	// defer fields
	d         *Defer
	waitBound time.Duration
	rearm     bool
}

// Do builds a zero-arg step: the check ignores any prior result and settles
// with its own return values.
func Do(fn ZeroFunc) Step {
	return Step{proto: protoZero, zero: fn}
}

// Then builds a result-arg step: the check receives the prior step's settled
// value and its return values feed the next step.
func Then(fn ResultFunc) Step {
	return Step{proto: protoResult, result: fn}
}

// Async builds a callback-arg step. The function is called with a
// continuation and the sequencer suspends until the continuation fires (the
// function itself usually returns immediately after starting work).
func Async(fn CallbackFunc) Step {
	return Step{proto: protoCallback, callback: fn}
}

// ThenAsync builds a result+callback step: first argument is the prior
// result, second is the continuation.
func ThenAsync(fn ResultCallbackFunc) Step {
	return Step{proto: protoResultCallback, resultCb: fn}
}

// Try builds a typed result-arg step from a function over concrete types,
// asserting the prior result to In. A mismatch is a propagated step error
// naming the step's position.
func Try[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Step {
	return Then(func(ctx context.Context, prev any) (any, error) {
		in, ok := prev.(In)
		if !ok && prev != nil {
			return nil, &TypeMismatchError{Want: typeName[In](), Got: prev}
		}
		return fn(ctx, in)
	})
}

// callable reports whether the step carries a usable function for its
// protocol. Marker and directive steps are always callable.
func (s Step) callable() bool {
	switch s.proto {
	case protoZero:
		return s.zero != nil
	case protoResult:
		return s.result != nil
	case protoCallback:
		return s.callback != nil
	case protoResultCallback:
		return s.resultCb != nil
	case protoFailure:
		return s.failureFn != nil
	case protoDirective:
		return true
	case protoRegister, protoWait:
		return s.d != nil
	}
	return false
}
