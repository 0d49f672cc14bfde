package seq

import (
	"context"
	"time"
)

// Builder attaches capability flags to a Step without changing the
// underlying callable. It is a value type; every method returns a new
// Builder, and Step collapses it back to the decorated descriptor.
type Builder struct {
	s Step
}

// Decorate starts a builder over an existing step.
func Decorate(s Step) Builder {
	return Builder{s: s}
}

// ExpectAnyError inverts the step's success criterion: it must fail, and
// its error is forwarded as the result to the next step.
func (b Builder) ExpectAnyError() Builder {
	b.s.flags.expect = expectAny
	b.s.flags.expectText = ""
	return b
}

// ExpectErrorHas requires the step to fail with an error whose message
// contains text.
func (b Builder) ExpectErrorHas(text string) Builder {
	b.s.flags.expect = expectSubstring
	b.s.flags.expectText = text
	return b
}

// ExpectErrorText requires the step to fail with an error whose message
// equals text exactly.
func (b Builder) ExpectErrorText(text string) Builder {
	b.s.flags.expect = expectExact
	b.s.flags.expectText = text
	return b
}

// ForceCallback reclassifies a result-arg step as callback-arg: the step's
// single argument receives the continuation instead of the prior result.
// The prior result is deliberately not passed; use ThenAsync when a step
// needs both.
func (b Builder) ForceCallback() Builder {
	b.s.flags.forcedCallback = true
	return b
}

// AsFinally marks the step as a finally hook: it is pulled out of the main
// sequence and runs once at the end of the run regardless of outcome.
func (b Builder) AsFinally() Builder {
	b.s.flags.finallyHook = true
	return b
}

// AsFailureHook marks the step to run only when the step immediately before
// it fails. The hook receives the triggering error as its prior result; a
// FailureFunc-based hook additionally receives the partial result.
func (b Builder) AsFailureHook() Builder {
	b.s.flags.failureHook = true
	return b
}

// WithTimeout arms the run's timeout supervisor with bound before this step
// is invoked, as if a Timeout directive preceded it.
func (b Builder) WithTimeout(bound time.Duration) Builder {
	b.s.flags.timeout = bound
	return b
}

// Step returns the decorated descriptor.
func (b Builder) Step() Step {
	return b.s
}

// Shortcut constructors, each equivalent to Decorate + a single flag.

// ExpectError marks s as an expect-error step accepting any error.
func ExpectError(s Step) Step {
	return Decorate(s).ExpectAnyError().Step()
}

// ExpectErrorHas marks s as an expect-error step whose error message must
// contain text.
func ExpectErrorHas(s Step, text string) Step {
	return Decorate(s).ExpectErrorHas(text).Step()
}

// ExpectErrorText marks s as an expect-error step whose error message must
// equal text.
func ExpectErrorText(s Step, text string) Step {
	return Decorate(s).ExpectErrorText(text).Step()
}

// ForceCallback forces callback-mode on a result-arg step.
func ForceCallback(s Step) Step {
	return Decorate(s).ForceCallback().Step()
}

// Finally marks s as a finally hook.
func Finally(s Step) Step {
	return Decorate(s).AsFinally().Step()
}

// FinallyDo is a convenience for a zero-arg finally hook.
func FinallyDo(fn func(ctx context.Context) error) Step {
	return Finally(Do(func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	}))
}

// OnFailure builds a failure hook from a function observing the triggering
// error and the partial result. Its own non-nil return replaces the
// current failure.
func OnFailure(fn FailureFunc) Step {
	return Step{proto: protoFailure, failureFn: fn, flags: flags{failureHook: true}}
}

// Timeout builds a directive step arming a wall-clock bound on forward
// progress. Only the most recently encountered directive is live; every
// successful step advance disarms it.
func Timeout(bound time.Duration) Step {
	return Step{proto: protoDirective, bound: bound}
}

// TimeoutFunc is Timeout with a function invoked at expiry, before the run
// fails.
func TimeoutFunc(bound time.Duration, onExpiry func()) Step {
	return Step{proto: protoDirective, bound: bound, onExpiry: onExpiry}
}
