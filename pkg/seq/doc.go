// Package seq is a step-sequencing harness for test verification. It runs
// an ordered list of check functions one after another, threading a result
// value through them, and reports success or the first failure to a single
// completion point.
//
// Checks come in four shapes, chosen explicitly by constructor: Do (no
// prior result), Then (receives the prior result), Async (settles through a
// continuation) and ThenAsync (both). Raw functions matching those shapes
// can be passed directly and are classified once, by signature. Decorators
// attach behavior without touching the callable: ExpectError inverts a
// step's success criterion, Finally marks an always-run hook, OnFailure
// observes the failure of the step before it, Timeout bounds forward
// progress.
//
// A Defer is an externally-settled handle: Resolve and Reject are called
// from outside the run, and the run can register it, wait on it, or simply
// refuse to finish before it settles. This is the escape hatch for checks
// verified by out-of-band events.
//
// Key operations:
//   - Run/RunAwait: start a run (callback or awaiting completion)
//   - Seeder/SeederAwait: start a run with a seeded first result
//   - Do/Then/Async/ThenAsync/Try: build steps
//   - Decorate and the shortcut decorators: attach capability flags
//   - NewDefer/NewDeferTimeout: create externally-settled handles
//
// Exactly one linear run progresses at a time per entry call; there is no
// queue, retry policy, or cross-run state.
package seq
