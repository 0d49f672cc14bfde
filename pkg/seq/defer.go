package seq

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defer is an externally-settled handle a run can wait on, independent of
// ordinary step execution. It is settled from outside the run with Resolve
// or Reject, at most once per cycle; Clear ends a cycle so the handle can
// be reused. A Defer may be shared by several runs at once: settlement is
// shared, while claim and waited bookkeeping stay private to each run.
//
// Passing a Defer (or its Step marker) among a run's entries registers it
// with that run; the run then refuses to complete before the Defer has
// settled at least once. Wait produces a step that suspends the run until
// settlement.
type Defer struct {
	id    uuid.UUID
	bound time.Duration // construction-time bound, 0 = none

	mu        sync.Mutex
	cycle     int
	settled   bool
	settling  bool
	out       outcome
	onResolve []func(v any) error
	onReject  []func(err error) error
	watchers  map[int]func(out outcome, cycle int)
	nextWatch int
}

// NewDefer creates an unbounded Defer.
func NewDefer() *Defer {
	return &Defer{id: uuid.New()}
}

// NewDeferTimeout creates a Defer that, once registered with a run, must
// settle within bound or the run observes a construction-origin
// DeferTimeoutError rejection.
func NewDeferTimeout(bound time.Duration) *Defer {
	return &Defer{id: uuid.New(), bound: bound}
}

// ID returns the handle's identity.
func (d *Defer) ID() uuid.UUID {
	return d.id
}

// Resolve settles the current cycle with a value. Resolve-observers run
// synchronously in subscription order; an observer error marks the Defer
// failed with that error. Settling an already-settled cycle is a no-op.
func (d *Defer) Resolve(v any) {
	d.mu.Lock()
	if d.settled || d.settling {
		d.mu.Unlock()
		return
	}
	d.settling = true
	obs := append([]func(any) error{}, d.onResolve...)
	d.mu.Unlock()

	out := settledValue(v)
	for _, o := range obs {
		if err := o(v); err != nil {
			out = settledError(err)
			break
		}
	}
	d.commit(out)
}

// Reject settles the current cycle with an error. Reject-observers run
// synchronously in subscription order; an observer error replaces the
// rejection. A rejection that no waiter has claimed promotes to the run's
// terminal failure.
func (d *Defer) Reject(err error) {
	d.mu.Lock()
	if d.settled || d.settling {
		d.mu.Unlock()
		return
	}
	d.settling = true
	obs := append([]func(error) error{}, d.onReject...)
	d.mu.Unlock()

	out := settledError(err)
	for _, o := range obs {
		if oerr := o(err); oerr != nil {
			out = settledError(oerr)
			break
		}
	}
	d.commit(out)
}

func (d *Defer) commit(out outcome) {
	d.mu.Lock()
	d.settling = false
	d.settled = true
	d.out = out
	cycle := d.cycle
	ws := make([]func(outcome, int), 0, len(d.watchers))
	for _, w := range d.watchers {
		ws = append(ws, w)
	}
	d.mu.Unlock()

	for _, w := range ws {
		w(out, cycle)
	}
}

// OnResolve subscribes an observer invoked synchronously when the Defer
// resolves. A non-nil return marks the Defer failed with that error.
func (d *Defer) OnResolve(fn func(v any) error) {
	d.mu.Lock()
	d.onResolve = append(d.onResolve, fn)
	d.mu.Unlock()
}

// OnReject subscribes an observer invoked synchronously when the Defer
// rejects. A non-nil return replaces the rejection error.
func (d *Defer) OnReject(fn func(err error) error) {
	d.mu.Lock()
	d.onReject = append(d.onReject, fn)
	d.mu.Unlock()
}

// Pending reports whether the current cycle is still unsettled.
func (d *Defer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.settled && !d.settling
}

// Clear ends the current cycle: settlement and waited-state reset, so a
// fresh Resolve/Reject plus Wait behaves like a brand-new Defer.
func (d *Defer) Clear() {
	d.mu.Lock()
	d.settled = false
	d.out = outcome{}
	d.cycle++
	d.mu.Unlock()
}

// Step returns a registration marker: placing it (or the Defer itself)
// among a run's entries registers the Defer without blocking.
func (d *Defer) Step() Step {
	return Step{proto: protoRegister, d: d}
}

// Wait returns a once-usable step that suspends the run until the Defer
// settles. If already settled, the cached outcome is consumed immediately.
// timeout bounds this wait alone (0 falls back to the construction bound,
// if any); on expiry the step fails as if the Defer had rejected. Waiting
// again on the same settled cycle without Clear or WaitAgain is a usage
// error.
func (d *Defer) Wait(timeout time.Duration) Step {
	return Step{proto: protoWait, d: d, waitBound: timeout}
}

// WaitAgain is Wait with the waited-state check re-armed: it may consume a
// cycle that an earlier Wait already claimed.
func (d *Defer) WaitAgain(timeout time.Duration) Step {
	return Step{proto: protoWait, d: d, waitBound: timeout, rearm: true}
}

// watch subscribes an internal settlement watcher; if the current cycle is
// already settled the watcher fires immediately. Watchers persist across
// cycles until removed, so a run completing unsubscribes its watcher and a
// long-lived shared Defer does not accumulate dead subscriptions.
func (d *Defer) watch(fn func(out outcome, cycle int)) (remove func()) {
	d.mu.Lock()
	if d.watchers == nil {
		d.watchers = map[int]func(outcome, int){}
	}
	token := d.nextWatch
	d.nextWatch++
	d.watchers[token] = fn
	settled, out, cycle := d.settled, d.out, d.cycle
	d.mu.Unlock()

	if settled {
		fn(out, cycle)
	}
	return func() {
		d.mu.Lock()
		delete(d.watchers, token)
		d.mu.Unlock()
	}
}

// rejectIfPending is the construction-timeout path: it rejects only when
// the current cycle has not started settling.
func (d *Defer) rejectIfPending(err error) {
	if d.Pending() {
		d.Reject(err)
	}
}

// snapshot returns the current cycle's settlement state.
func (d *Defer) snapshot() (out outcome, cycle int, settled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out, d.cycle, d.settled
}
