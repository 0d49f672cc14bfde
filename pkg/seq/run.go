package seq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Done is the terminal completion handler of a callback-style run. It is
// invoked exactly once per run, with either the first failure or the final
// result.
type Done func(err error, result any)

type eventKind int

const (
	evSettle eventKind = iota
	evTimeout
)

// event is anything delivered to the run from outside its own goroutine:
// defer settlements and timeout expiries. The run consumes events only at
// suspension points and between steps, which keeps step execution strictly
// single-threaded.
type event struct {
	kind  eventKind
	entry *deferEntry
	out   outcome
	cycle int
	gen   uint64
	bound time.Duration
}

// deferEntry is one run's private bookkeeping for a registered Defer. The
// settlement event is shared across runs; everything here belongs to this
// run alone and is touched only by its goroutine.
type deferEntry struct {
	d           *Defer
	ord         int // step ordinal of the registering entry
	settledOnce bool
	last        outcome
	lastCycle   int
	waitedCycle int // cycle consumed by a Wait; -1 = none
	hasWait     bool
	timer       *time.Timer // construction-time bound
}

type run struct {
	ctx    context.Context
	id     uuid.UUID
	log    zerolog.Logger
	steps  []Step
	finals []Step
	done   Done

	events chan event
	doneCh chan struct{} // closed on completion; stops late posts
	sup    *supervisor
	unsubs []func()

	idx       int
	result    any
	failure   error
	completed bool

	entries []*deferEntry
	byDefer map[*Defer]*deferEntry
	claimed *deferEntry
}

// Run starts a callback-style run over the given entries. Entries may be
// Step values, *Defer handles (registered without blocking), Builder values
// or raw functions in any of the recognized shapes. done is required and
// fires exactly once; at least one non-finally step entry is required.
func Run(ctx context.Context, done Done, entries ...any) {
	if done == nil {
		panic(ErrNilCompletion)
	}
	start(ctx, done, entries, true)
}

// RunAwait starts a run and blocks until completion, returning the final
// result or the first failure. Zero entries complete immediately with a nil
// result.
func RunAwait(ctx context.Context, entries ...any) (any, error) {
	ch := make(chan outcome, 1)
	start(ctx, func(err error, result any) {
		if err != nil {
			ch <- settledError(err)
		} else {
			ch <- settledValue(result)
		}
	}, entries, false)
	out := <-ch
	return out.value, out.err
}

func start(ctx context.Context, done Done, entries []any, requireSteps bool) {
	r := &run{
		ctx:     ctx,
		id:      uuid.New(),
		done:    done,
		events:  make(chan event, 64),
		doneCh:  make(chan struct{}),
		byDefer: map[*Defer]*deferEntry{},
	}
	r.log = loggerFrom(ctx).With().Str("run", r.id.String()).Logger()
	r.sup = newSupervisor(r.post)

	steps, finals, err := normalize(entries)
	if err != nil {
		r.complete(err, nil)
		return
	}
	// finally hooks alone cannot carry a run
	if requireSteps && len(steps) == 0 {
		r.complete(ErrNoSteps, nil)
		return
	}
	r.steps, r.finals = steps, finals

	go r.loop()
}

// normalize resolves every entry to a Step once, up front: Step and Builder
// values pass through, a *Defer becomes its registration marker, raw
// functions are classified by signature. Finally hooks are pulled out of
// the main sequence; ordinals count the remaining entries from zero.
func normalize(entries []any) (main, finals []Step, err error) {
	main = make([]Step, 0, len(entries))
	for _, e := range entries {
		var s Step
		switch v := e.(type) {
		case Step:
			s = v
		case Builder:
			s = v.Step()
		case *Defer:
			if v == nil {
				return nil, nil, &NotFunctionError{Ordinal: len(main), Value: e}
			}
			s = v.Step()
		default:
			s, err = classifyFunc(e, len(main))
			if err != nil {
				return nil, nil, err
			}
		}
		if !s.callable() {
			return nil, nil, &NotFunctionError{Ordinal: len(main), Value: e}
		}
		if s.flags.finallyHook {
			finals = append(finals, s)
		} else {
			main = append(main, s)
		}
	}
	return main, finals, nil
}

func (r *run) loop() {
	for r.idx = 0; r.idx < len(r.steps); r.idx++ {
		r.drainEvents()
		if r.failure != nil {
			break
		}

		s := r.steps[r.idx]
		if s.flags.failureHook {
			// observes failures only; skipped on the success path
			continue
		}
		if s.flags.timeout > 0 {
			r.sup.arm(s.flags.timeout, nil)
		}

		if s.proto == protoDirective {
			r.sup.arm(s.bound, s.onExpiry)
			r.log.Debug().Int("step", r.idx).Dur("bound", s.bound).Msg("timeout armed")
			continue
		}
		if s.proto == protoRegister {
			r.register(s.d)
			continue
		}

		var v any
		var err error
		if s.proto == protoWait {
			e := r.register(s.d)
			v, err = r.execWait(e, s.waitBound, s.rearm)
		} else {
			v, err = r.invoke(s)
		}
		if r.failure != nil {
			break
		}

		v, err = r.applyExpect(s, v, err)
		if err != nil {
			r.failAt(r.idx, err)
			break
		}

		r.result = v
		r.sup.disarm()
		r.log.Debug().Int("step", r.idx).Msg("step advanced")
	}

	if r.failure == nil {
		r.awaitDefers()
	}
	if r.failure == nil {
		r.applyBareDefers()
	}

	if ferr := runFinals(r.ctx, r.finals, r.result); ferr != nil {
		r.complete(ferr, nil)
		return
	}
	if r.failure != nil {
		r.complete(r.failure, nil)
		return
	}
	r.complete(nil, r.result)
}

// invoke runs one main-sequence step according to its protocol. Callback
// protocols suspend on the run's event sources; a sync step returning a
// *Defer or a wait marker is awaited in place.
func (r *run) invoke(s Step) (any, error) {
	switch s.proto {
	case protoZero:
		v, err := safely(func() (any, error) { return s.zero(r.ctx) })
		return r.maybeAwait(v, err)

	case protoResult:
		if s.flags.forcedCallback {
			// continuation in place of the prior result, which is
			// deliberately not passed
			return r.awaitCallback(func(done Callback) error {
				_, err := safely(func() (any, error) { return s.result(r.ctx, done) })
				return err
			})
		}
		v, err := safely(func() (any, error) { return s.result(r.ctx, r.result) })
		return r.maybeAwait(v, err)

	case protoCallback:
		return r.awaitCallback(func(done Callback) error {
			_, err := safely(func() (any, error) {
				s.callback(r.ctx, done)
				return nil, nil
			})
			return err
		})

	case protoResultCallback:
		prev := r.result
		return r.awaitCallback(func(done Callback) error {
			_, err := safely(func() (any, error) {
				s.resultCb(r.ctx, prev, done)
				return nil, nil
			})
			return err
		})
	}
	return nil, nil
}

// awaitCallback starts a callback-style step and suspends until its
// continuation fires, an event fails the run, or the context ends. Only the
// continuation's first call counts.
func (r *run) awaitCallback(start func(done Callback) error) (any, error) {
	ch := make(chan outcome, 1)
	once := &sync.Once{}
	done := Callback(func(v any, err error) {
		once.Do(func() {
			if err != nil {
				ch <- settledError(err)
			} else {
				ch <- settledValue(v)
			}
		})
	})

	if err := start(done); err != nil {
		return nil, err
	}

	for {
		select {
		case out := <-ch:
			return out.value, out.err
		case ev := <-r.events:
			r.handleEvent(ev, r.idx)
			if r.failure != nil {
				return nil, nil
			}
		case <-r.ctx.Done():
			r.failAt(r.idx, r.ctx.Err())
			return nil, nil
		}
	}
}

// maybeAwait treats a returned *Defer or wait marker as an awaitable and
// suspends on it; any other value passes through.
func (r *run) maybeAwait(v any, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	switch aw := v.(type) {
	case *Defer:
		return r.execWait(r.register(aw), 0, false)
	case Step:
		if aw.proto == protoWait && aw.d != nil {
			return r.execWait(r.register(aw.d), aw.waitBound, aw.rearm)
		}
	}
	return v, nil
}

// register adds a Defer to the run's set on first appearance and subscribes
// to its settlement channel. Registration never blocks. The registering
// entry's ordinal sticks, so a later settlement failure is attributed to
// the step that introduced the Defer.
func (r *run) register(d *Defer) *deferEntry {
	if e, ok := r.byDefer[d]; ok {
		return e
	}
	e := &deferEntry{d: d, ord: r.idx, waitedCycle: -1}
	r.byDefer[d] = e
	r.entries = append(r.entries, e)

	unsub := d.watch(func(out outcome, cycle int) {
		r.post(event{kind: evSettle, entry: e, out: out, cycle: cycle})
	})
	r.unsubs = append(r.unsubs, unsub)
	if d.bound > 0 {
		bound := d.bound
		e.timer = time.AfterFunc(bound, func() {
			d.rejectIfPending(&DeferTimeoutError{Bound: bound})
		})
	}
	r.log.Debug().Str("defer", d.id.String()).Msg("defer registered")
	return e
}

// execWait claims the Defer for this run and suspends until settlement, the
// wait bound, or a run failure. An already-settled cycle is consumed
// immediately; consuming the same cycle twice without Clear or a re-armed
// wait is the "already waited" usage error.
func (r *run) execWait(e *deferEntry, bound time.Duration, rearm bool) (any, error) {
	e.hasWait = true

	out, cycle, settled := e.d.snapshot()
	if settled {
		if e.waitedCycle == cycle && !rearm {
			return nil, ErrAlreadyWaited
		}
		e.settledOnce = true
		e.last, e.lastCycle = out, cycle
		e.waitedCycle = cycle
		return out.value, out.err
	}

	r.claimed = e
	defer func() { r.claimed = nil }()

	wait := bound
	perWait := bound > 0
	if !perWait {
		wait = e.d.bound
	}
	var expiry <-chan time.Time
	if wait > 0 {
		tm := time.NewTimer(wait)
		defer tm.Stop()
		expiry = tm.C
	}

	for {
		select {
		case ev := <-r.events:
			if ev.kind == evSettle && ev.entry == e {
				e.settledOnce = true
				e.last, e.lastCycle = ev.out, ev.cycle
				e.waitedCycle = ev.cycle
				if e.timer != nil {
					e.timer.Stop()
				}
				return ev.out.value, ev.out.err
			}
			r.handleEvent(ev, r.idx)
			if r.failure != nil {
				return nil, nil
			}
		case <-expiry:
			return nil, &DeferTimeoutError{Bound: wait, PerWait: perWait}
		case <-r.ctx.Done():
			r.failAt(r.idx, r.ctx.Err())
			return nil, nil
		}
	}
}

// handleEvent applies one out-of-band event. failedIdx names the step held
// responsible if a timeout expiry fails the run; a promoted settlement
// failure is always attributed to the defer's own registration ordinal,
// whenever it arrives, so failure-hook positioning does not depend on
// timing. A cycle already consumed by a Wait is left to that wait's own
// handling.
func (r *run) handleEvent(ev event, failedIdx int) {
	switch ev.kind {
	case evTimeout:
		if r.sup.live(ev.gen) {
			r.failAt(failedIdx, &RunTimeoutError{Bound: ev.bound})
		}

	case evSettle:
		e := ev.entry
		e.settledOnce = true
		if e.waitedCycle == ev.cycle {
			return // consumed by an earlier Wait on this cycle
		}
		e.last, e.lastCycle = ev.out, ev.cycle
		if e.timer != nil {
			e.timer.Stop()
		}
		r.log.Debug().Str("defer", e.d.id.String()).Bool("failed", ev.out.failed()).Msg("defer settled")
		if ev.out.failed() && r.claimed != e {
			r.failAt(e.ord, ev.out.err)
		}
	}
}

// drainEvents consumes everything already queued without blocking; called
// between steps so promotions short-circuit before the next step runs.
func (r *run) drainEvents() {
	for {
		select {
		case ev := <-r.events:
			r.handleEvent(ev, r.idx-1)
		default:
			return
		}
	}
}

// failAt latches the terminal failure (first failure wins) and, if the step
// immediately following the failing one is a failure hook, invokes it with
// the error and partial result. The hook's own error replaces the failure.
func (r *run) failAt(failedIdx int, err error) {
	if r.failure != nil {
		return
	}
	r.failure = err
	r.sup.disarm()
	r.log.Debug().Int("step", failedIdx).Err(err).Msg("run failed")

	next := failedIdx + 1
	if next >= 0 && next < len(r.steps) && r.steps[next].flags.failureHook {
		r.runFailureHook(r.steps[next], err)
	}
}

func (r *run) runFailureHook(s Step, cause error) {
	var herr error
	if s.failureFn != nil {
		_, herr = safely(func() (any, error) {
			return nil, s.failureFn(r.ctx, cause, r.result)
		})
	} else {
		// decorated arbitrary step: the triggering error takes the prior
		// result's place
		_, herr = invokeIsolated(r.ctx, s, cause)
	}
	if herr != nil {
		r.failure = herr
	}
}

// applyExpect enforces an expect-error decoration: the step must have
// failed, its error becomes the forwarded result, and a message mismatch is
// an expectation violation quoting the expected text.
func (r *run) applyExpect(s Step, v any, err error) (any, error) {
	switch s.flags.expect {
	case expectAny:
		if err == nil {
			return nil, &ExpectationError{Ordinal: r.idx}
		}
		return err, nil

	case expectSubstring:
		if err == nil {
			return nil, &ExpectationError{Ordinal: r.idx, Expected: s.flags.expectText}
		}
		if !strings.Contains(err.Error(), s.flags.expectText) {
			return nil, &ExpectationError{Ordinal: r.idx, Expected: s.flags.expectText, Got: err}
		}
		return err, nil

	case expectExact:
		if err == nil {
			return nil, &ExpectationError{Ordinal: r.idx, Expected: s.flags.expectText, Exact: true}
		}
		if err.Error() != s.flags.expectText {
			return nil, &ExpectationError{Ordinal: r.idx, Expected: s.flags.expectText, Got: err, Exact: true}
		}
		return err, nil
	}
	return v, err
}

// awaitDefers suspends until every registered Defer has settled at least
// once. A rejection arriving while we wait fails the run immediately; once
// all have settled, the first unconsumed failure in registration order
// fails the run.
func (r *run) awaitDefers() {
	r.drainEvents()
	for r.failure == nil && r.pending() > 0 {
		select {
		case ev := <-r.events:
			r.handleEvent(ev, len(r.steps)-1)
		case <-r.ctx.Done():
			r.failAt(len(r.steps)-1, r.ctx.Err())
		}
	}
	if r.failure != nil {
		return
	}
	for _, e := range r.entries {
		if e.last.failed() && e.waitedCycle != e.lastCycle {
			r.failAt(e.ord, e.last.err)
			return
		}
	}
}

func (r *run) pending() int {
	n := 0
	for _, e := range r.entries {
		if !e.settledOnce {
			n++
		}
	}
	return n
}

// applyBareDefers folds the settled values of defers that never had an
// explicit wait step into the run result: one bare defer contributes its
// value directly, several contribute a list in declaration order.
func (r *run) applyBareDefers() {
	bare := make([]any, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.hasWait {
			bare = append(bare, e.last.value)
		}
	}
	switch len(bare) {
	case 0:
	case 1:
		r.result = bare[0]
	default:
		r.result = bare
	}
}

func (r *run) complete(err error, result any) {
	if r.completed {
		panic("seq: run completed twice")
	}
	r.completed = true
	close(r.doneCh)
	r.sup.disarm()
	// detach from shared defers: drop our watchers and construction timers
	for _, unsub := range r.unsubs {
		unsub()
	}
	for _, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	if err != nil {
		r.log.Debug().Err(err).Msg("run completed with error")
	} else {
		r.log.Debug().Msg("run completed")
	}
	r.done(err, result)
}

// post delivers an event without ever blocking a settling goroutine. Events
// for a completed run are dropped, never parked on a goroutine.
func (r *run) post(ev event) {
	select {
	case <-r.doneCh:
		return
	default:
	}
	select {
	case r.events <- ev:
	case <-r.doneCh:
	default:
		go func() {
			select {
			case r.events <- ev:
			case <-r.doneCh:
			}
		}()
	}
}

// safely converts a panic inside user check code into a step error, so an
// assertion library that throws on failure surfaces through the completion
// channel like any other check error.
func safely(fn func() (any, error)) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok {
				err = perr
			} else {
				err = fmt.Errorf("seq: check panicked: %v", p)
			}
		}
	}()
	return fn()
}
