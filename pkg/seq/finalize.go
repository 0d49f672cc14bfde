package seq

import (
	"context"
	"sync"
)

// runFinals executes every finally hook exactly once, independent of the
// main sequence's outcome. Hooks are started in declaration order on their
// own goroutines and awaited as a group, so one hook's failure never stops
// another from running. The first failing hook in declaration order wins;
// its error supersedes whatever error or success the main sequence
// produced.
func runFinals(ctx context.Context, finals []Step, result any) error {
	if len(finals) == 0 {
		return nil
	}

	errs := make([]error, len(finals))
	wg := &sync.WaitGroup{}

	for i, s := range finals {
		wg.Add(1)
		go func(i int, s Step) {
			defer wg.Done()
			_, errs[i] = invokeIsolated(ctx, s, result)
		}(i, s)
	}
	wg.Wait()

	for _, err := range flattenAll(errs) {
		if err != nil {
			return err
		}
	}
	return nil
}

// invokeIsolated runs a step outside the sequencer loop: no defer
// bookkeeping, no timeout supervision, just the step's own protocol.
// Callback protocols suspend until the continuation fires or ctx ends.
func invokeIsolated(ctx context.Context, s Step, prev any) (any, error) {
	switch s.proto {
	case protoZero:
		return safely(func() (any, error) { return s.zero(ctx) })
	case protoResult:
		return safely(func() (any, error) { return s.result(ctx, prev) })
	case protoCallback, protoResultCallback:
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
		_, err := safely(func() (any, error) {
			if s.proto == protoCallback {
				s.callback(ctx, done)
			} else {
				s.resultCb(ctx, prev, done)
			}
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		select {
		case out := <-ch:
			return out.value, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, nil
}

// flattenAll expands any joined errors in order, keeping nils out.
func flattenAll(errs []error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		out = append(out, flatten(err)...)
	}
	return out
}
