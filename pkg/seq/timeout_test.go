package seq

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeout_ExpiryFailsRunNamingBound(t *testing.T) {
	t.Parallel()
	finallyRan := atomic.Bool{}

	start := time.Now()
	_, err := RunAwait(context.Background(),
		FinallyDo(func(ctx context.Context) error {
			finallyRan.Store(true)
			return nil
		}),
		Timeout(50*time.Millisecond),
		Async(func(ctx context.Context, done Callback) {}), // never completes
	)
	elapsed := time.Since(start)

	var rte *RunTimeoutError
	require.ErrorAs(t, err, &rte)
	assert.True(t, strings.Contains(err.Error(), "50"), "message should name the bound: %v", err)
	assert.True(t, finallyRan.Load(), "finally hook declared earlier must still run")
	assert.Less(t, elapsed, 2*time.Second)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestTimeout_DisarmedByStepAdvance(t *testing.T) {
	t.Parallel()
	result, err := RunAwait(context.Background(),
		Timeout(30*time.Millisecond),
		Do(func(ctx context.Context) (any, error) { return "quick", nil }),
		// no live bound anymore: a slow step is fine
		Async(func(ctx context.Context, done Callback) {
			go func() {
				time.Sleep(80 * time.Millisecond)
				done("slow but unbounded", nil)
			}()
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, "slow but unbounded", result)
}

func TestTimeout_LatestDirectiveWins(t *testing.T) {
	t.Parallel()
	start := time.Now()
	_, err := RunAwait(context.Background(),
		Timeout(10*time.Millisecond),
		Timeout(200*time.Millisecond), // replaces the tighter bound
		Async(func(ctx context.Context, done Callback) {
			go func() {
				time.Sleep(60 * time.Millisecond)
				done("made it", nil)
			}()
		}),
	)
	require.NoError(t, err, "the replaced 10ms bound must not fire")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTimeout_ExpiryFuncRunsBeforeFailure(t *testing.T) {
	t.Parallel()
	expired := make(chan struct{})
	_, err := RunAwait(context.Background(),
		TimeoutFunc(30*time.Millisecond, func() { close(expired) }),
		Async(func(ctx context.Context, done Callback) {}),
	)
	var rte *RunTimeoutError
	require.ErrorAs(t, err, &rte)
	select {
	case <-expired:
	default:
		t.Fatalf("expiry func should have run")
	}
}

func TestTimeout_FailureHookObservesExpiry(t *testing.T) {
	t.Parallel()
	var hookCause error
	_, err := RunAwait(context.Background(),
		Timeout(30*time.Millisecond),
		Async(func(ctx context.Context, done Callback) {}),
		OnFailure(func(ctx context.Context, cause error, partial any) error {
			hookCause = cause
			return nil
		}),
	)
	var rte *RunTimeoutError
	require.ErrorAs(t, err, &rte)
	assert.ErrorAs(t, hookCause, &rte)
}

func TestTimeout_PerStepBoundViaBuilder(t *testing.T) {
	t.Parallel()
	_, err := RunAwait(context.Background(),
		Decorate(Async(func(ctx context.Context, done Callback) {})).
			WithTimeout(30 * time.Millisecond),
	)
	var rte *RunTimeoutError
	assert.ErrorAs(t, err, &rte)
}

func TestTimeout_ErrorDistinctFromDeferTimeout(t *testing.T) {
	t.Parallel()
	runErr := &RunTimeoutError{Bound: 50 * time.Millisecond}
	waitErr := &DeferTimeoutError{Bound: 50 * time.Millisecond, PerWait: true}
	ctorErr := &DeferTimeoutError{Bound: 50 * time.Millisecond}

	assert.NotEqual(t, runErr.Error(), waitErr.Error())
	assert.Contains(t, waitErr.Error(), "wait")
	assert.Contains(t, ctorErr.Error(), "construction")
	assert.False(t, errors.Is(runErr, waitErr))
}
