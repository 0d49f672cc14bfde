package seq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalize_HooksRunRegardlessOfPosition(t *testing.T) {
	t.Parallel()
	var ran atomic.Int32

	result, err := RunAwait(context.Background(),
		FinallyDo(func(ctx context.Context) error { ran.Add(1); return nil }),
		Do(func(ctx context.Context) (any, error) { return "main", nil }),
		FinallyDo(func(ctx context.Context) error { ran.Add(1); return nil }),
	)
	require.NoError(t, err)
	assert.Equal(t, "main", result)
	assert.Equal(t, int32(2), ran.Load())
}

func TestFinalize_HooksRunOnFailureToo(t *testing.T) {
	t.Parallel()
	var ran atomic.Bool

	_, err := RunAwait(context.Background(),
		Do(func(ctx context.Context) (any, error) { return nil, errors.New("main failed") }),
		FinallyDo(func(ctx context.Context) error { ran.Store(true); return nil }),
	)
	require.Error(t, err)
	assert.Equal(t, "main failed", err.Error())
	assert.True(t, ran.Load())
}

func TestFinalize_HookErrorSupersedesSuccess(t *testing.T) {
	t.Parallel()
	_, err := RunAwait(context.Background(),
		Do(func(ctx context.Context) (any, error) { return "fine", nil }),
		FinallyDo(func(ctx context.Context) error { return errors.New("cleanup failed") }),
	)
	require.Error(t, err)
	assert.Equal(t, "cleanup failed", err.Error())
}

func TestFinalize_HookErrorSupersedesMainFailure(t *testing.T) {
	t.Parallel()
	_, err := RunAwait(context.Background(),
		Do(func(ctx context.Context) (any, error) { return nil, errors.New("main failed") }),
		FinallyDo(func(ctx context.Context) error { return errors.New("cleanup failed") }),
	)
	require.Error(t, err)
	assert.Equal(t, "cleanup failed", err.Error())
}

func TestFinalize_OneFailingHookDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	var second atomic.Bool

	_, err := RunAwait(context.Background(),
		Do(func(ctx context.Context) (any, error) { return nil, nil }),
		FinallyDo(func(ctx context.Context) error { return errors.New("first hook failed") }),
		FinallyDo(func(ctx context.Context) error { second.Store(true); return nil }),
	)
	require.Error(t, err)
	assert.Equal(t, "first hook failed", err.Error())
	assert.True(t, second.Load(), "a failing hook must not prevent the others from running")
}

func TestFinalize_HooksAwaitedAsGroup(t *testing.T) {
	t.Parallel()
	start := time.Now()

	_, err := RunAwait(context.Background(),
		Do(func(ctx context.Context) (any, error) { return nil, nil }),
		FinallyDo(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		}),
		FinallyDo(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		}),
	)
	require.NoError(t, err)
	// concurrent, not sequential: well under the 100ms a serial order needs
	assert.Less(t, time.Since(start), 95*time.Millisecond)
}

func TestFinalize_CallbackStyleHook(t *testing.T) {
	t.Parallel()
	var ran atomic.Bool

	_, err := RunAwait(context.Background(),
		Do(func(ctx context.Context) (any, error) { return nil, nil }),
		Finally(Async(func(ctx context.Context, done Callback) {
			go func() {
				ran.Store(true)
				done(nil, nil)
			}()
		})),
	)
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestFinalize_HookSeesFinalResult(t *testing.T) {
	t.Parallel()
	var seen atomic.Value

	result, err := RunAwait(context.Background(),
		Do(func(ctx context.Context) (any, error) { return "the result", nil }),
		Finally(Then(func(ctx context.Context, prev any) (any, error) {
			seen.Store(prev)
			return nil, nil
		})),
	)
	require.NoError(t, err)
	assert.Equal(t, "the result", result)
	assert.Equal(t, "the result", seen.Load())
}

func TestFinalize_PanickingHookSupersedes(t *testing.T) {
	t.Parallel()
	_, err := RunAwait(context.Background(),
		Do(func(ctx context.Context) (any, error) { return nil, nil }),
		FinallyDo(func(ctx context.Context) error { panic("hook exploded") }),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook exploded")
}
