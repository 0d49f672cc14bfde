package seq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeeder_FirstResultIsSeed(t *testing.T) {
	t.Parallel()

	done := make(chan any, 1)
	start := Seeder(context.Background(), func(err error, result any) {
		require.NoError(t, err)
		done <- result
	},
		Then(func(ctx context.Context, prev any) (any, error) {
			return prev.(int) * 2, nil
		}),
	)
	start(21)
	assert.Equal(t, 42, <-done)
}

func TestSeederAwait_EachCallIsAFreshRun(t *testing.T) {
	t.Parallel()

	start := SeederAwait(context.Background(),
		Then(func(ctx context.Context, prev any) (any, error) {
			return prev.(string) + "!", nil
		}),
	)

	r1, err := start("a")
	require.NoError(t, err)
	r2, err := start("b")
	require.NoError(t, err)

	assert.Equal(t, "a!", r1)
	assert.Equal(t, "b!", r2)
}

func TestSeederAwait_SeedAloneIsResult(t *testing.T) {
	t.Parallel()

	start := SeederAwait(context.Background())
	result, err := start("solo")
	require.NoError(t, err)
	assert.Equal(t, "solo", result)
}
