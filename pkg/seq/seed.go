package seq

import "context"

// Seeder returns a one-argument starter: calling it with x begins a
// callback-style run whose first result is x, followed by the given
// entries.
func Seeder(ctx context.Context, done Done, entries ...any) func(x any) {
	return func(x any) {
		Run(ctx, done, seeded(x, entries)...)
	}
}

// SeederAwait is Seeder's awaiting flavor: the returned starter blocks
// until the run completes.
func SeederAwait(ctx context.Context, entries ...any) func(x any) (any, error) {
	return func(x any) (any, error) {
		return RunAwait(ctx, seeded(x, entries)...)
	}
}

func seeded(x any, entries []any) []any {
	seed := Do(func(ctx context.Context) (any, error) {
		return x, nil
	})
	return append([]any{seed}, entries...)
}
