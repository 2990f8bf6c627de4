package connector

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type result[T any] struct {
	value T
	err   error
}

// gather runs fetch for 0..n-1 with at most limit in flight and waits for all
// of them. Branch errors are returned per index; one failure never cancels
// its siblings.
func gather[T any](ctx context.Context, n, limit int, fetch func(ctx context.Context, i int) (T, error)) []result[T] {
	results := make([]result[T], n)
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			v, err := fetch(ctx, i)
			results[i] = result[T]{value: v, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
