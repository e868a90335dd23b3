package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map applies mapFunc to every element of in with at most limit concurrent
// calls and yields the results as they complete. Ordering of results is not
// guaranteed. Map is context aware: cancelling ctx or abandoning the
// iterator early stops the remaining work.
//
//	for res, err := range parallel.Map(ctx, 4, watches, probeOne) { ... }
func Map[E, D any](ctx context.Context, limit int, in []E, mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		out := make(chan result[D], limit)

		go func() {
			for _, e := range in {
				g.Go(func() error {
					d, err := mapFunc(gctx, e)
					select {
					case <-gctx.Done():
						return gctx.Err()
					case out <- result[D]{d: d, e: err}:
						return nil
					}
				})
			}
			_ = g.Wait()
			close(out)
		}()

		for r := range out {
			if ctx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
