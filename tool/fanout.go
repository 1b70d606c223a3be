package tool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultFanOutLimit bounds the number of concurrent workers in FanOut.
const DefaultFanOutLimit = 10

// FanOutResult is the outcome for one target.
type FanOutResult[T any] struct {
	Target string
	Value  T
	Err    error
}

// FanOut runs fn once per target on a bounded worker pool and joins all
// workers. One result is returned per target, in target order; a failing
// target never cancels the others. A limit <= 0 uses DefaultFanOutLimit.
func FanOut[T any](ctx context.Context, targets []string, limit int, fn func(ctx context.Context, target string) (T, error)) []FanOutResult[T] {
	if limit <= 0 {
		limit = DefaultFanOutLimit
	}

	results := make([]FanOutResult[T], len(targets))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, target := range targets {
		g.Go(func() error {
			results[i].Target = target
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("panic: %v", r)
				}
			}()
			if cerr := ctx.Err(); cerr != nil {
				results[i].Err = cerr
				return nil
			}
			results[i].Value, results[i].Err = fn(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
