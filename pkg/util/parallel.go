// Package util holds small concurrency helpers.
package util

import (
	"context"
	"sync"
)

// Parallel runs fn over inputs with at most workerLimit concurrent calls. The
// first error cancels the remaining work and is returned.
func Parallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}

	if workerLimit <= 0 {
		workerLimit = 1
	}
	workerLimit = min(workerLimit, len(inputs))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan T)
	errCh := make(chan error, 1)

	// workers
	wg := sync.WaitGroup{}
	for i := 0; i < workerLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					select {
					case errCh <- err:
						cancel() // stop others
					default:
					}
					return
				}
			}
		}()
	}

	// feed tasks
	go func() {
		defer close(tasks)
		for _, item := range inputs {
			select {
			case <-ctx.Done():
				return
			case tasks <- item:
			}
		}
	}()

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

// ForEach is Parallel for work that never fails as a whole: fn handles its
// own errors.
func ForEach[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T)) {
	_ = Parallel(ctx, inputs, workerLimit, func(ctx context.Context, item T) error {
		fn(ctx, item)
		return nil
	})
}
