package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type WorkerFactoryFunc func(ctx context.Context, i int) func() error
type OnExitFunc func()

// Controller runs numWorkers workers built by f and returns the first error.
// The context given to workers is cancelled as soon as one of them fails.
func Controller(
	ctx context.Context,
	numWorkers int,
	f WorkerFactoryFunc,
	onExit OnExitFunc,
) error {
	defer func() {
		if onExit != nil {
			onExit()
		}
	}()

	if numWorkers <= 0 {
		numWorkers = 1
	}

	var group, groupctx = errgroup.WithContext(ctx)

	for i := 0; i < numWorkers; i++ {
		group.Go(func() error {
			return f(groupctx, i)()
		})
	}

	return group.Wait()
}

// Drain runs produce alongside numWorkers workers applying fn to every item it
// sends. The channel is closed when produce returns. produce must stop sending
// once its context is done. After the first failure workers stop picking new
// items and Drain returns that failure once every in-flight fn has returned.
func Drain[T any](
	ctx context.Context,
	numWorkers int,
	produce func(ctx context.Context, outchan chan<- T) error,
	fn func(ctx context.Context, worker int, item T) error,
) error {
	var (
		group, groupctx = errgroup.WithContext(ctx)
		ch              = make(chan T)
	)

	group.Go(func() error {
		defer close(ch)
		return produce(groupctx, ch)
	})

	group.Go(func() error {
		return Controller(
			groupctx,
			numWorkers,
			func(ctx context.Context, i int) func() error {
				return func() error {
					for item := range ch {
						if ctx.Err() != nil {
							return nil
						}

						if err := fn(ctx, i, item); err != nil {
							return err
						}
					}

					return nil
				}
			},
			nil,
		)
	})

	return group.Wait()
}
