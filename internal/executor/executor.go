package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/worker"
	"github.com/agnosticeng/panicsafe"
	"github.com/uber-go/tally/v4"
	slogctx "github.com/veqryn/slog-context"
)

// Executor runs a work function over contiguous batches of a key range on a
// bounded pool of workers. The batch size adapts across calls.
type Executor struct {
	conf    Config
	metrics *Metrics

	lock      sync.Mutex
	batchSize int64
	streak    int
}

func New(conf Config, scope tally.Scope) (*Executor, error) {
	conf = conf.WithDefaults()

	if err := conf.Policy.Validate(); err != nil {
		return nil, err
	}

	if scope == nil {
		scope = tally.NoopScope
	}

	var e = &Executor{
		conf:      conf,
		metrics:   NewMetrics(scope),
		batchSize: min(conf.StartingBatchSize, conf.Policy.MaxBatchSize),
	}

	e.metrics.BatchSize.Update(float64(e.batchSize))
	return e, nil
}

func (e *Executor) BatchSize() int64 {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.batchSize
}

// Execute calls fn on batches covering [start, end] exactly once each and
// returns once every dispatched batch has completed. A batch failing after
// its retries aborts the call: no new batch is dispatched and the failure is
// returned after in-flight batches finish.
func (e *Executor) Execute(ctx context.Context, start int64, end int64, fn WorkFunc, totalItems int64) error {
	if end < start {
		return nil
	}

	var (
		logger = slogctx.FromCtx(ctx)
		p      = newProgress(totalItems, e.conf.ProgressInterval)
		t0     = time.Now()
	)

	logger.Debug("started", "start", start, "end", end, "batch_size", e.BatchSize())

	var err = worker.Drain(
		ctx,
		e.conf.MaxWorkers,
		func(ctx context.Context, outchan chan<- Batch) error {
			var (
				next   = start
				number int
			)

			for next <= end {
				var b = Batch{
					Number: number,
					Start:  next,
					End:    min(next+e.BatchSize()-1, end),
				}

				select {
				case <-ctx.Done():
					return ctx.Err()
				case outchan <- b:
				}

				next = b.End + 1
				number++
			}

			return nil
		},
		func(ctx context.Context, w int, b Batch) error {
			var batchCtx = slogctx.With(context.WithoutCancel(ctx), "worker", w, "batch", b.Number)
			return e.process(batchCtx, b, fn, p)
		},
	)

	if err != nil {
		return err
	}

	logger.Debug(
		"stopped",
		"start", start,
		"end", end,
		"processed", p.Processed(),
		"duration", time.Since(t0),
	)

	return nil
}

func (e *Executor) process(ctx context.Context, b Batch, fn WorkFunc, p *progress) error {
	var (
		logger  = slogctx.FromCtx(ctx)
		next    = b.Start
		size    = b.Len()
		retries int
	)

	for next <= b.End {
		var sub = Batch{
			Number: b.Number,
			Start:  next,
			End:    min(next+size-1, b.End),
		}

		var err = e.call(ctx, sub, fn)

		if err == nil {
			e.succeeded()
			e.metrics.Items.Inc(sub.Len())
			p.add(ctx, sub.Len())
			next = sub.End + 1
			continue
		}

		e.metrics.FailedBatches.Inc(1)

		if retries >= e.conf.Policy.Retries || errs.Is(err, errs.KindPermanent) {
			e.failed(sub.Len())
			return fmt.Errorf("batch %d [%d, %d] failed: %w", sub.Number, sub.Start, sub.End, err)
		}

		retries++
		size = e.failed(sub.Len())
		e.metrics.Retries.Inc(1)

		logger.Warn(
			"batch failed, will retry with lower batch size",
			"start", sub.Start,
			"end", sub.End,
			"new_batch_size", size,
			"error", err.Error(),
		)
	}

	return nil
}

func (e *Executor) call(ctx context.Context, b Batch, fn WorkFunc) error {
	var sw = e.metrics.BatchDuration.Start()
	defer sw.Stop()

	e.metrics.Batches.Inc(1)

	return panicsafe.Recover(func() error {
		return fn(ctx, b)
	})
}

func (e *Executor) succeeded() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.streak++

	if e.streak < e.conf.Policy.GrowAfter || e.batchSize >= e.conf.Policy.MaxBatchSize {
		return
	}

	e.streak = 0
	e.batchSize = min(e.batchSize+e.conf.Policy.GrowthStep, e.conf.Policy.MaxBatchSize)
	e.metrics.BatchSize.Update(float64(e.batchSize))
}

// failed shrinks the batch size after a failure on a batch of failedSize
// items and returns the new size.
func (e *Executor) failed(failedSize int64) int64 {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.streak = 0

	var shrunk = int64(float64(min(e.batchSize, failedSize)) * e.conf.Policy.ShrinkFactor)
	e.batchSize = max(e.conf.Policy.MinBatchSize, shrunk)
	e.metrics.BatchSize.Update(float64(e.batchSize))
	return e.batchSize
}
