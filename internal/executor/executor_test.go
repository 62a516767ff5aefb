package executor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
)

type recorder struct {
	lock    sync.Mutex
	batches []Batch
}

func (r *recorder) record(b Batch) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.batches = append(r.batches, b)
}

func (r *recorder) keys() []int64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	var keys []int64

	for _, b := range r.batches {
		keys = append(keys, b.Keys()...)
	}

	slices.Sort(keys)
	return keys
}

func newExecutor(t *testing.T, conf Config) *Executor {
	e, err := New(conf, tally.NoopScope)
	require.NoError(t, err)
	return e
}

func TestExecuteExactCoverage(t *testing.T) {
	var cases = []struct {
		start, end, batchSize int64
		workers               int
	}{
		{100, 119, 20, 4},
		{100, 149, 7, 3},
		{0, 0, 10, 2},
		{5, 1004, 1, 8},
		{-10, 10, 6, 2},
	}

	for _, c := range cases {
		var (
			r = &recorder{}
			e = newExecutor(t, Config{StartingBatchSize: c.batchSize, MaxWorkers: c.workers})
		)

		var err = e.Execute(context.Background(), c.start, c.end, func(ctx context.Context, b Batch) error {
			r.record(b)
			return nil
		}, c.end-c.start+1)

		require.NoError(t, err)

		var want []int64

		for k := c.start; k <= c.end; k++ {
			want = append(want, k)
		}

		assert.Equal(t, want, r.keys(), "range [%d, %d]", c.start, c.end)

		for _, b := range r.batches {
			assert.LessOrEqual(t, b.Len(), c.batchSize)
		}
	}
}

func TestExecuteEmptyRange(t *testing.T) {
	var e = newExecutor(t, Config{})

	var err = e.Execute(context.Background(), 10, 9, func(ctx context.Context, b Batch) error {
		t.Fatal("work function must not be called")
		return nil
	}, 0)

	assert.NoError(t, err)
}

func TestExecuteBoundsWorkers(t *testing.T) {
	var (
		e              = newExecutor(t, Config{StartingBatchSize: 1, MaxWorkers: 3})
		inflight, peak atomic.Int64
	)

	var err = e.Execute(context.Background(), 1, 60, func(ctx context.Context, b Batch) error {
		var n = inflight.Add(1)
		defer inflight.Add(-1)

		for {
			var p = peak.Load()

			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(2 * time.Millisecond)
		return nil
	}, 60)

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Equal(t, int64(0), inflight.Load())
}

func TestExecuteRetriesAtHalvedSize(t *testing.T) {
	var (
		e        = newExecutor(t, Config{StartingBatchSize: 10, MaxWorkers: 1})
		r        = &recorder{}
		attempts atomic.Int64
	)

	var err = e.Execute(context.Background(), 1, 10, func(ctx context.Context, b Batch) error {
		if attempts.Add(1) == 1 {
			return errs.TransientWrite("insert", errors.New("memory limit"))
		}

		r.record(b)
		return nil
	}, 10)

	require.NoError(t, err)
	assert.Equal(t, []Batch{{Start: 1, End: 5}, {Start: 6, End: 10}}, r.batches)
	assert.Equal(t, int64(5), e.BatchSize())
}

func TestExecuteFailurePropagation(t *testing.T) {
	var (
		e     = newExecutor(t, Config{StartingBatchSize: 4, MaxWorkers: 2})
		boom  = errors.New("boom")
		calls sync.Map
	)

	var err = e.Execute(context.Background(), 1, 400, func(ctx context.Context, b Batch) error {
		if b.Start <= 5 && b.End >= 5 {
			var n, _ = calls.LoadOrStore(b.Start, new(atomic.Int64))
			n.(*atomic.Int64).Add(1)
			return boom
		}

		return nil
	}, 400)

	require.ErrorIs(t, err, boom)

	var total int64

	calls.Range(func(_, v any) bool {
		total += v.(*atomic.Int64).Load()
		return true
	})

	assert.Equal(t, int64(2), total, "initial attempt plus a single retry")
	assert.Equal(t, int64(1), e.BatchSize())
}

func TestExecutePermanentErrorIsNotRetried(t *testing.T) {
	var (
		e     = newExecutor(t, Config{StartingBatchSize: 10, MaxWorkers: 1})
		calls atomic.Int64
	)

	var err = e.Execute(context.Background(), 1, 10, func(ctx context.Context, b Batch) error {
		calls.Add(1)
		return errs.Permanent("insert", errors.New("unknown table"))
	}, 10)

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindPermanent))
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecuteRetriesDisabled(t *testing.T) {
	var (
		e     = newExecutor(t, Config{StartingBatchSize: 10, MaxWorkers: 1, Policy: Policy{Retries: -1}})
		calls atomic.Int64
	)

	var err = e.Execute(context.Background(), 1, 10, func(ctx context.Context, b Batch) error {
		calls.Add(1)
		return errors.New("boom")
	}, 10)

	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecuteRecoversPanics(t *testing.T) {
	var e = newExecutor(t, Config{StartingBatchSize: 10, MaxWorkers: 1, Policy: Policy{Retries: -1}})

	var err = e.Execute(context.Background(), 1, 10, func(ctx context.Context, b Batch) error {
		panic("unexpected nil row")
	}, 10)

	assert.Error(t, err)
}

func TestExecuteBatchSizeRegrows(t *testing.T) {
	var (
		e    = newExecutor(t, Config{StartingBatchSize: 8, MaxWorkers: 1, Policy: Policy{GrowAfter: 2, GrowthStep: 2}})
		fail atomic.Bool
	)

	fail.Store(true)

	require.NoError(t, e.Execute(context.Background(), 1, 8, func(ctx context.Context, b Batch) error {
		if fail.CompareAndSwap(true, false) {
			return errors.New("boom")
		}

		return nil
	}, 8))

	// 8 failed, shrunk to 4, then two successful sub-batches grew it to 6.
	assert.Equal(t, int64(6), e.BatchSize())

	var r = &recorder{}

	require.NoError(t, e.Execute(context.Background(), 1, 100, func(ctx context.Context, b Batch) error {
		r.record(b)
		return nil
	}, 100))

	assert.Equal(t, int64(8), e.BatchSize())
	assert.Equal(t, int64(6), r.batches[0].Len())

	for _, b := range r.batches {
		assert.LessOrEqual(t, b.Len(), int64(8))
	}
}

func TestExecuteWaitsForInflightBatches(t *testing.T) {
	var (
		e        = newExecutor(t, Config{StartingBatchSize: 1, MaxWorkers: 4})
		finished atomic.Int64
		boom     = errors.New("boom")
	)

	var err = e.Execute(context.Background(), 1, 4, func(ctx context.Context, b Batch) error {
		if b.Start == 1 {
			return boom
		}

		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
		return nil
	}, 4)

	require.ErrorIs(t, err, boom)

	var done = finished.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, done, finished.Load(), "no batch may still be running once Execute returned")
}

func TestExecuteStopsOnCancellation(t *testing.T) {
	var (
		e           = newExecutor(t, Config{StartingBatchSize: 1, MaxWorkers: 1})
		ctx, cancel = context.WithCancel(context.Background())
		calls       atomic.Int64
	)

	var err = e.Execute(ctx, 1, 1000, func(ctx context.Context, b Batch) error {
		if calls.Add(1) == 3 {
			cancel()
		}

		return nil
	}, 1000)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls.Load(), int64(1000))
}

func TestPolicyValidate(t *testing.T) {
	_, err := New(Config{Policy: Policy{ShrinkFactor: 1.5}}, nil)
	assert.Error(t, err)

	_, err = New(Config{StartingBatchSize: 10, Policy: Policy{MinBatchSize: 20}}, nil)
	assert.Error(t, err)
}
