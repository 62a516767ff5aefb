package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uber-go/tally/v4"
	slogctx "github.com/veqryn/slog-context"
)

type Metrics struct {
	Batches       tally.Counter
	FailedBatches tally.Counter
	Retries       tally.Counter
	Items         tally.Counter
	BatchSize     tally.Gauge
	BatchDuration tally.Timer
}

func NewMetrics(scope tally.Scope) *Metrics {
	return &Metrics{
		Batches:       scope.Counter("batches"),
		FailedBatches: scope.Counter("failed_batches"),
		Retries:       scope.Counter("retries"),
		Items:         scope.Counter("items"),
		BatchSize:     scope.Gauge("batch_size"),
		BatchDuration: scope.Timer("batch_duration"),
	}
}

type progress struct {
	total     int64
	processed atomic.Int64
	interval  time.Duration
	lock      sync.Mutex
	lastLog   time.Time
	t0        time.Time
}

func newProgress(total int64, interval time.Duration) *progress {
	var now = time.Now()

	return &progress{
		total:    total,
		interval: interval,
		lastLog:  now,
		t0:       now,
	}
}

func (p *progress) add(ctx context.Context, n int64) {
	var processed = p.processed.Add(n)

	p.lock.Lock()
	defer p.lock.Unlock()

	if time.Since(p.lastLog) < p.interval && processed < p.total {
		return
	}

	p.lastLog = time.Now()

	var ratio float64

	if p.total > 0 {
		ratio = float64(processed) / float64(p.total)
	}

	slogctx.FromCtx(ctx).Info(
		"progress",
		"processed", processed,
		"total", p.total,
		"ratio", ratio,
		"throughput", float64(processed)/time.Since(p.t0).Seconds(),
	)
}

func (p *progress) Processed() int64 {
	return p.processed.Load()
}
