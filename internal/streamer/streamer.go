package streamer

import (
	"context"
	"fmt"
	"sync"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/checkpoint"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/uber-go/tally/v4"
	slogctx "github.com/veqryn/slog-context"
)

type State string

const (
	StateInit    State = "INIT"
	StateSyncing State = "SYNCING"
	StateIdle    State = "IDLE"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

// Adapter moves every item of a key range from the source to the sink.
type Adapter interface {
	Open(ctx context.Context) error
	Close() error
	CurrentFrontier(ctx context.Context) (int64, error)
	ExportAll(ctx context.Context, start int64, end int64) error
}

// Monitor is notified of each committed checkpoint.
type Monitor interface {
	Update(block int64) error
}

type Option func(*Streamer)

func WithClock(clock Clock) Option {
	return func(s *Streamer) { s.clock = clock }
}

func WithMonitor(m Monitor) Option {
	return func(s *Streamer) { s.monitor = m }
}

// Streamer drives an Adapter window by window and commits the checkpoint
// only once a whole window was exported.
type Streamer struct {
	conf    Config
	adapter Adapter
	store   checkpoint.Store
	clock   Clock
	monitor Monitor
	metrics *Metrics

	lock  sync.Mutex
	state State
	last  int64
}

func New(adapter Adapter, store checkpoint.Store, conf Config, scope tally.Scope, opts ...Option) (*Streamer, error) {
	conf = conf.WithDefaults()

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if scope == nil {
		scope = tally.NoopScope
	}

	var s = &Streamer{
		conf:    conf,
		adapter: adapter,
		store:   store,
		clock:   RealClock,
		metrics: NewMetrics(scope),
		state:   StateInit,
		last:    -1,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Streamer) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state
}

func (s *Streamer) LastSynced() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.last
}

func (s *Streamer) setState(state State) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.state = state
}

// Stream runs sync cycles until the end block is reached, the context is
// cancelled or a window fails with retries disabled.
func (s *Streamer) Stream(ctx context.Context) error {
	var logger = slogctx.FromCtx(ctx)

	if len(s.conf.PidFile) > 0 {
		logger.Info("creating pid file", "path", s.conf.PidFile)

		if err := writePidFile(s.conf.PidFile); err != nil {
			return fmt.Errorf("failed to write pid file: %w", err)
		}

		defer func() {
			logger.Info("deleting pid file", "path", s.conf.PidFile)

			if err := removePidFile(s.conf.PidFile); err != nil {
				logger.Warn("failed to delete pid file", "path", s.conf.PidFile, "error", err.Error())
			}
		}()
	}

	last, err := checkpoint.Init(ctx, s.store, s.conf.StartBlock)

	if err != nil {
		return err
	}

	s.lock.Lock()
	s.last = last
	s.lock.Unlock()

	if err := s.adapter.Open(ctx); err != nil {
		return err
	}

	defer func() {
		if err := s.adapter.Close(); err != nil {
			logger.Warn("failed to close adapter", "error", err.Error())
		}
	}()

	logger.Info("started", "last_synced", last, "checkpoint", s.store.String())

	for !s.reachedEnd() {
		synced, err := s.SyncCycle(ctx)

		if ctx.Err() != nil {
			logger.Info("stopped", "last_synced", s.LastSynced())
			return nil
		}

		if err != nil {
			s.metrics.Failures.Inc(1)
			logger.Error("an error occurred while syncing block data", "error", err.Error())

			if !*s.conf.RetryErrors {
				s.setState(StateFailed)
				return errs.Window("sync window", err)
			}
		}

		if synced > 0 {
			continue
		}

		if err == nil {
			s.setState(StateIdle)
			s.metrics.IdleCycles.Inc(1)
			logger.Info("nothing to sync, sleeping", "period", s.conf.Period)
		}

		if err := s.clock.Sleep(ctx, s.conf.Period); err != nil {
			logger.Info("stopped", "last_synced", s.LastSynced())
			return nil
		}
	}

	s.setState(StateDone)
	logger.Info("done", "last_synced", s.LastSynced())
	return nil
}

func (s *Streamer) reachedEnd() bool {
	return s.conf.EndBlock != nil && s.LastSynced() >= *s.conf.EndBlock
}

// SyncCycle exports the next window and commits it. It returns the number of
// keys synced, 0 when the target does not move past the checkpoint.
func (s *Streamer) SyncCycle(ctx context.Context) (int64, error) {
	var logger = slogctx.FromCtx(ctx)

	frontier, err := s.adapter.CurrentFrontier(ctx)

	if err != nil {
		return 0, err
	}

	var (
		last   = s.LastSynced()
		target = CalculateTarget(frontier, last, s.conf.Lag, s.conf.BatchSize, s.conf.EndBlock)
		toSync = target - last
	)

	s.metrics.Frontier.Update(float64(frontier))

	logger.Info(
		"sync cycle",
		"frontier", frontier,
		"target", target,
		"last_synced", last,
		"to_sync", toSync,
	)

	if toSync == 0 {
		return 0, nil
	}

	s.setState(StateSyncing)

	var sw = s.metrics.WindowTimer.Start()

	if err := s.adapter.ExportAll(ctx, last+1, target); err != nil {
		return 0, fmt.Errorf("failed to export window [%d, %d]: %w", last+1, target, err)
	}

	sw.Stop()

	// The window is complete: commit it even if shutdown was requested meanwhile.
	if err := s.store.Write(context.WithoutCancel(ctx), target); err != nil {
		return 0, fmt.Errorf("failed to write checkpoint %d: %w", target, err)
	}

	s.lock.Lock()
	s.last = target
	s.lock.Unlock()

	logger.Info("wrote last synced block", "last_synced", target)

	s.metrics.LastSynced.Update(float64(target))
	s.metrics.Windows.Inc(1)
	s.metrics.SyncedKeys.Inc(toSync)

	if s.monitor != nil {
		if err := s.monitor.Update(target); err != nil {
			logger.Warn("failed to update monitor", "error", err.Error())
		}
	}

	return toSync, nil
}
