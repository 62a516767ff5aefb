package source

import (
	"context"
	"fmt"
	"time"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/executor"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/uber-go/tally/v4"
	slogctx "github.com/veqryn/slog-context"
)

// DefaultFrontier is reported when the importer cannot tell its tip, so the
// sync target is always bounded by the end block instead.
const DefaultFrontier int64 = 1 << 32

type AdapterConfig struct {
	Executor executor.Config
	Frontier int64
}

func (conf AdapterConfig) WithDefaults() AdapterConfig {
	conf.Executor = conf.Executor.WithDefaults()

	if conf.Frontier <= 0 {
		conf.Frontier = DefaultFrontier
	}

	return conf
}

type AdapterMetrics struct {
	Fetched  tally.Counter
	Upserted tally.Counter
}

func NewAdapterMetrics(scope tally.Scope, kind Kind) *AdapterMetrics {
	var tagged = scope.Tagged(map[string]string{"kind": kind.Name})

	return &AdapterMetrics{
		Fetched:  tagged.Counter("fetched_records"),
		Upserted: tagged.Counter("upserted_records"),
	}
}

// Adapter exports every configured kind for a key range, batch by batch.
type Adapter struct {
	conf     AdapterConfig
	importer Importer
	exporter Exporter
	kinds    []Kind
	executor *executor.Executor
	metrics  map[string]*AdapterMetrics
}

func NewAdapter(
	importer Importer,
	exporter Exporter,
	kinds []Kind,
	conf AdapterConfig,
	scope tally.Scope,
) (*Adapter, error) {
	conf = conf.WithDefaults()

	if len(kinds) == 0 {
		return nil, fmt.Errorf("adapter must have at least 1 kind")
	}

	if scope == nil {
		scope = tally.NoopScope
	}

	exec, err := executor.New(conf.Executor, scope.SubScope("executor"))

	if err != nil {
		return nil, err
	}

	return &Adapter{
		conf:     conf,
		importer: importer,
		exporter: exporter,
		kinds:    kinds,
		executor: exec,
		metrics: lo.SliceToMap(kinds, func(k Kind) (string, *AdapterMetrics) {
			return k.Name, NewAdapterMetrics(scope, k)
		}),
	}, nil
}

func (a *Adapter) Open(ctx context.Context) error {
	if err := a.importer.Open(ctx); err != nil {
		return errs.Connection("open importer", err)
	}

	if err := a.exporter.Open(ctx); err != nil {
		if closeErr := a.importer.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("failed to close importer: %w", closeErr))
		}

		return errs.Connection("open exporter", err)
	}

	return nil
}

func (a *Adapter) Close() error {
	var res *multierror.Error

	if err := a.importer.Close(); err != nil {
		res = multierror.Append(res, err)
	}

	if err := a.exporter.Close(); err != nil {
		res = multierror.Append(res, err)
	}

	return res.ErrorOrNil()
}

func (a *Adapter) CurrentFrontier(ctx context.Context) (int64, error) {
	t, ok := a.importer.(Tipper)

	if !ok {
		return a.conf.Frontier, nil
	}

	tip, ok, err := t.Tip(ctx)

	if err != nil {
		return 0, errs.TransientFetch("tip", err)
	}

	if !ok {
		return a.conf.Frontier, nil
	}

	return tip, nil
}

// ExportAll returns nil only when every batch of [start, end] was exported.
func (a *Adapter) ExportAll(ctx context.Context, start int64, end int64) error {
	var (
		logger = slogctx.FromCtx(ctx)
		t0     = time.Now()
	)

	logger.Info(
		"exporting",
		"kinds", lo.Map(a.kinds, func(k Kind, _ int) string { return k.Name }),
		"start", start,
		"end", end,
	)

	if err := a.executor.Execute(ctx, start, end, a.exportBatch, end-start+1); err != nil {
		return err
	}

	logger.Info("exported", "start", start, "end", end, "duration", time.Since(t0))
	return nil
}

func (a *Adapter) exportBatch(ctx context.Context, b executor.Batch) error {
	var logger = slogctx.FromCtx(ctx)

	for _, kind := range a.kinds {
		var t0 = time.Now()

		records, err := a.fetch(ctx, kind, b)

		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", kind.Name, err)
		}

		if err := a.exporter.Upsert(ctx, kind, records); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", kind.Name, err)
		}

		a.metrics[kind.Name].Fetched.Inc(int64(len(records)))
		a.metrics[kind.Name].Upserted.Inc(int64(len(records)))

		logger.Debug(
			kind.Name,
			"start", b.Start,
			"end", b.End,
			"records", len(records),
			"duration", time.Since(t0),
		)
	}

	return nil
}

func (a *Adapter) fetch(ctx context.Context, kind Kind, b executor.Batch) ([]Record, error) {
	switch kind.Mode {
	case FetchRange:
		return a.importer.FetchRange(ctx, kind, b.Start, b.End)
	default:
		return a.importer.Fetch(ctx, kind, b.Keys())
	}
}
