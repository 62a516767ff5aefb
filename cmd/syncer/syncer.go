package syncer

import (
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/cassandra"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/ch"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/checkpoint"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/executor"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/monitor"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/source"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/streamer"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/uber-go/tally/v4"
	promreporter "github.com/uber-go/tally/v4/prometheus"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "incrementally sync blocks and their items from Cassandra to ClickHouse",
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			if path := ctx.String("config"); len(path) > 0 {
				if err := loadConfigFile(ctx, path); err != nil {
					return err
				}
			}

			runID, err := uuid.NewV7()

			if err != nil {
				return err
			}

			var (
				streamID = ctx.String("stream-id")
				chainID  = ctx.String("chain-id")
				syncCtx  = slogctx.With(ctx.Context, "run_id", runID.String(), "stream", streamID, "chain_id", chainID)
				logger   = slogctx.FromCtx(syncCtx)
			)

			syncCtx, cancel := signal.NotifyContext(syncCtx, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var promReporter = promreporter.NewReporter(promreporter.Options{
				OnRegisterError: func(err error) {
					logger.Log(syncCtx, -30, "failed to register metric", "error", err.Error())
				},
			})

			scope, scopeCloser := tally.NewRootScope(tally.ScopeOptions{
				Prefix:         "agnostic_blockchain_sync",
				Tags:           map[string]string{"stream": streamID, "chain_id": chainID},
				CachedReporter: promReporter,
				Separator:      promreporter.DefaultSeparator,
			}, 1*time.Second)

			defer scopeCloser.Close()

			kinds, err := source.KindsByName(ctx.StringSlice("kinds"))

			if err != nil {
				return err
			}

			importer, err := cassandra.NewImporter(cassandra.ImporterConfig{
				URL:            ctx.String("source"),
				Keyspace:       ctx.String("keyspace"),
				KeyspacePrefix: ctx.String("db-prefix"),
				Consistency:    ctx.String("consistency"),
				TipQuery:       ctx.String("tip-query"),
				Partitions: cassandra.PartitionsConfig{
					Blocks:       ctx.Int64("block-partitions"),
					Transactions: ctx.Int64("tx-partitions"),
					Logs:         ctx.Int64("log-partitions"),
				},
			})

			if err != nil {
				return err
			}

			exporter, err := ch.NewExporter(ch.ExporterConfig{
				Pool: ch.PoolConfig{
					DSN:             ctx.String("sink"),
					MaxConnLifetime: ctx.Duration("max-conn-lifetime"),
					MaxConns:        int32(ctx.Int("max-workers")),
				},
				Database:      ctx.String("database"),
				DBPrefix:      ctx.String("db-prefix"),
				TTL:           ctx.String("ttl"),
				QuerySettings: ch.ParseSettings(ctx.StringSlice("clickhouse-setting")),
			}, scope.SubScope("clickhouse"))

			if err != nil {
				return err
			}

			adapter, err := source.NewAdapter(importer, exporter, kinds, source.AdapterConfig{
				Executor: executor.Config{
					StartingBatchSize: ctx.Int64("batch-size"),
					MaxWorkers:        ctx.Int("max-workers"),
					Policy: executor.Policy{
						ShrinkFactor: ctx.Float64("shrink-factor"),
						MinBatchSize: ctx.Int64("min-batch-size"),
						Retries:      lo.Ternary(ctx.Int("batch-retries") == 0, -1, ctx.Int("batch-retries")),
					},
				},
			}, scope.SubScope("adapter"))

			if err != nil {
				return err
			}

			store, err := checkpoint.Open(syncCtx, checkpoint.StoreConfig{
				URL:  ctx.String("checkpoint"),
				Name: chainID + "_" + streamID,
			})

			if err != nil {
				return err
			}

			defer store.Close()

			var opts []streamer.Option

			if dir := ctx.String("monitor-dir"); len(dir) > 0 {
				m, err := monitor.New(monitor.Config{Dir: dir, ChainID: chainID, StreamID: streamID})

				if err != nil {
					return err
				}

				opts = append(opts, streamer.WithMonitor(m))
			}

			s, err := streamer.New(adapter, store, streamerConfig(ctx), scope.SubScope("streamer"), opts...)

			if err != nil {
				return err
			}

			var (
				srv             = &http.Server{Addr: ctx.String("prom-addr"), Handler: promhttp.Handler()}
				group, groupCtx = errgroup.WithContext(syncCtx)
			)

			group.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Warn("metrics server stopped", "addr", srv.Addr, "error", err.Error())
				}

				return nil
			})

			group.Go(func() error {
				defer srv.Close()
				return s.Stream(groupCtx)
			})

			return group.Wait()
		},
	}
}

func streamerConfig(ctx *cli.Context) streamer.Config {
	var conf = streamer.Config{
		Lag:         ctx.Int64("lag"),
		BatchSize:   ctx.Int64("window-size"),
		Period:      ctx.Duration("period"),
		RetryErrors: lo.ToPtr(ctx.Bool("retry-errors")),
		PidFile:     ctx.String("pid-file"),
	}

	if conf.BatchSize == 0 {
		conf.BatchSize = ctx.Int64("batch-size")
	}

	if ctx.IsSet("start-block") {
		conf.StartBlock = lo.ToPtr(ctx.Int64("start-block"))
	}

	if ctx.IsSet("end-block") {
		conf.EndBlock = lo.ToPtr(ctx.Int64("end-block"))
	}

	return conf
}
