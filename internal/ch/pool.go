package ch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/puddle/v2"
	slogctx "github.com/veqryn/slog-context"
)

type PoolConfig struct {
	DSN             string
	MaxConnLifetime time.Duration
	MaxConns        int32
	Settings        map[string]any
}

func (conf PoolConfig) WithDefaults() PoolConfig {
	if len(conf.DSN) == 0 {
		conf.DSN = "tcp://127.0.0.1:9000"
	}

	if conf.MaxConnLifetime == 0 {
		conf.MaxConnLifetime = time.Hour
	}

	if conf.MaxConns <= 0 {
		conf.MaxConns = 8
	}

	return conf
}

type dialFunc func(ctx context.Context) (driver.Conn, error)

// Pool leases single-connection ClickHouse clients, recycling them once they
// outlive MaxConnLifetime.
type Pool struct {
	conf PoolConfig
	pool *puddle.Pool[driver.Conn]
}

func NewPool(conf PoolConfig) (*Pool, error) {
	conf = conf.WithDefaults()

	chopts, err := clickhouse.ParseDSN(conf.DSN)

	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse dsn: %w", err)
	}

	chopts.MaxOpenConns = 1
	chopts.ConnMaxLifetime = conf.MaxConnLifetime * 2
	chopts.Settings = NormalizeSettings(conf.Settings)

	return newPool(conf, func(ctx context.Context) (driver.Conn, error) {
		conn, err := clickhouse.Open(chopts)

		if err != nil {
			return nil, err
		}

		if err := conn.Ping(ctx); err != nil {
			conn.Close()
			return nil, err
		}

		return conn, nil
	})
}

func newPool(conf PoolConfig, dial dialFunc) (*Pool, error) {
	conf = conf.WithDefaults()

	pool, err := puddle.NewPool(&puddle.Config[driver.Conn]{
		Constructor: func(ctx context.Context) (driver.Conn, error) {
			return dial(ctx)
		},
		Destructor: func(conn driver.Conn) {
			conn.Close()
		},
		MaxSize: conf.MaxConns,
	})

	if err != nil {
		return nil, err
	}

	return &Pool{conf: conf, pool: pool}, nil
}

func (p *Pool) acquire(ctx context.Context) (*puddle.Resource[driver.Conn], error) {
	for {
		res, err := p.pool.Acquire(ctx)

		if err != nil {
			return nil, err
		}

		if time.Since(res.CreationTime()) < p.conf.MaxConnLifetime {
			return res, nil
		}

		res.Destroy()
	}
}

// Do runs fn on a leased connection. A connection that breaks under fn is
// destroyed and fn is retried once on a fresh one.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, conn driver.Conn) error) error {
	var logger = slogctx.FromCtx(ctx)

	for attempt := 0; ; attempt++ {
		res, err := p.acquire(ctx)

		if err != nil {
			if errors.Is(err, puddle.ErrClosedPool) {
				return err
			}

			return Classify("acquire clickhouse connection", err)
		}

		err = fn(ctx, res.Value())

		if err == nil || !isBrokenConn(err) {
			res.Release()
			return err
		}

		res.Destroy()

		if attempt > 0 {
			return err
		}

		logger.Warn("clickhouse connection broken, retrying on a fresh one", "error", err.Error())
	}
}

func (p *Pool) Stat() *puddle.Stat {
	return p.pool.Stat()
}

func (p *Pool) Close() {
	p.pool.Close()
}
