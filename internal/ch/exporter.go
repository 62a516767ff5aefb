package ch

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"maps"
	"text/template"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/source"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/utils"
	"github.com/samber/lo"
	"github.com/uber-go/tally/v4"
	slogctx "github.com/veqryn/slog-context"
)

//go:embed queries/*.sql
var queriesFS embed.FS

const (
	createDatabaseTemplate = "create_database.sql"
	insertTemplate         = "insert.sql"
	serverVersionTemplate  = "server_version.sql"
)

var schemaTemplates = []string{
	"create_blocks.sql",
	"create_transactions.sql",
	"create_logs.sql",
	"create_token_transfer.sql",
	"create_internal_transactions.sql",
}

// DefaultQuerySettings are attached to every insert. They let ClickHouse
// ignore source columns the sink schema does not know and parse loosely
// formatted timestamps.
var DefaultQuerySettings = clickhouse.Settings{
	"input_format_skip_unknown_fields": 1,
	"date_time_input_format":           "best_effort",
}

func Templates() (*template.Template, error) {
	return utils.LoadTemplates(queriesFS, "clickhouse", ".sql")
}

type ExporterConfig struct {
	Pool           PoolConfig
	Database       string
	DBPrefix       string
	PartitionWidth int64
	// TTL is a ClickHouse interval expression such as "30 DAY". "none" disables it.
	TTL           string
	QuerySettings map[string]any
}

func (conf ExporterConfig) WithDefaults() ExporterConfig {
	conf.Pool = conf.Pool.WithDefaults()

	if len(conf.Database) == 0 {
		conf.Database = "blockchain_etl"
	}

	if conf.PartitionWidth <= 0 {
		conf.PartitionWidth = 100000
	}

	if len(conf.TTL) == 0 {
		conf.TTL = "30 DAY"
	}

	return conf
}

func (conf ExporterConfig) database() string {
	if len(conf.DBPrefix) > 0 {
		return conf.DBPrefix + "_" + conf.Database
	}

	return conf.Database
}

type schemaVars struct {
	Database       string
	PartitionWidth int64
	TTL            string
}

type insertVars struct {
	Database string
	Table    string
	Rows     []string
}

type ExporterMetrics struct {
	Inserts     tally.Counter
	WroteRows   tally.Counter
	WroteBytes  tally.Counter
	InsertTimer tally.Timer
}

var _ source.Exporter = (*Exporter)(nil)

func NewExporterMetrics(scope tally.Scope) *ExporterMetrics {
	return &ExporterMetrics{
		Inserts:     scope.Counter("inserts"),
		WroteRows:   scope.Counter("wrote_rows"),
		WroteBytes:  scope.Counter("wrote_bytes"),
		InsertTimer: scope.Timer("insert_duration"),
	}
}

// Exporter upserts records into ReplacingMergeTree tables, so writing the
// same rows twice leaves the sink unchanged once parts are merged.
type Exporter struct {
	conf     ExporterConfig
	database string
	tmpl     *template.Template
	settings clickhouse.Settings
	metrics  *ExporterMetrics
	newPool  func() (*Pool, error)
	pool     *Pool
}

func NewExporter(conf ExporterConfig, scope tally.Scope) (*Exporter, error) {
	conf = conf.WithDefaults()

	if scope == nil {
		scope = tally.NoopScope
	}

	tmpl, err := Templates()

	if err != nil {
		return nil, err
	}

	return &Exporter{
		conf:     conf,
		database: conf.database(),
		tmpl:     tmpl,
		settings: mergeSettings(DefaultQuerySettings, conf.QuerySettings),
		metrics:  NewExporterMetrics(scope),
		newPool:  func() (*Pool, error) { return NewPool(conf.Pool) },
	}, nil
}

func (exp *Exporter) Database() string {
	return exp.database
}

// Open creates the connection pool and bootstraps the schema.
func (exp *Exporter) Open(ctx context.Context) error {
	if exp.pool != nil {
		return nil
	}

	pool, err := exp.newPool()

	if err != nil {
		return err
	}

	if err := exp.bootstrap(ctx, pool); err != nil {
		pool.Close()
		return err
	}

	exp.pool = pool
	return nil
}

func (exp *Exporter) bootstrap(ctx context.Context, pool *Pool) error {
	var (
		logger = slogctx.FromCtx(ctx)
		vars   = schemaVars{
			Database:       exp.database,
			PartitionWidth: exp.conf.PartitionWidth,
			TTL:            exp.conf.TTL,
		}
	)

	if vars.TTL == "none" {
		vars.TTL = ""
	}

	return pool.Do(ctx, func(ctx context.Context, conn driver.Conn) error {
		row, _, err := SelectSingleRowFromTemplate[struct {
			Version string `ch:"version"`
		}](ctx, conn, exp.tmpl, serverVersionTemplate, nil)

		if err != nil {
			return err
		}

		logger.Info("connected to clickhouse", "version", row.Version, "database", exp.database)

		for _, name := range append([]string{createDatabaseTemplate}, schemaTemplates...) {
			if _, err := ExecFromTemplate(ctx, conn, exp.tmpl, name, vars, nil); err != nil {
				return err
			}
		}

		return nil
	})
}

func (exp *Exporter) Close() error {
	if exp.pool != nil {
		exp.pool.Close()
		exp.pool = nil
	}

	return nil
}

func (exp *Exporter) Upsert(ctx context.Context, kind source.Kind, records []source.Record) error {
	if len(records) == 0 {
		return nil
	}

	if exp.pool == nil {
		return fmt.Errorf("clickhouse exporter is not open")
	}

	rows, err := EncodeRows(records)

	if err != nil {
		return err
	}

	q, err := utils.RenderTemplate(exp.tmpl, insertTemplate, insertVars{
		Database: exp.database,
		Table:    kind.SinkTable,
		Rows:     rows,
	})

	if err != nil {
		return fmt.Errorf("failed to render %s template: %w", insertTemplate, err)
	}

	var sw = exp.metrics.InsertTimer.Start()
	defer sw.Stop()

	err = exp.pool.Do(ctx, func(ctx context.Context, conn driver.Conn) error {
		md, err := Exec(ctx, conn, insertTemplate, q, exp.settings)

		if err != nil {
			return err
		}

		exp.metrics.WroteRows.Inc(int64(md.WroteRows))
		exp.metrics.WroteBytes.Inc(int64(md.WroteBytes))
		return nil
	})

	if err != nil {
		return Classify(fmt.Sprintf("insert into %s.%s", exp.database, kind.SinkTable), err)
	}

	exp.metrics.Inserts.Inc(1)
	return nil
}

// CleanRecord drops source-only columns and fills defaults the sink schema
// cannot take as null.
func CleanRecord(r source.Record) source.Record {
	var clean = maps.Clone(r)

	delete(clean, "bucket_id")

	if v, ok := clean["withdrawals"]; ok && (lo.IsNil(v) || v == "null") {
		clean["withdrawals"] = []any{}
	}

	return clean
}

// EncodeRows renders records as JSONEachRow lines.
func EncodeRows(records []source.Record) ([]string, error) {
	var rows = make([]string, 0, len(records))

	for _, r := range records {
		js, err := json.Marshal(CleanRecord(r))

		if err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}

		rows = append(rows, string(js))
	}

	return rows, nil
}
