package cassandra

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/bucket"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/source"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/utils"
	"github.com/samber/lo"
	slogctx "github.com/veqryn/slog-context"
)

//go:embed queries/*.cql
var queriesFS embed.FS

const (
	fetchKeysTemplate  = "fetch_keys.cql"
	fetchRangeTemplate = "fetch_range.cql"
	tipTemplate        = "tip.cql"
)

func Templates() (*template.Template, error) {
	return utils.LoadTemplates(queriesFS, "cassandra", ".cql")
}

type fetchVars struct {
	Keyspace       string
	Table          string
	KeyColumn      string
	AllowFiltering bool
	Buckets        []int64
	Keys           []int64
	Start          int64
	End            int64
}

// Importer reads bucketed chain tables from Cassandra.
type Importer struct {
	conf       ImporterConfig
	endpoint   endpoint
	tmpl       *template.Template
	newSession func(ctx context.Context) (session, error)
	sess       session
}

var (
	_ source.Importer = (*Importer)(nil)
	_ source.Tipper   = (*Importer)(nil)
)

func NewImporter(conf ImporterConfig) (*Importer, error) {
	conf = conf.WithDefaults()

	e, err := parseURL(conf)

	if err != nil {
		return nil, err
	}

	tmpl, err := Templates()

	if err != nil {
		return nil, err
	}

	if len(conf.TipQuery) > 0 {
		if _, err := tmpl.New(tipTemplate).Parse(conf.TipQuery); err != nil {
			return nil, fmt.Errorf("failed to parse tip query: %w", err)
		}
	}

	var imp = &Importer{
		conf:     conf,
		endpoint: e,
		tmpl:     tmpl,
	}

	imp.newSession = func(ctx context.Context) (session, error) {
		s, err := newGocqlSession(imp.conf, imp.endpoint)

		if err != nil {
			return nil, err
		}

		return s, nil
	}

	return imp, nil
}

func (imp *Importer) Open(ctx context.Context) error {
	var logger = slogctx.FromCtx(ctx)

	if imp.sess != nil {
		return nil
	}

	sess, err := imp.newSession(ctx)

	if err != nil {
		return fmt.Errorf("failed to connect to cassandra %v: %w", imp.endpoint.Hosts, err)
	}

	imp.sess = sess
	logger.Info("connected to cassandra", "hosts", imp.endpoint.Hosts, "keyspace", imp.endpoint.Keyspace)
	return nil
}

func (imp *Importer) Close() error {
	if imp.sess != nil {
		imp.sess.Close()
		imp.sess = nil
	}

	return nil
}

func (imp *Importer) Fetch(ctx context.Context, kind source.Kind, keys []int64) ([]source.Record, error) {
	keys = lo.Uniq(keys)

	if len(keys) == 0 {
		return nil, nil
	}

	var vars = imp.vars(kind)
	vars.Buckets = bucket.ForKeys(keys, imp.conf.Partitions.Width(kind.Partitioning))
	vars.Keys = keys

	return imp.selectFromTemplate(ctx, fetchKeysTemplate, vars)
}

func (imp *Importer) FetchRange(ctx context.Context, kind source.Kind, start int64, end int64) ([]source.Record, error) {
	if end < start {
		return nil, nil
	}

	var (
		width = imp.conf.Partitions.Width(kind.Partitioning)
		vars  = imp.vars(kind)
	)

	if b, single := bucket.SingleForRange(start, end, width); single {
		vars.Buckets = []int64{b}
	} else {
		vars.Buckets = bucket.ForRange(start, end, width)
	}

	vars.Start = start
	vars.End = end

	return imp.selectFromTemplate(ctx, fetchRangeTemplate, vars)
}

func (imp *Importer) Tip(ctx context.Context) (int64, bool, error) {
	if imp.tmpl.Lookup(tipTemplate) == nil {
		return 0, false, nil
	}

	q, err := utils.RenderTemplate(imp.tmpl, tipTemplate, map[string]any{"Keyspace": imp.endpoint.Keyspace})

	if err != nil {
		return 0, false, fmt.Errorf("failed to render %s template: %w", tipTemplate, err)
	}

	var tip int64

	if err := imp.session().Scalar(ctx, q, &tip); err != nil {
		return 0, false, errs.TransientFetch(tipTemplate, err)
	}

	return tip, true, nil
}

func (imp *Importer) vars(kind source.Kind) fetchVars {
	return fetchVars{
		Keyspace:       imp.endpoint.Keyspace,
		Table:          kind.SourceTable,
		KeyColumn:      kind.KeyColumn,
		AllowFiltering: kind.AllowFiltering,
	}
}

func (imp *Importer) selectFromTemplate(ctx context.Context, name string, vars fetchVars) ([]source.Record, error) {
	var logger = slogctx.FromCtx(ctx)

	q, err := utils.RenderTemplate(imp.tmpl, name, vars)

	if err != nil {
		return nil, fmt.Errorf("failed to render %s template: %w", name, err)
	}

	if logger.Enabled(ctx, slog.Level(-10)) {
		logger.Log(ctx, -10, q, "template", name)
	}

	rows, err := imp.session().Select(ctx, q)

	if err != nil {
		return nil, errs.TransientFetch(fmt.Sprintf("%s %s", name, vars.Table), err)
	}

	return lo.Map(rows, func(row map[string]any, _ int) source.Record {
		return source.Record(row)
	}), nil
}

func (imp *Importer) session() session {
	if imp.sess == nil {
		return closedSession{}
	}

	return imp.sess
}
