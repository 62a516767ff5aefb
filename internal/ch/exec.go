package ch

import (
	"context"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/utils"
	slogctx "github.com/veqryn/slog-context"
)

func ExecFromTemplate(
	ctx context.Context,
	conn driver.Conn,
	tmpl *template.Template,
	name string,
	vars any,
	settings clickhouse.Settings,
) (*QueryMetadata, error) {
	q, err := utils.RenderTemplate(tmpl, name, vars)

	if err != nil {
		return nil, fmt.Errorf("failed to render %s template: %w", name, err)
	}

	return Exec(ctx, conn, name, q, settings)
}

// Exec runs q, collecting progress and server logs into the returned metadata.
func Exec(
	ctx context.Context,
	conn driver.Conn,
	name string,
	q string,
	settings clickhouse.Settings,
) (*QueryMetadata, error) {
	var (
		logger = slogctx.FromCtx(ctx)
		md     QueryMetadata
	)

	if logger.Enabled(ctx, slog.Level(-10)) {
		logger.Log(ctx, -10, q, "template", name)
	}

	var opts = []clickhouse.QueryOption{
		clickhouse.WithProgress(md.progressHandler),
		clickhouse.WithLogs(md.logHandler),
	}

	if len(settings) > 0 {
		opts = append(opts, clickhouse.WithSettings(settings))
	}

	err := conn.Exec(clickhouse.Context(ctx, opts...), q)

	LogQueryMetadata(ctx, logger, slog.LevelDebug, name, &md)

	if err != nil {
		return nil, fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return &md, nil
}
