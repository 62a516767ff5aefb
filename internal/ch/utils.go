package ch

import (
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/utils"
	"github.com/iancoleman/strcase"
)

func NormalizeSettings(settings clickhouse.Settings) clickhouse.Settings {
	var m = make(clickhouse.Settings)

	for k, v := range settings {
		m[strcase.ToSnake(k)] = v
	}

	return m
}

// ParseSettings turns k=v pairs into normalized ClickHouse settings.
func ParseSettings(kvs []string) clickhouse.Settings {
	return NormalizeSettings(utils.ParseKeyValues(kvs, "="))
}

func mergeSettings(layers ...clickhouse.Settings) clickhouse.Settings {
	var m = make(clickhouse.Settings)

	for _, layer := range layers {
		for k, v := range NormalizeSettings(layer) {
			m[k] = v
		}
	}

	return m
}
