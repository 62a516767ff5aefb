package source

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Record is a row moved from the source to the sink. Its fields are opaque.
type Record map[string]any

type FetchMode string

const (
	// FetchKeys selects rows whose key is in an explicit key set.
	FetchKeys FetchMode = "keys"
	// FetchRange selects rows whose key lies in an inclusive range.
	FetchRange FetchMode = "range"
)

type Partitioning string

const (
	PartitionBlocks       Partitioning = "blocks"
	PartitionTransactions Partitioning = "transactions"
	PartitionLogs         Partitioning = "logs"
)

// Kind describes one item type synced from a source table to a sink table.
type Kind struct {
	Name           string
	SourceTable    string
	SinkTable      string
	KeyColumn      string
	Partitioning   Partitioning
	Mode           FetchMode
	AllowFiltering bool
}

var (
	Blocks = Kind{
		Name:           "blocks",
		SourceTable:    "blocks",
		SinkTable:      "blocks",
		KeyColumn:      "number",
		Partitioning:   PartitionBlocks,
		Mode:           FetchKeys,
		AllowFiltering: true,
	}
	Transactions = Kind{
		Name:         "transactions",
		SourceTable:  "transactions",
		SinkTable:    "transactions",
		KeyColumn:    "block_number",
		Partitioning: PartitionTransactions,
		Mode:         FetchKeys,
	}
	Logs = Kind{
		Name:         "logs",
		SourceTable:  "logs",
		SinkTable:    "logs",
		KeyColumn:    "block_number",
		Partitioning: PartitionLogs,
		Mode:         FetchRange,
	}
	TokenTransfers = Kind{
		Name:         "token_transfers",
		SourceTable:  "token_transfer",
		SinkTable:    "token_transfer",
		KeyColumn:    "block_number",
		Partitioning: PartitionTransactions,
		Mode:         FetchKeys,
	}
	InternalTransactions = Kind{
		Name:         "internal_transactions",
		SourceTable:  "internal_transactions",
		SinkTable:    "internal_transactions",
		KeyColumn:    "block_number",
		Partitioning: PartitionTransactions,
		Mode:         FetchKeys,
	}
)

var Kinds = []Kind{Blocks, Transactions, Logs, TokenTransfers, InternalTransactions}

func KindByName(name string) (Kind, error) {
	k, ok := lo.Find(Kinds, func(k Kind) bool { return k.Name == name })

	if !ok {
		return Kind{}, fmt.Errorf(
			"unknown kind %q (valid kinds: %s)",
			name,
			strings.Join(lo.Map(Kinds, func(k Kind, _ int) string { return k.Name }), ", "),
		)
	}

	return k, nil
}

func KindsByName(names []string) ([]Kind, error) {
	var res []Kind

	var trimmed = lo.Map(names, func(name string, _ int) string { return strings.TrimSpace(name) })

	for _, name := range lo.Uniq(trimmed) {
		k, err := KindByName(name)

		if err != nil {
			return nil, err
		}

		res = append(res, k)
	}

	return res, nil
}

// Importer reads records of a kind from a partitioned source.
type Importer interface {
	Open(ctx context.Context) error
	Close() error
	Fetch(ctx context.Context, kind Kind, keys []int64) ([]Record, error)
	FetchRange(ctx context.Context, kind Kind, start int64, end int64) ([]Record, error)
}

// Tipper is implemented by importers able to report the highest available key.
// ok is false when the importer has no way to know it.
type Tipper interface {
	Tip(ctx context.Context) (tip int64, ok bool, err error)
}

// Exporter writes records to the sink. Writing the same records twice must
// leave the sink as if they were written once.
type Exporter interface {
	Open(ctx context.Context) error
	Close() error
	Upsert(ctx context.Context, kind Kind, records []Record) error
}

// Columns returns the sorted field names of r.
func (r Record) Columns() []string {
	var cols = lo.Keys(r)
	slices.Sort(cols)
	return cols
}
