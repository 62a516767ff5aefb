package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
)

var ErrNotFound = errors.New("checkpoint not found")

// Store persists the highest key that was fully synced.
type Store interface {
	// Exists reports whether a checkpoint was already persisted.
	Exists(ctx context.Context) (bool, error)
	// Read returns ErrNotFound when nothing was persisted yet.
	Read(ctx context.Context) (int64, error)
	Write(ctx context.Context, value int64) error
	Close() error
	fmt.Stringer
}

type StoreConfig struct {
	// URL is either a plain file path, file://path, sqlite://path or
	// s3://bucket/key (with an optional ?endpoint= query parameter).
	URL string
	// Name identifies the stream inside stores that hold several checkpoints.
	Name string
}

func (conf StoreConfig) WithDefaults() StoreConfig {
	if len(conf.URL) == 0 {
		conf.URL = "last_synced_block.txt"
	}

	if len(conf.Name) == 0 {
		conf.Name = "default"
	}

	return conf
}

func Open(ctx context.Context, conf StoreConfig) (Store, error) {
	conf = conf.WithDefaults()

	if !strings.Contains(conf.URL, "://") {
		return NewFileStore(conf.URL), nil
	}

	u, err := url.Parse(conf.URL)

	if err != nil {
		return nil, err
	}

	var path = u.Host + u.Path

	switch u.Scheme {
	case "file":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLiteStore(ctx, path, conf.Name)
	case "s3":
		var key = strings.TrimPrefix(u.Path, "/")

		if len(key) == 0 || strings.HasSuffix(key, "/") {
			key += conf.Name + ".txt"
		}

		return OpenS3Store(ctx, u.Host, key, u.Query().Get("endpoint"))
	default:
		return nil, errs.Usagef("unsupported checkpoint store scheme %q", u.Scheme)
	}
}

// Init prepares store for a run and returns the checkpoint to resume from.
// An explicit start is only accepted when nothing was persisted yet; the
// store then holds start-1. Without a start and without a persisted value the
// store is initialized to -1.
func Init(ctx context.Context, store Store, start *int64) (int64, error) {
	exists, err := store.Exists(ctx)

	if err != nil {
		return 0, err
	}

	if start != nil && exists {
		return 0, errs.Usagef(
			"%s should not exist if a start block is specified: either remove %s or drop the start block option",
			store,
			store,
		)
	}

	if !exists {
		var initial int64 = -1

		if start != nil {
			initial = *start - 1
		}

		if err := store.Write(ctx, initial); err != nil {
			return 0, err
		}
	}

	return store.Read(ctx)
}
