package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kueccha/poimap/internal/config"
	"github.com/kueccha/poimap/internal/db"
	"github.com/kueccha/poimap/internal/fetcher"
	"github.com/kueccha/poimap/internal/kvstore"
	"github.com/kueccha/poimap/internal/source"
)

// initStore builds the key-value store from config. The returned close
// function releases the local backend.
func initStore(ctx context.Context, c *config.Config) (*kvstore.Store, func(), error) {
	local, closeFn, err := initLocalStorage(ctx, c.Store)
	if err != nil {
		return nil, nil, err
	}

	var session kvstore.Storage = kvstore.NewMemory()
	if c.Store.SessionDisabled {
		session = kvstore.Disabled()
	}

	store := kvstore.New(local, session, kvstore.WithDefaultPrefix(c.Store.Prefix))
	return store, closeFn, nil
}

func initLocalStorage(ctx context.Context, sc config.StoreConfig) (kvstore.Storage, func(), error) {
	noop := func() {}
	if sc.LocalDisabled {
		return kvstore.Disabled(), noop, nil
	}

	switch sc.Driver {
	case "memory":
		return kvstore.NewMemory(), noop, nil
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "poimap.db"
		}
		st, err := kvstore.NewSQLite(dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil //nolint:errcheck
	case "postgres":
		pool, err := db.Connect(ctx, sc.DatabaseURL, db.PoolConfig{MaxConns: sc.MaxConns, MinConns: sc.MinConns})
		if err != nil {
			return nil, nil, err
		}
		st := kvstore.NewPostgres(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil //nolint:errcheck
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// initLoader builds a source loader that caches remote sources in store.
// A nil store disables caching.
func initLoader(c *config.Config, store *kvstore.Store) *source.Loader {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    c.Source.UserAgent,
		Timeout:      time.Duration(c.Source.TimeoutSecs) * time.Second,
		MaxRetries:   c.Source.MaxRetries,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
	opts := []source.LoaderOption{
		source.WithFetcher(f),
		source.WithSheet(fetcher.SheetOptions{SheetName: c.Source.Sheet}),
		source.WithConcurrency(c.Source.Concurrency),
	}
	if store != nil {
		opts = append(opts, source.WithCache(store, c.Source.CacheTTL))
	}
	return source.NewLoader(opts...)
}

// sourcePaths returns the flag-provided locations, falling back to config.
func sourcePaths(flagPaths []string, c *config.Config) ([]string, error) {
	paths := flagPaths
	if len(paths) == 0 {
		paths = c.Source.Paths
	}
	if len(paths) == 0 {
		return nil, eris.New("no sources: pass --source or set source.paths (POIMAP_SOURCE_PATHS)")
	}
	zap.L().Debug("using sources", zap.Strings("paths", paths))
	return paths, nil
}
