package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hogarfamiliar/catastro-cli/internal/cache"
	"github.com/hogarfamiliar/catastro-cli/internal/catastro"
	"github.com/hogarfamiliar/catastro-cli/internal/config"
	"github.com/hogarfamiliar/catastro-cli/internal/fetcher"
	"github.com/hogarfamiliar/catastro-cli/internal/metrics"
	"github.com/hogarfamiliar/catastro-cli/internal/resilience"
	"github.com/hogarfamiliar/catastro-cli/internal/store"
)

// lookupEnv bundles the components a lookup needs.
type lookupEnv struct {
	Store   store.Store
	Cache   *cache.Store
	Service *catastro.Service
}

// Close releases the store, if any.
func (e *lookupEnv) Close() {
	if e.Store == nil {
		return
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "catastro.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, nil)
	case "redis":
		return store.NewRedis(ctx, store.RedisOptions{URL: c.Redis.URL, PoolSize: c.Redis.PoolSize})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func newFetcher(c *config.Config) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:          c.HTTP.UserAgent,
		ConnectTimeout:     c.HTTP.ConnectTimeout(),
		Timeout:            c.HTTP.Timeout(),
		InsecureSkipVerify: !c.HTTP.VerifySSL,
		RateLimit:          c.HTTP.RateLimit,
		Retry:              resilience.FromHTTPConfig(c.HTTP.MaxRetries, c.HTTP.InitialBackoffMs, c.HTTP.Jitter),
	})
}

// initLookup wires store, cache, transport and service from c. A store that
// cannot be opened disables the cache instead of failing the lookup.
func initLookup(ctx context.Context, c *config.Config, m *metrics.Metrics) (*lookupEnv, error) {
	env := &lookupEnv{}

	if c.Cache.Enabled {
		st, err := initStore(ctx, c)
		if err != nil {
			zap.L().Warn("cache backend unavailable, continuing without cache",
				zap.String("driver", c.Store.Driver),
				zap.Error(err),
			)
		} else if err := st.Migrate(ctx); err != nil {
			zap.L().Warn("cache backend schema unavailable, continuing without cache", zap.Error(err))
			st.Close()
		} else {
			env.Store = st
		}
	}

	opts := catastro.ServiceOptions{
		Endpoints: catastro.Endpoints{
			REST:        c.Catastro.RESTURL,
			Legacy:      c.Catastro.LegacyURL,
			Coordinates: c.Catastro.CoordinatesURL,
		},
		Metrics:        m,
		DedupeInflight: c.Catastro.DedupeInflight,
	}
	if env.Store != nil {
		env.Cache = cache.New(env.Store, cache.Options{
			Enabled: true,
			TTL:     c.Cache.TTL(),
			Metrics: m,
		})
		opts.Cache = env.Cache
	}

	env.Service = catastro.NewService(newFetcher(c), opts)
	return env, nil
}
