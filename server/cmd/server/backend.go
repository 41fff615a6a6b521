package main

import (
	"context"
	"fmt"

	"github.com/threatwatch/threatwatch/server/internal/config"
	"github.com/threatwatch/threatwatch/server/internal/remote"
	"github.com/threatwatch/threatwatch/server/internal/seed"
)

func noopClose() error { return nil }

// openStore builds the configured backend, bounded by the store timeout and
// observed by obs. In demo mode it returns a nil Store.
func openStore(ctx context.Context, sc config.StoreConfig, obs remote.Observer) (remote.Store, func() error, error) {
	if sc.Demo() {
		return nil, noopClose, nil
	}

	var (
		base   remote.Store
		closer func() error
	)
	switch sc.Backend {
	case config.BackendMemory:
		base, closer = remote.NewMemoryStore(), noopClose
	case config.BackendRedis:
		rs, err := remote.NewRedisStore(ctx, sc.URL, sc.Prefix)
		if err != nil {
			return nil, nil, err
		}
		base, closer = rs, rs.Close
	case config.BackendSQLite, config.BackendPostgres:
		ss, err := remote.OpenSQL(ctx, remote.Dialect(sc.Backend), sc.DSN, sc.Prefix)
		if err != nil {
			return nil, nil, err
		}
		base, closer = ss, ss.Close
	default:
		return nil, nil, fmt.Errorf("store backend %q unknown", sc.Backend)
	}

	return remote.Observe(remote.WithTimeout(base, sc.Timeout), obs), closer, nil
}

// loadSeed returns the configured seed dataset, or the built-in one.
func loadSeed(sc config.SeedConfig) (*seed.Dataset, error) {
	if sc.Path == "" {
		return seed.Default(), nil
	}
	return seed.Load(sc.Path)
}
