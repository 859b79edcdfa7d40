package main

import (
	"context"
	"fmt"

	"github.com/ethpandaops/recipe-app-api/pkg/config"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/sirupsen/logrus"
)

// loadConfig reads the configuration file named by the --config flag.
func loadConfig(log logrus.FieldLogger, path string) (*config.Config, error) {
	log.WithField("path", path).Info("Loading configuration")

	return config.Load(path)
}

// newStore creates the store for the configured driver without connecting.
func newStore(log logrus.FieldLogger, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return store.NewSQLiteStore(log, cfg.Database.SQLite.Path), nil
	case "postgres":
		return store.NewPostgresStore(log, cfg.GetDSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// openStore connects to the database and applies pending migrations.
// The caller must Stop the returned store.
func openStore(ctx context.Context, log logrus.FieldLogger, cfg *config.Config) (store.Store, error) {
	st, err := newStore(log, cfg)
	if err != nil {
		return nil, err
	}

	if err := st.Start(ctx); err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Stop()

		return nil, err
	}

	return st, nil
}
