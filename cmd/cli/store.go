package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/internal/config"
	"github.com/jakechorley/relief-coordination/pkg/dynamo"
	"github.com/jakechorley/relief-coordination/pkg/kv"
	"github.com/jakechorley/relief-coordination/pkg/postgres"
	"github.com/jakechorley/relief-coordination/pkg/sqlite"
)

// openStore opens the backend named in the config. The postgres schema is
// migrated on open; the DynamoDB table is created by the migrate command.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kv.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("Using in-memory store; data is lost when the process exits")
		return kv.NewMemoryStore(), nil

	case config.BackendSQLite:
		return sqlite.NewStore(cfg.Store.SQLitePath, cfg.PollInterval(), logger)

	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Store.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil

	case config.BackendDynamoDB:
		return dynamo.NewStore(ctx, dynamo.Options{
			Table:        cfg.Store.DynamoTable,
			Region:       cfg.Store.AWSRegion,
			Endpoint:     cfg.Store.DynamoEndpoint,
			PollInterval: cfg.PollInterval(),
		}, logger)
	}

	return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
}
