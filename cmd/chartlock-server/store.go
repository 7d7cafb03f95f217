package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/chartlock/internal/config"
	"github.com/ehr/chartlock/internal/domain/charting"
	"github.com/ehr/chartlock/internal/platform/db"
	"github.com/ehr/chartlock/internal/platform/guard"
	"github.com/ehr/chartlock/internal/platform/telemetry"
	"github.com/ehr/chartlock/migrations"
)

// store is the opened record store for whichever driver is configured.
type store struct {
	driver string
	repos  charting.Repositories
	health db.Store
	sqlite *sql.DB
	pool   *pgxpool.Pool
}

// openStore connects to the configured store. The SQLite store applies its
// schema on open; the Postgres store is brought up to date with the embedded
// migrations.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite store")
		return &store{
			driver: cfg.StoreDriver,
			repos:  charting.NewSQLiteRepositories(conn),
			health: db.SQLiteStore(conn),
			sqlite: conn,
		}, nil

	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		n, err := db.NewMigratorFS(pool, migrations.Files).Up(ctx)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info().Int("applied", n).Msg("connected to database")
		return &store{
			driver: cfg.StoreDriver,
			repos:  charting.NewPGRepositories(pool),
			health: db.PGStore(pool),
			pool:   pool,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func (s *store) Close() {
	if s.sqlite != nil {
		s.sqlite.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *store) verifyTriggers(ctx context.Context) ([]db.TriggerStatus, error) {
	return s.health.Triggers(ctx)
}

func (s *store) probeDeletes(ctx context.Context) ([]db.ProbeResult, error) {
	if s.pool != nil {
		return db.ProbePGDeletes(ctx, s.pool)
	}
	return db.ProbeSQLiteDeletes(ctx, s.sqlite)
}

// newService wires the guard and the charting service over the store.
func newService(cfg *config.Config, st *store, logger zerolog.Logger, metrics *telemetry.Metrics) *charting.Service {
	g := guard.New(cfg.EditPolicy(), charting.NewMetaLookup(st.repos),
		guard.WithObserver(metrics.GuardObserver()))
	return charting.NewService(st.repos, g, logger, metrics)
}
