package db

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	Driver          string `json:"driver"`
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// Store is the part of a backing store the health endpoint needs.
type Store interface {
	Ping(ctx context.Context) error
	Stats() *PoolStats
	// Triggers reports the delete protection of every regulated table.
	Triggers(ctx context.Context) ([]TriggerStatus, error)
}

type pgStore struct{ pool *pgxpool.Pool }

// PGStore wraps a pgx pool for the health endpoint.
func PGStore(pool *pgxpool.Pool) Store { return pgStore{pool: pool} }

func (s pgStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s pgStore) Triggers(ctx context.Context) ([]TriggerStatus, error) {
	return VerifyPGTriggers(ctx, s.pool)
}

func (s pgStore) Stats() *PoolStats {
	stat := s.pool.Stat()
	return &PoolStats{
		Driver:          "postgres",
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

type sqliteStore struct{ conn *sql.DB }

// SQLiteStore wraps a database/sql handle for the health endpoint.
func SQLiteStore(conn *sql.DB) Store { return sqliteStore{conn: conn} }

func (s sqliteStore) Ping(ctx context.Context) error { return s.conn.PingContext(ctx) }

func (s sqliteStore) Triggers(ctx context.Context) ([]TriggerStatus, error) {
	return VerifySQLiteTriggers(ctx, s.conn)
}

func (s sqliteStore) Stats() *PoolStats {
	stat := s.conn.Stats()
	return &PoolStats{
		Driver:          "sqlite",
		TotalConns:      int32(stat.OpenConnections),
		IdleConns:       int32(stat.Idle),
		AcquiredConns:   int32(stat.InUse),
		MaxConns:        int32(stat.MaxOpenConnections),
		AcquireCount:    stat.WaitCount,
		AcquireDuration: stat.WaitDuration.String(),
		Healthy:         true,
	}
}

// HealthHandler returns a handler for the database health check endpoint. A
// store that answers but has lost a delete trigger reports "unprotected".
func HealthHandler(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := store.Ping(ctx)
		stats := store.Stats()

		if err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		triggers, err := store.Triggers(ctx)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}
		if missing := Unprotected(triggers); len(missing) > 0 {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":      "unprotected",
				"unprotected": missing,
				"pool":        stats,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"pool":     stats,
			"triggers": triggers,
		})
	}
}
