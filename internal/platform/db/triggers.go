package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TriggerStatus reports whether a regulated table is protected against
// physical deletion at the storage layer.
type TriggerStatus struct {
	Table     string `json:"table"`
	Protected bool   `json:"protected"`
}

// VerifySQLiteTriggers checks that every regulated table has a BEFORE DELETE
// trigger installed.
func VerifySQLiteTriggers(ctx context.Context, conn *sql.DB) ([]TriggerStatus, error) {
	statuses := make([]TriggerStatus, 0, len(RegulatedTables))
	for _, table := range RegulatedTables {
		var n int
		err := conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sqlite_master
			WHERE type = 'trigger' AND tbl_name = ? AND sql LIKE '%BEFORE DELETE%'`, table).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("inspect triggers on %s: %w", table, err)
		}
		statuses = append(statuses, TriggerStatus{Table: table, Protected: n > 0})
	}
	return statuses, nil
}

// VerifyPGTriggers is VerifySQLiteTriggers for the Postgres store.
func VerifyPGTriggers(ctx context.Context, pool *pgxpool.Pool) ([]TriggerStatus, error) {
	statuses := make([]TriggerStatus, 0, len(RegulatedTables))
	for _, table := range RegulatedTables {
		var n int
		err := pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM information_schema.triggers
			WHERE event_object_table = $1 AND event_manipulation = 'DELETE' AND action_timing = 'BEFORE'`,
			table).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("inspect triggers on %s: %w", table, err)
		}
		statuses = append(statuses, TriggerStatus{Table: table, Protected: n > 0})
	}
	return statuses, nil
}

// Unprotected returns the tables missing their delete trigger.
func Unprotected(statuses []TriggerStatus) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Protected {
			missing = append(missing, s.Table)
		}
	}
	return missing
}
