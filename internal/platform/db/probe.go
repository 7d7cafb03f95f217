package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// probeID is the id of the throwaway row used by the delete probes. The row
// never outlives the probe's transaction.
const probeID = "00000000-0000-0000-0000-000000000000"

var probeInserts = map[string]string{
	"nurse_notes": `INSERT INTO nurse_notes (id, patient_id, note_date, note, nurse_name)
		VALUES ('` + probeID + `', 'integrity-probe', '1970-01-01', 'probe', 'integrity-probe')`,
	"vital_signs": `INSERT INTO vital_signs (id, patient_id, recorded_at, temperature, blood_pressure,
		heart_rate, respiratory_rate, registered_by)
		VALUES ('` + probeID + `', 'integrity-probe', '1970-01-01', 36.5, '120/80', 70, 16, 'integrity-probe')`,
	"treatments": `INSERT INTO treatments (id, patient_id, medication, dose, frequency, start_date,
		applied_by, last_application)
		VALUES ('` + probeID + `', 'integrity-probe', 'probe', 'probe', 'probe', '1970-01-01',
		'integrity-probe', '1970-01-01')`,
	"non_pharmacological_treatments": `INSERT INTO non_pharmacological_treatments (id, patient_id,
		treatment_type, time_start, performed_by)
		VALUES ('` + probeID + `', 'integrity-probe', 'probe', '1970-01-01', 'integrity-probe')`,
	"nurse_shift_reports": `INSERT INTO nurse_shift_reports (id, nurse_name, shift_date, shift_type, report_content)
		VALUES ('` + probeID + `', 'integrity-probe', '1970-01-01', 'probe', 'probe')`,
}

// ProbeResult is the outcome of attempting a physical delete on one
// regulated table.
type ProbeResult struct {
	Table   string `json:"table"`
	Refused bool   `json:"refused"`
	Detail  string `json:"detail,omitempty"`
}

// Failed returns the tables whose delete went through.
func Failed(results []ProbeResult) []string {
	var failed []string
	for _, r := range results {
		if !r.Refused {
			failed = append(failed, r.Table)
		}
	}
	return failed
}

func probeResult(table string, deleteErr error) ProbeResult {
	r := ProbeResult{Table: table, Refused: errors.Is(deleteErr, ErrIntegrityViolation)}
	switch {
	case deleteErr == nil:
		r.Detail = "delete was accepted"
	case !r.Refused:
		r.Detail = deleteErr.Error()
	}
	return r
}

// ProbeSQLiteDeletes inserts a throwaway row into every regulated table and
// tries to delete it, inside a transaction that is always rolled back.
func ProbeSQLiteDeletes(ctx context.Context, conn *sql.DB) ([]ProbeResult, error) {
	results := make([]ProbeResult, 0, len(RegulatedTables))
	for _, table := range RegulatedTables {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin probe on %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, probeInserts[table]); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("insert probe row into %s: %w", table, err)
		}
		_, derr := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = '`+probeID+`'`)
		if err := tx.Rollback(); err != nil {
			return nil, fmt.Errorf("roll back probe on %s: %w", table, err)
		}
		results = append(results, probeResult(table, ClassifySQLite(derr)))
	}
	return results, nil
}

// ProbePGDeletes is ProbeSQLiteDeletes for the Postgres store.
func ProbePGDeletes(ctx context.Context, pool *pgxpool.Pool) ([]ProbeResult, error) {
	results := make([]ProbeResult, 0, len(RegulatedTables))
	for _, table := range RegulatedTables {
		r, err := probePGTable(ctx, pool, table)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func probePGTable(ctx context.Context, pool *pgxpool.Pool, table string) (ProbeResult, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ProbeResult{}, fmt.Errorf("begin probe on %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, probeInserts[table]); err != nil {
		return ProbeResult{}, fmt.Errorf("insert probe row into %s: %w", table, err)
	}
	_, derr := tx.Exec(ctx, `DELETE FROM `+table+` WHERE id = '`+probeID+`'`)
	return probeResult(table, ClassifyPG(derr)), nil
}
