package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned by repositories when no row matches an id.
	ErrNotFound = errors.New("record not found")

	// ErrIntegrityViolation is returned when a compliance trigger in the
	// store refuses a statement. The application guard should make this
	// unreachable, so seeing it means something bypassed the guard.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// IntegrityMarker prefixes every message raised by the compliance triggers.
const IntegrityMarker = "NOM-004"

// pgRestrictViolation is the SQLSTATE the Postgres triggers raise with.
const pgRestrictViolation = "23001"

// ClassifyPG maps pgx errors onto the package sentinels. Unknown errors are
// returned unchanged.
func ClassifyPG(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgRestrictViolation || strings.Contains(pgErr.Message, IntegrityMarker) {
			return fmt.Errorf("%w: %s", ErrIntegrityViolation, pgErr.Message)
		}
	}
	return err
}

// ClassifySQLite maps database/sql and modernc sqlite errors onto the
// package sentinels. Unknown errors are returned unchanged.
func ClassifySQLite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		if sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_TRIGGER || strings.Contains(sqErr.Error(), IntegrityMarker) {
			return fmt.Errorf("%w: %s", ErrIntegrityViolation, sqErr.Error())
		}
	}
	if strings.Contains(err.Error(), IntegrityMarker) {
		return fmt.Errorf("%w: %s", ErrIntegrityViolation, err.Error())
	}
	return err
}

// RegulatedTables lists every table whose rows fall under the retention
// rule. Each of them carries a delete-blocking trigger in both stores.
var RegulatedTables = []string{
	"nurse_notes",
	"vital_signs",
	"treatments",
	"non_pharmacological_treatments",
	"nurse_shift_reports",
}
