// Package migrations ships the Postgres schema with the binary.
package migrations

import "embed"

// Files holds the numbered migration files.
//
//go:embed *.sql
var Files embed.FS
