// Package sqlite implements the tracking repositories on SQLite for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xenking/pickup-proximity/db"
)

// Open opens (or creates) the database at dsn and applies the schema. A
// plain file path or a "file:" URI are both accepted.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = "pickup.db"
	}
	d, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One writer at a time; transactions hold the only connection.
	d.SetMaxOpenConns(1)

	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	// journal_mode may not be supported in some contexts (e.g., in-memory).
	_, _ = d.ExecContext(ctx, `PRAGMA journal_mode=WAL`)
	for _, pragma := range []string{`PRAGMA busy_timeout=5000`, `PRAGMA foreign_keys=ON`} {
		if _, err := d.ExecContext(ctx, pragma); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := d.ExecContext(ctx, db.SQLiteSchema); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}
