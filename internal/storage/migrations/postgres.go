package migrations

import (
	"context"
	"fmt"

	"trade-signal-pipeline/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Each file runs as a single multi-statement Exec so plpgsql bodies stay
// intact. Files use IF NOT EXISTS / OR REPLACE and are safe to re-run.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := readMigrations(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, f := range files {
		if _, err := pool.Exec(ctx, f.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.name, err)
		}
	}
	return nil
}
