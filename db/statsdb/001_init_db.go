package statsdb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE snapshots (
			id            INTEGER PRIMARY KEY NOT NULL,
			ts            INTEGER NOT NULL,
			peer_count    INTEGER NOT NULL,
			reaped_total  INTEGER NOT NULL,
			created_total INTEGER NOT NULL
		) STRICT;
	`); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX snapshots_ts_idx ON snapshots(ts)`); err != nil {
		return fmt.Errorf("create snapshots index: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX snapshots_ts_idx`); err != nil {
		return fmt.Errorf("drop snapshots index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE snapshots`); err != nil {
		return fmt.Errorf("drop snapshots table: %w", err)
	}
	return nil
}
