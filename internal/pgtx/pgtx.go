// Package pgtx begins pool transactions with a bounded statement
// timeout, so a transaction holding row locks cannot stall behind a
// slow statement indefinitely.
package pgtx

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Begin opens a transaction and applies stmtTimeout to every statement
// inside it. A zero timeout leaves the server default in place.
func Begin(ctx context.Context, pool *pgxpool.Pool, stmtTimeout time.Duration) (pgx.Tx, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if stmtTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", stmtTimeout.Milliseconds())); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
	}
	return tx, nil
}
