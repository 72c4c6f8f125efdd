// Package reconcile compares the materialized balance of every account
// against the sum of its ledger entries. It is strictly read-only:
// drift is reported, never silently repaired. Corrections go through
// the audited adjustment operation.
package reconcile

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Report struct {
	AccountID     uuid.UUID `json:"account_id"`
	LedgerBalance int64     `json:"ledger_balance"`
	CachedBalance int64     `json:"cached_balance"`
	Drift         int64     `json:"drift"`
}

type Checker struct {
	pool *pgxpool.Pool
}

func NewChecker(pool *pgxpool.Pool) *Checker {
	return &Checker{pool: pool}
}

// CheckAll returns one report per drifted account. An empty result
// means every cached balance equals its ledger-derived value.
func (c *Checker) CheckAll(ctx context.Context) ([]Report, error) {
	return c.check(ctx, `
		SELECT b.account_id,
		       COALESCE(SUM(e.amount), 0) AS ledger_balance,
		       b.balance AS cached_balance
		FROM account_balances b
		LEFT JOIN ledger_entries e ON e.account_id = b.account_id
		GROUP BY b.account_id, b.balance
		HAVING COALESCE(SUM(e.amount), 0) <> b.balance
	`)
}

// CheckAccount reports on a single account whether it drifted or not.
func (c *Checker) CheckAccount(ctx context.Context, accountID uuid.UUID) ([]Report, error) {
	return c.check(ctx, `
		SELECT b.account_id,
		       COALESCE(SUM(e.amount), 0) AS ledger_balance,
		       b.balance AS cached_balance
		FROM account_balances b
		LEFT JOIN ledger_entries e ON e.account_id = b.account_id
		WHERE b.account_id = $1
		GROUP BY b.account_id, b.balance
	`, accountID)
}

func (c *Checker) check(ctx context.Context, query string, args ...any) ([]Report, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var rep Report
		if err := rows.Scan(&rep.AccountID, &rep.LedgerBalance, &rep.CachedBalance); err != nil {
			return nil, err
		}
		rep.Drift = rep.CachedBalance - rep.LedgerBalance
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}
