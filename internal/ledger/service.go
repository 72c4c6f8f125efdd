// Package ledger holds the append-only points ledger and the operations
// that mutate it. Balance is always the sum of entries; the
// account_balances row is a materialized aggregate maintained in the
// same transaction as every insert and doubles as the per-account lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loyaltyledger/internal/pgerr"
	"loyaltyledger/internal/pgtx"
)

type Service struct {
	pool        *pgxpool.Pool
	stmtTimeout time.Duration
}

func NewService(pool *pgxpool.Pool, stmtTimeout time.Duration) *Service {
	return &Service{pool: pool, stmtTimeout: stmtTimeout}
}

func (s *Service) begin(ctx context.Context) (pgx.Tx, error) {
	return pgtx.Begin(ctx, s.pool, s.stmtTimeout)
}

// Earn credits points. A replay of the same idempotency key is not an
// error: the entry is written at most once and the current balance is
// returned unchanged. This is the single duplication guard for retried
// payment webhooks.
func (s *Service) Earn(ctx context.Context, input EarnInput) (int64, error) {
	if input.Amount <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	balance, err := lockBalance(ctx, tx, input.AccountID)
	if err != nil {
		return 0, err
	}

	existing, err := entryByKey(ctx, tx, input.IdempotencyKey)
	if err == nil {
		if existing.AccountID != input.AccountID || existing.Kind != KindEarn || existing.Amount != input.Amount {
			return 0, ErrIdempotencyConflict
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, err
		}
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	if _, err := insertEntry(ctx, tx, Entry{
		AccountID:       input.AccountID,
		Kind:            KindEarn,
		Amount:          input.Amount,
		SourceReference: nullable(input.SourceReference),
		IdempotencyKey:  input.IdempotencyKey,
	}); err != nil {
		if pgerr.UniqueViolation(err) {
			return 0, ErrIdempotencyConflict
		}
		return 0, err
	}

	newBalance := balance + input.Amount
	if err := setBalance(ctx, tx, input.AccountID, newBalance); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Redeem debits points. The balance check and the insert share one
// transaction under the account's row lock, so two concurrent
// redemptions can never both pass the check.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) (RedeemResult, error) {
	if input.Amount <= 0 {
		return RedeemResult{}, ErrInvalidAmount
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return RedeemResult{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	balance, err := lockBalance(ctx, tx, input.AccountID)
	if err != nil {
		return RedeemResult{}, err
	}

	existing, err := entryByKey(ctx, tx, input.IdempotencyKey)
	if err == nil {
		if existing.AccountID != input.AccountID || existing.Kind != KindRedeem || existing.Amount != -input.Amount {
			return RedeemResult{}, ErrIdempotencyConflict
		}
		if err := tx.Commit(ctx); err != nil {
			return RedeemResult{}, err
		}
		return RedeemResult{Balance: balance, EntryID: existing.ID}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RedeemResult{}, err
	}

	if balance < input.Amount {
		return RedeemResult{}, ErrInsufficientBalance
	}

	entryID, err := insertEntry(ctx, tx, Entry{
		AccountID:       input.AccountID,
		Kind:            KindRedeem,
		Amount:          -input.Amount,
		SourceReference: nullable(input.RewardReference),
		IdempotencyKey:  input.IdempotencyKey,
	})
	if err != nil {
		if pgerr.UniqueViolation(err) {
			return RedeemResult{}, ErrIdempotencyConflict
		}
		return RedeemResult{}, err
	}

	newBalance := balance - input.Amount
	if err := setBalance(ctx, tx, input.AccountID, newBalance); err != nil {
		return RedeemResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return RedeemResult{}, err
	}
	return RedeemResult{Balance: newBalance, EntryID: entryID}, nil
}

// Reverse undoes a prior earn, redeem, or adjustment by appending a
// reversal entry with the negated amount. An entry can be reversed at
// most once. A reversal may take the balance negative when the original
// credit was already spent; redemption is still the only operation the
// non-negative invariant guards.
//
// Reversing a redeem also voids its voucher in the same transaction, so
// the customer gets the points back but not the discount code too. If
// that voucher was already consumed the reversal is refused.
func (s *Service) Reverse(ctx context.Context, entryID int64, reason, actor string) (int64, error) {
	if reason == "" || actor == "" {
		return 0, ErrReasonRequired
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	orig, err := entryByID(ctx, tx, entryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrEntryNotFound
		}
		return 0, err
	}
	if orig.Kind == KindReversal {
		return 0, ErrNotReversible
	}

	balance, err := lockBalance(ctx, tx, orig.AccountID)
	if err != nil {
		return 0, err
	}

	var reversed bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE reverses_entry_id = $1)
	`, entryID).Scan(&reversed); err != nil {
		return 0, err
	}
	if reversed {
		return 0, ErrAlreadyReversed
	}

	if orig.Kind == KindRedeem {
		if err := voidVoucher(ctx, tx, orig.ID); err != nil {
			return 0, err
		}
	}

	if _, err := insertEntry(ctx, tx, Entry{
		AccountID:       orig.AccountID,
		Kind:            KindReversal,
		Amount:          -orig.Amount,
		ReversesEntryID: &orig.ID,
		IdempotencyKey:  fmt.Sprintf("reversal:%d", orig.ID),
		Reason:          &reason,
		Actor:           &actor,
	}); err != nil {
		if pgerr.UniqueViolation(err) {
			return 0, ErrAlreadyReversed
		}
		return 0, err
	}

	newBalance := balance - orig.Amount
	if err := setBalance(ctx, tx, orig.AccountID, newBalance); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Adjust is the audited manual correction path. It always carries a
// human-readable reason and the acting operator; a debit may not take
// the balance negative.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (int64, error) {
	if input.Amount == 0 {
		return 0, ErrInvalidAmount
	}
	if input.Reason == "" || input.Actor == "" {
		return 0, ErrReasonRequired
	}
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = "adjustment:" + uuid.NewString()
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	balance, err := lockBalance(ctx, tx, input.AccountID)
	if err != nil {
		return 0, err
	}

	existing, err := entryByKey(ctx, tx, input.IdempotencyKey)
	if err == nil {
		if existing.AccountID != input.AccountID || existing.Kind != KindAdjustment || existing.Amount != input.Amount {
			return 0, ErrIdempotencyConflict
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, err
		}
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	if balance+input.Amount < 0 {
		return 0, ErrInsufficientBalance
	}

	if _, err := insertEntry(ctx, tx, Entry{
		AccountID:      input.AccountID,
		Kind:           KindAdjustment,
		Amount:         input.Amount,
		IdempotencyKey: input.IdempotencyKey,
		Reason:         &input.Reason,
		Actor:          &input.Actor,
	}); err != nil {
		if pgerr.UniqueViolation(err) {
			return 0, ErrIdempotencyConflict
		}
		return 0, err
	}

	newBalance := balance + input.Amount
	if err := setBalance(ctx, tx, input.AccountID, newBalance); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Balance reads the materialized aggregate. It is rebuilt in the same
// transaction as every insert, so it always equals the ledger sum.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `
		SELECT balance FROM account_balances WHERE account_id = $1
	`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (s *Service) Entries(ctx context.Context, accountID uuid.UUID, filter EntryFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, account_id, kind, amount, source_reference, reverses_entry_id,
		       idempotency_key, reason, actor, created_at
		FROM ledger_entries
		WHERE account_id = $1
	`
	args := []any{accountID}
	if filter.Kind != "" {
		query += " AND kind = $2"
		args = append(args, filter.Kind)
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.SourceReference,
			&e.ReversesEntryID, &e.IdempotencyKey, &e.Reason, &e.Actor, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func lockBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT balance FROM account_balances WHERE account_id = $1 FOR UPDATE
	`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func entryByKey(ctx context.Context, tx pgx.Tx, key string) (Entry, error) {
	var e Entry
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, kind, amount, source_reference, reverses_entry_id,
		       idempotency_key, reason, actor, created_at
		FROM ledger_entries
		WHERE idempotency_key = $1
	`, key).Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.SourceReference,
		&e.ReversesEntryID, &e.IdempotencyKey, &e.Reason, &e.Actor, &e.CreatedAt,
	)
	return e, err
}

func entryByID(ctx context.Context, tx pgx.Tx, id int64) (Entry, error) {
	var e Entry
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, kind, amount, source_reference, reverses_entry_id,
		       idempotency_key, reason, actor, created_at
		FROM ledger_entries
		WHERE id = $1
	`, id).Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.SourceReference,
		&e.ReversesEntryID, &e.IdempotencyKey, &e.Reason, &e.Actor, &e.CreatedAt,
	)
	return e, err
}

func insertEntry(ctx context.Context, tx pgx.Tx, e Entry) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries
		    (account_id, kind, amount, source_reference, reverses_entry_id, idempotency_key, reason, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		e.AccountID, e.Kind, e.Amount, e.SourceReference,
		e.ReversesEntryID, e.IdempotencyKey, e.Reason, e.Actor,
	).Scan(&id)
	return id, err
}

// voidVoucher locks the voucher issued for a redemption entry and
// retires it. A redemption that never produced a voucher is fine; one
// whose voucher was already spent fails with ErrVoucherConsumed.
func voidVoucher(ctx context.Context, tx pgx.Tx, redemptionEntryID int64) error {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT status FROM vouchers WHERE redemption_entry_id = $1 FOR UPDATE
	`, redemptionEntryID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if status == "used" {
		return ErrVoucherConsumed
	}
	_, err = tx.Exec(ctx, `
		UPDATE vouchers SET status = 'void' WHERE redemption_entry_id = $1
	`, redemptionEntryID)
	return err
}

func setBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, balance int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE account_balances SET balance = $1 WHERE account_id = $2
	`, balance, accountID)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
