// Package voucher turns a points redemption into a one-time discount
// code with an expiry.
package voucher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"loyaltyledger/internal/pgerr"
	"loyaltyledger/internal/pgtx"
)

const (
	StatusActive  = "active"
	StatusUsed    = "used"
	StatusExpired = "expired"
	StatusVoid    = "void"
)

const (
	DiscountFixed       = "fixed"
	DiscountPercentage  = "percentage"
	DiscountDeliveryFee = "delivery_fee"
)

var (
	ErrNotFound       = errors.New("voucher not found")
	ErrExpired        = errors.New("voucher expired")
	ErrAlreadyUsed    = errors.New("voucher already used")
	ErrMinOrderNotMet = errors.New("minimum order amount not met")
)

type Voucher struct {
	ID                uuid.UUID
	AccountID         uuid.UUID
	Code              string
	DiscountType      string
	DiscountValue     int64
	MinOrderAmount    int64
	Status            string
	ExpiresAt         time.Time
	RedemptionEntryID int64
	UsedByOrder       *string
	UsedAt            *time.Time
	CreatedAt         time.Time
}

// RewardSpec is what a redemption buys: the discount terms and how long
// the resulting code stays valid.
type RewardSpec struct {
	DiscountType   string
	DiscountValue  int64
	MinOrderAmount int64
	ValidityDays   int
}

type OrderContext struct {
	OrderID  string
	Subtotal int64
}

// DiscountApplication is the amount to subtract from an order after a
// successful consume.
type DiscountApplication struct {
	VoucherID    uuid.UUID
	Code         string
	DiscountType string
	Amount       int64
}

type Issuer struct {
	pool        *pgxpool.Pool
	stmtTimeout time.Duration
}

func NewIssuer(pool *pgxpool.Pool, stmtTimeout time.Duration) *Issuer {
	return &Issuer{pool: pool, stmtTimeout: stmtTimeout}
}

// Issue creates an active voucher for a redemption ledger entry. The
// unique constraint on redemption_entry_id makes re-issue after a
// partial failure return the already-issued voucher instead of minting
// a second code for the same spent points. Code collisions are retried.
func (i *Issuer) Issue(ctx context.Context, accountID uuid.UUID, spec RewardSpec, redemptionEntryID int64) (Voucher, error) {
	expiresAt := time.Now().UTC().Add(time.Duration(spec.ValidityDays) * 24 * time.Hour)

	for attempt := 0; attempt < 5; attempt++ {
		code, err := generateCode()
		if err != nil {
			return Voucher{}, err
		}

		var v Voucher
		err = i.pool.QueryRow(ctx, `
			INSERT INTO vouchers
			    (account_id, code, discount_type, discount_value, min_order_amount, expires_at, redemption_entry_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, account_id, code, discount_type, discount_value, min_order_amount,
			          status, expires_at, redemption_entry_id, used_by_order, used_at, created_at
		`,
			accountID, code, spec.DiscountType, spec.DiscountValue,
			spec.MinOrderAmount, expiresAt, redemptionEntryID,
		).Scan(
			&v.ID, &v.AccountID, &v.Code, &v.DiscountType, &v.DiscountValue, &v.MinOrderAmount,
			&v.Status, &v.ExpiresAt, &v.RedemptionEntryID, &v.UsedByOrder, &v.UsedAt, &v.CreatedAt,
		)
		if err == nil {
			return v, nil
		}
		if pgerr.UniqueViolation(err) {
			if constraintColumn(err) == "code" {
				continue
			}
			return i.byRedemptionEntry(ctx, redemptionEntryID)
		}
		return Voucher{}, err
	}
	return Voucher{}, errors.New("voucher code collision retries exhausted")
}

// Consume transitions a voucher active→used exactly once, inside one
// transaction with the order-context checks, and returns the discount
// to apply.
func (i *Issuer) Consume(ctx context.Context, code string, accountID uuid.UUID, order OrderContext) (DiscountApplication, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	tx, err := pgtx.Begin(ctx, i.pool, i.stmtTimeout)
	if err != nil {
		return DiscountApplication{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var v Voucher
	err = tx.QueryRow(ctx, `
		SELECT id, account_id, code, discount_type, discount_value, min_order_amount,
		       status, expires_at, redemption_entry_id, used_by_order, used_at, created_at
		FROM vouchers
		WHERE code = $1
		FOR UPDATE
	`, code).Scan(
		&v.ID, &v.AccountID, &v.Code, &v.DiscountType, &v.DiscountValue, &v.MinOrderAmount,
		&v.Status, &v.ExpiresAt, &v.RedemptionEntryID, &v.UsedByOrder, &v.UsedAt, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DiscountApplication{}, ErrNotFound
		}
		return DiscountApplication{}, err
	}

	if v.AccountID != accountID || v.Status == StatusVoid {
		return DiscountApplication{}, ErrNotFound
	}
	if v.Status == StatusUsed {
		return DiscountApplication{}, ErrAlreadyUsed
	}
	if expiredAt(v, time.Now()) {
		return DiscountApplication{}, ErrExpired
	}
	if order.Subtotal < v.MinOrderAmount {
		return DiscountApplication{}, ErrMinOrderNotMet
	}

	if _, err := tx.Exec(ctx, `
		UPDATE vouchers SET status = $1, used_by_order = $2, used_at = now() WHERE id = $3
	`, StatusUsed, order.OrderID, v.ID); err != nil {
		return DiscountApplication{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return DiscountApplication{}, err
	}

	return DiscountApplication{
		VoucherID:    v.ID,
		Code:         v.Code,
		DiscountType: v.DiscountType,
		Amount:       discountAmount(v, order.Subtotal),
	}, nil
}

// expiredAt checks expiry by timestamp, not just status: a code past
// its expiry is rejected even if the sweep has not run yet. expires_at
// itself is the last valid instant; only a strictly later clock expires
// the voucher.
func expiredAt(v Voucher, now time.Time) bool {
	return v.Status == StatusExpired || now.After(v.ExpiresAt)
}

// ExpireSweep batch-transitions active vouchers past their expiry.
// Repeated runs are no-ops for rows already swept.
func (i *Issuer) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := i.pool.Exec(ctx, `
		UPDATE vouchers SET status = $1 WHERE status = $2 AND expires_at < $3
	`, StatusExpired, StatusActive, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (i *Issuer) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Voucher, error) {
	rows, err := i.pool.Query(ctx, `
		SELECT id, account_id, code, discount_type, discount_value, min_order_amount,
		       status, expires_at, redemption_entry_id, used_by_order, used_at, created_at
		FROM vouchers
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vouchers []Voucher
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(
			&v.ID, &v.AccountID, &v.Code, &v.DiscountType, &v.DiscountValue, &v.MinOrderAmount,
			&v.Status, &v.ExpiresAt, &v.RedemptionEntryID, &v.UsedByOrder, &v.UsedAt, &v.CreatedAt,
		); err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

func (i *Issuer) byRedemptionEntry(ctx context.Context, redemptionEntryID int64) (Voucher, error) {
	var v Voucher
	err := i.pool.QueryRow(ctx, `
		SELECT id, account_id, code, discount_type, discount_value, min_order_amount,
		       status, expires_at, redemption_entry_id, used_by_order, used_at, created_at
		FROM vouchers
		WHERE redemption_entry_id = $1
	`, redemptionEntryID).Scan(
		&v.ID, &v.AccountID, &v.Code, &v.DiscountType, &v.DiscountValue, &v.MinOrderAmount,
		&v.Status, &v.ExpiresAt, &v.RedemptionEntryID, &v.UsedByOrder, &v.UsedAt, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrNotFound
		}
		return Voucher{}, err
	}
	return v, nil
}

func discountAmount(v Voucher, subtotal int64) int64 {
	switch v.DiscountType {
	case DiscountPercentage:
		return subtotal * v.DiscountValue / 100
	default:
		return v.DiscountValue
	}
}

func constraintColumn(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	if strings.Contains(pgErr.ConstraintName, "code") {
		return "code"
	}
	return pgErr.ConstraintName
}
