// Package identity maps external identity schemes onto canonical
// account ids. Every external id belongs to exactly one account; an
// account id is generated once and never derived from another id space.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loyaltyledger/internal/pgerr"
	"loyaltyledger/internal/pgtx"
)

const (
	SchemeLegacy       = "legacy"
	SchemeAuthProvider = "authprovider"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	ErrInvalidScheme   = errors.New("invalid scheme")
	ErrInvalidExternal = errors.New("invalid external id")
	ErrAccountNotFound = errors.New("account not found")
	ErrLinkConflict    = errors.New("external id linked to another account")
)

type Account struct {
	ID        uuid.UUID
	Status    string
	CreatedAt time.Time
}

type Resolver struct {
	pool        *pgxpool.Pool
	stmtTimeout time.Duration
}

func NewResolver(pool *pgxpool.Pool, stmtTimeout time.Duration) *Resolver {
	return &Resolver{pool: pool, stmtTimeout: stmtTimeout}
}

func validScheme(scheme string) bool {
	return scheme == SchemeLegacy || scheme == SchemeAuthProvider
}

// Resolve returns the account for (scheme, externalID), creating one on
// first sight. Two racing first-time resolutions converge on a single
// account: the loser of the unique-constraint race rolls back its
// provisional account and adopts the winner's mapping.
func (r *Resolver) Resolve(ctx context.Context, scheme, externalID string) (Account, error) {
	if !validScheme(scheme) {
		return Account{}, ErrInvalidScheme
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Account{}, ErrInvalidExternal
	}

	if acct, err := r.lookup(ctx, scheme, externalID); err == nil {
		return acct, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, err
	}

	acct, err := r.createMapped(ctx, scheme, externalID)
	if err == nil {
		return acct, nil
	}
	if pgerr.UniqueViolation(err) {
		// Lost the first-resolution race; the mapping now exists.
		acct, lerr := r.lookup(ctx, scheme, externalID)
		if lerr != nil {
			return Account{}, lerr
		}
		return acct, nil
	}
	return Account{}, err
}

func (r *Resolver) lookup(ctx context.Context, scheme, externalID string) (Account, error) {
	var acct Account
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.status, a.created_at
		FROM account_external_ids m
		JOIN accounts a ON a.id = m.account_id
		WHERE m.scheme = $1 AND m.external_id = $2
	`, scheme, externalID).Scan(&acct.ID, &acct.Status, &acct.CreatedAt)
	return acct, err
}

func (r *Resolver) createMapped(ctx context.Context, scheme, externalID string) (Account, error) {
	tx, err := pgtx.Begin(ctx, r.pool, r.stmtTimeout)
	if err != nil {
		return Account{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var acct Account
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts DEFAULT VALUES
		RETURNING id, status, created_at
	`).Scan(&acct.ID, &acct.Status, &acct.CreatedAt)
	if err != nil {
		return Account{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO account_balances (account_id, balance) VALUES ($1, 0)
	`, acct.ID); err != nil {
		return Account{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO account_external_ids (scheme, external_id, account_id)
		VALUES ($1, $2, $3)
	`, scheme, externalID, acct.ID); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// CreateGuest creates an account with no external ids, for orders placed
// without a sign-in.
func (r *Resolver) CreateGuest(ctx context.Context) (Account, error) {
	tx, err := pgtx.Begin(ctx, r.pool, r.stmtTimeout)
	if err != nil {
		return Account{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var acct Account
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts DEFAULT VALUES
		RETURNING id, status, created_at
	`).Scan(&acct.ID, &acct.Status, &acct.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO account_balances (account_id, balance) VALUES ($1, 0)
	`, acct.ID); err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Link attaches an external id to an existing account. Linking the same
// pair twice is a no-op; a pair already owned by a different account
// fails with ErrLinkConflict, never a silent overwrite.
func (r *Resolver) Link(ctx context.Context, accountID uuid.UUID, scheme, externalID string) error {
	if !validScheme(scheme) {
		return ErrInvalidScheme
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ErrInvalidExternal
	}

	if _, err := r.Get(ctx, accountID); err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO account_external_ids (scheme, external_id, account_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (scheme, external_id) DO NOTHING
	`, scheme, externalID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := r.lookup(ctx, scheme, externalID)
	if err != nil {
		return err
	}
	if existing.ID != accountID {
		return ErrLinkConflict
	}
	return nil
}

func (r *Resolver) Get(ctx context.Context, accountID uuid.UUID) (Account, error) {
	var acct Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, status, created_at FROM accounts WHERE id = $1
	`, accountID).Scan(&acct.ID, &acct.Status, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return acct, nil
}

// Deactivate marks an account inactive. Accounts are never deleted.
func (r *Resolver) Deactivate(ctx context.Context, accountID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET status = $1 WHERE id = $2
	`, StatusInactive, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
