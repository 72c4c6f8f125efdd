package ledger

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrIdempotencyConflict = errors.New("idempotency conflict")
	ErrAccountNotFound     = errors.New("account not found")
	ErrEntryNotFound       = errors.New("entry not found")
	ErrAlreadyReversed     = errors.New("entry already reversed")
	ErrNotReversible       = errors.New("entry kind is not reversible")
	ErrVoucherConsumed     = errors.New("voucher from this redemption already used")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrReasonRequired      = errors.New("reason and actor are required")
)
