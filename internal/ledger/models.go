package ledger

import (
	"time"

	"github.com/google/uuid"
)

const (
	KindEarn       = "earn"
	KindRedeem     = "redeem"
	KindReversal   = "reversal"
	KindAdjustment = "adjustment"
)

// Entry is immutable once written. Corrections are new reversal entries
// referencing the original; entries are never updated or deleted.
type Entry struct {
	ID              int64
	AccountID       uuid.UUID
	Kind            string
	Amount          int64
	SourceReference *string
	ReversesEntryID *int64
	IdempotencyKey  string
	Reason          *string
	Actor           *string
	CreatedAt       time.Time
}

type EarnInput struct {
	AccountID       uuid.UUID
	Amount          int64
	SourceReference string
	IdempotencyKey  string
}

type RedeemInput struct {
	AccountID       uuid.UUID
	Amount          int64
	RewardReference string
	IdempotencyKey  string
}

type RedeemResult struct {
	Balance int64
	EntryID int64
}

type AdjustInput struct {
	AccountID      uuid.UUID
	Amount         int64
	Reason         string
	Actor          string
	IdempotencyKey string
}

type EntryFilter struct {
	Kind  string
	Limit int
}
