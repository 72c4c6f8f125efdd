package api

import (
	"time"

	"loyaltyledger/internal/config"
	"loyaltyledger/internal/identity"
	"loyaltyledger/internal/ledger"
	"loyaltyledger/internal/voucher"
)

type accountResponse struct {
	AccountID string    `json:"account_id"`
	Status    string    `json:"status"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type balanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type entryResponse struct {
	ID              int64     `json:"id"`
	AccountID       string    `json:"account_id"`
	Kind            string    `json:"kind"`
	Amount          int64     `json:"amount"`
	SourceReference *string   `json:"source_reference,omitempty"`
	ReversesEntryID *int64    `json:"reverses_entry_id,omitempty"`
	IdempotencyKey  string    `json:"idempotency_key"`
	Reason          *string   `json:"reason,omitempty"`
	Actor           *string   `json:"actor,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type voucherResponse struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id"`
	Code           string     `json:"code"`
	DiscountType   string     `json:"discount_type"`
	DiscountValue  int64      `json:"discount_value"`
	MinOrderAmount int64      `json:"min_order_amount"`
	Status         string     `json:"status"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedByOrder    *string    `json:"used_by_order,omitempty"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type redeemResponse struct {
	Balance int64           `json:"balance"`
	EntryID int64           `json:"entry_id"`
	Voucher voucherResponse `json:"voucher"`
}

type discountResponse struct {
	VoucherID    string `json:"voucher_id"`
	Code         string `json:"code"`
	DiscountType string `json:"discount_type"`
	Amount       int64  `json:"amount"`
}

type rewardResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CostPoints     int64  `json:"cost_points"`
	DiscountType   string `json:"discount_type"`
	DiscountValue  int64  `json:"discount_value"`
	MinOrderAmount int64  `json:"min_order_amount"`
	ValidityDays   int    `json:"validity_days"`
}

func toAccountResponse(a identity.Account, balance int64) accountResponse {
	return accountResponse{
		AccountID: a.ID.String(),
		Status:    a.Status,
		Balance:   balance,
		CreatedAt: a.CreatedAt,
	}
}

func toEntryResponse(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:              e.ID,
		AccountID:       e.AccountID.String(),
		Kind:            e.Kind,
		Amount:          e.Amount,
		SourceReference: e.SourceReference,
		ReversesEntryID: e.ReversesEntryID,
		IdempotencyKey:  e.IdempotencyKey,
		Reason:          e.Reason,
		Actor:           e.Actor,
		CreatedAt:       e.CreatedAt,
	}
}

func toVoucherResponse(v voucher.Voucher) voucherResponse {
	return voucherResponse{
		ID:             v.ID.String(),
		AccountID:      v.AccountID.String(),
		Code:           v.Code,
		DiscountType:   v.DiscountType,
		DiscountValue:  v.DiscountValue,
		MinOrderAmount: v.MinOrderAmount,
		Status:         v.Status,
		ExpiresAt:      v.ExpiresAt,
		UsedByOrder:    v.UsedByOrder,
		UsedAt:         v.UsedAt,
		CreatedAt:      v.CreatedAt,
	}
}

func toRewardResponse(r config.Reward) rewardResponse {
	return rewardResponse{
		ID:             r.ID,
		Name:           r.Name,
		CostPoints:     r.CostPoints,
		DiscountType:   r.Discount.Type,
		DiscountValue:  r.Discount.Value,
		MinOrderAmount: r.Discount.MinOrderAmount,
		ValidityDays:   r.ValidityDays,
	}
}
