package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"loyaltyledger/internal/ledger"
	"loyaltyledger/internal/voucher"
)

type redeemRequest struct {
	AccountID      string `json:"account_id"`
	RewardID       string `json:"reward_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) handleListRewards(w http.ResponseWriter, _ *http.Request) {
	out := make([]rewardResponse, 0, len(s.catalog.Rewards))
	for _, r := range s.catalog.Rewards {
		out = append(out, toRewardResponse(r))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRedeemReward spends points and issues the voucher. Both halves
// are individually idempotent (entry by idempotency key, voucher by
// redemption entry id), so a retry after a partial failure completes
// the pair without double-spending.
func (s *Server) handleRedeemReward(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_idempotency_key")
		return
	}

	reward, ok := s.catalog.Find(strings.TrimSpace(req.RewardID))
	if !ok {
		writeError(w, http.StatusNotFound, "reward_not_found")
		return
	}

	result, err := s.ledger.Redeem(r.Context(), ledger.RedeemInput{
		AccountID:       accountID,
		Amount:          reward.CostPoints,
		RewardReference: reward.ID,
		IdempotencyKey:  key,
	})
	if err != nil {
		reason := "internal_error"
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			reason = "account_not_found"
			writeError(w, http.StatusNotFound, "account_not_found")
		case errors.Is(err, ledger.ErrInsufficientBalance):
			reason = "insufficient_balance"
			writeError(w, http.StatusConflict, "insufficient_balance")
		case errors.Is(err, ledger.ErrIdempotencyConflict):
			reason = "idempotency_conflict"
			writeError(w, http.StatusUnprocessableEntity, "idempotency_conflict")
		default:
			s.logger.Error("redeem failed", zap.String("account_id", req.AccountID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		s.logger.Info("reward redemption rejected",
			zap.String("account_id", req.AccountID),
			zap.String("reward_id", reward.ID),
			zap.String("reason", reason),
		)
		return
	}

	v, err := s.issuer.Issue(r.Context(), accountID, voucher.RewardSpec{
		DiscountType:   reward.Discount.Type,
		DiscountValue:  reward.Discount.Value,
		MinOrderAmount: reward.Discount.MinOrderAmount,
		ValidityDays:   reward.ValidityDays,
	}, result.EntryID)
	if err != nil {
		s.logger.Error("voucher issue failed",
			zap.String("account_id", req.AccountID),
			zap.Int64("entry_id", result.EntryID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	s.logger.Info("reward redeemed",
		zap.String("account_id", req.AccountID),
		zap.String("reward_id", reward.ID),
		zap.Int64("entry_id", result.EntryID),
		zap.String("voucher_id", v.ID.String()),
		zap.Int64("balance", result.Balance),
	)
	writeJSON(w, http.StatusCreated, redeemResponse{
		Balance: result.Balance,
		EntryID: result.EntryID,
		Voucher: toVoucherResponse(v),
	})
}
