package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loyaltyledger/internal/voucher"
)

type consumeRequest struct {
	Code      string `json:"code"`
	AccountID string `json:"account_id"`
	OrderID   string `json:"order_id"`
	Subtotal  int64  `json:"subtotal"`
}

func (s *Server) handleConsumeVoucher(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.OrderID) == "" || req.Subtotal < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	applied, err := s.issuer.Consume(r.Context(), req.Code, accountID, voucher.OrderContext{
		OrderID:  strings.TrimSpace(req.OrderID),
		Subtotal: req.Subtotal,
	})
	if err != nil {
		reason := "internal_error"
		switch {
		case errors.Is(err, voucher.ErrNotFound):
			reason = "voucher_not_found"
			writeError(w, http.StatusNotFound, "voucher_not_found")
		case errors.Is(err, voucher.ErrExpired):
			reason = "voucher_expired"
			writeError(w, http.StatusConflict, "voucher_expired")
		case errors.Is(err, voucher.ErrAlreadyUsed):
			reason = "voucher_used"
			writeError(w, http.StatusConflict, "voucher_used")
		case errors.Is(err, voucher.ErrMinOrderNotMet):
			reason = "min_order_not_met"
			writeError(w, http.StatusUnprocessableEntity, "min_order_not_met")
		default:
			s.logger.Error("voucher consume failed", zap.String("account_id", req.AccountID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		s.logger.Info("voucher consume rejected",
			zap.String("account_id", req.AccountID),
			zap.String("order_id", req.OrderID),
			zap.String("reason", reason),
		)
		return
	}

	s.logger.Info("voucher consumed",
		zap.String("account_id", req.AccountID),
		zap.String("order_id", req.OrderID),
		zap.String("voucher_id", applied.VoucherID.String()),
		zap.Int64("discount", applied.Amount),
	)
	writeJSON(w, http.StatusOK, discountResponse{
		VoucherID:    applied.VoucherID.String(),
		Code:         applied.Code,
		DiscountType: applied.DiscountType,
		Amount:       applied.Amount,
	})
}

func (s *Server) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}

	vouchers, err := s.issuer.ListByAccount(r.Context(), accountID)
	if err != nil {
		s.logger.Error("voucher list failed", zap.String("account_id", accountID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]voucherResponse, 0, len(vouchers))
	for _, v := range vouchers {
		out = append(out, toVoucherResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExpireSweep(w http.ResponseWriter, r *http.Request) {
	count, err := s.issuer.ExpireSweep(r.Context(), time.Now().UTC())
	if err != nil {
		s.logger.Error("expire sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	s.logger.Info("expire sweep completed", zap.Int64("expired", count))
	writeJSON(w, http.StatusOK, map[string]int64{"expired": count})
}
