package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loyaltyledger/internal/ledger"
)

type adjustmentRequest struct {
	AccountID      string `json:"account_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	Actor          string `json:"actor"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type reverseRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (s *Server) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}

	balance, err := s.ledger.Adjust(r.Context(), ledger.AdjustInput{
		AccountID:      accountID,
		Amount:         req.Amount,
		Reason:         strings.TrimSpace(req.Reason),
		Actor:          strings.TrimSpace(req.Actor),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrReasonRequired):
			writeError(w, http.StatusBadRequest, "invalid_request")
		case errors.Is(err, ledger.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "account_not_found")
		case errors.Is(err, ledger.ErrInsufficientBalance):
			writeError(w, http.StatusConflict, "insufficient_balance")
		case errors.Is(err, ledger.ErrIdempotencyConflict):
			writeError(w, http.StatusUnprocessableEntity, "idempotency_conflict")
		default:
			s.logger.Error("adjustment failed", zap.String("account_id", req.AccountID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("balance adjusted",
		zap.String("account_id", req.AccountID),
		zap.Int64("amount", req.Amount),
		zap.String("reason", req.Reason),
		zap.String("actor", req.Actor),
		zap.Int64("balance", balance),
	)
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: req.AccountID, Balance: balance})
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil || entryID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_entry_id")
		return
	}

	var req reverseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	balance, err := s.ledger.Reverse(r.Context(), entryID, strings.TrimSpace(req.Reason), strings.TrimSpace(req.Actor))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrReasonRequired):
			writeError(w, http.StatusBadRequest, "invalid_request")
		case errors.Is(err, ledger.ErrEntryNotFound):
			writeError(w, http.StatusNotFound, "entry_not_found")
		case errors.Is(err, ledger.ErrAlreadyReversed):
			writeError(w, http.StatusConflict, "already_reversed")
		case errors.Is(err, ledger.ErrVoucherConsumed):
			writeError(w, http.StatusConflict, "voucher_consumed")
		case errors.Is(err, ledger.ErrNotReversible):
			writeError(w, http.StatusUnprocessableEntity, "not_reversible")
		default:
			s.logger.Error("reverse failed", zap.Int64("entry_id", entryID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("entry reversed",
		zap.Int64("entry_id", entryID),
		zap.String("actor", req.Actor),
		zap.Int64("balance", balance),
	)
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if raw != "" {
		accountID, err := parseAccountID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_account_id")
			return
		}
		reports, err := s.checker.CheckAccount(r.Context(), accountID)
		if err != nil {
			s.logger.Error("reconciliation failed", zap.String("account_id", raw), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, reports)
		return
	}

	reports, err := s.checker.CheckAll(r.Context())
	if err != nil {
		s.logger.Error("reconciliation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if len(reports) > 0 {
		s.logger.Warn("balance drift detected", zap.Int("accounts", len(reports)))
	}
	writeJSON(w, http.StatusOK, reports)
}
