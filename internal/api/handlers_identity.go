package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loyaltyledger/internal/identity"
	"loyaltyledger/internal/ledger"
)

type resolveRequest struct {
	Scheme     string `json:"scheme"`
	ExternalID string `json:"external_id"`
}

type linkRequest struct {
	Scheme     string `json:"scheme"`
	ExternalID string `json:"external_id"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	acct, err := s.resolver.Resolve(r.Context(), strings.TrimSpace(req.Scheme), req.ExternalID)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidScheme), errors.Is(err, identity.ErrInvalidExternal):
			writeError(w, http.StatusBadRequest, "invalid_request")
		default:
			s.logger.Error("identity resolve failed", zap.String("scheme", req.Scheme), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	balance, err := s.ledger.Balance(r.Context(), acct.ID)
	if err != nil {
		s.logger.Error("balance read failed", zap.String("account_id", acct.ID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	s.logger.Info("identity resolved",
		zap.String("scheme", req.Scheme),
		zap.String("account_id", acct.ID.String()),
	)
	writeJSON(w, http.StatusOK, toAccountResponse(acct, balance))
}

// handleCreateGuest opens an account with no external ids, for orders
// placed without a sign-in. It can be linked to a real identity later.
func (s *Server) handleCreateGuest(w http.ResponseWriter, r *http.Request) {
	acct, err := s.resolver.CreateGuest(r.Context())
	if err != nil {
		s.logger.Error("guest account creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	s.logger.Info("guest account created", zap.String("account_id", acct.ID.String()))
	writeJSON(w, http.StatusCreated, toAccountResponse(acct, 0))
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}

	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	err = s.resolver.Link(r.Context(), accountID, strings.TrimSpace(req.Scheme), req.ExternalID)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidScheme), errors.Is(err, identity.ErrInvalidExternal):
			writeError(w, http.StatusBadRequest, "invalid_request")
		case errors.Is(err, identity.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "account_not_found")
		case errors.Is(err, identity.ErrLinkConflict):
			writeError(w, http.StatusConflict, "link_conflict")
		default:
			s.logger.Error("identity link failed", zap.String("account_id", accountID.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("external id linked",
		zap.String("account_id", accountID.String()),
		zap.String("scheme", req.Scheme),
	)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeactivate retires an account. The row and its ledger history
// stay; only the status flips.
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}

	if err := s.resolver.Deactivate(r.Context(), accountID); err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account_not_found")
			return
		}
		s.logger.Error("account deactivation failed", zap.String("account_id", accountID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	s.logger.Info("account deactivated", zap.String("account_id", accountID.String()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}

	balance, err := s.ledger.Balance(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account_not_found")
			return
		}
		s.logger.Error("balance read failed", zap.String("account_id", accountID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{AccountID: accountID.String(), Balance: balance})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}

	filter := ledger.EntryFilter{Kind: r.URL.Query().Get("kind")}
	entries, err := s.ledger.Entries(r.Context(), accountID, filter)
	if err != nil {
		s.logger.Error("entries read failed", zap.String("account_id", accountID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}
