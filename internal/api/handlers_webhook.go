package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"loyaltyledger/internal/identity"
	"loyaltyledger/internal/ledger"
)

const eventPaymentSucceeded = "payment.succeeded"

type paymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		OrderID     string `json:"order_id"`
		AmountTotal int64  `json:"amount_total"` // cents
		Customer    *struct {
			Scheme     string `json:"scheme"`
			ExternalID string `json:"external_id"`
		} `json:"customer"`
	} `json:"data"`
}

// handlePaymentWebhook credits points for a completed order. The
// processor's event id is the idempotency key, so redelivery of the
// same event never double-credits. Non-payment events and orders
// without a known customer are acknowledged and skipped.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := verifySignature(r.Header.Get(signatureHeader), payload, s.webhookSecret, time.Now()); err != nil {
		s.logger.Warn("webhook signature rejected", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}

	var event paymentEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}

	if event.Type != eventPaymentSucceeded {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if event.Data.Customer == nil {
		s.logger.Info("payment without customer, no points awarded",
			zap.String("event_id", event.ID),
			zap.String("order_id", event.Data.OrderID),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}
	if event.Data.AmountTotal < 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}

	acct, err := s.resolver.Resolve(r.Context(), event.Data.Customer.Scheme, event.Data.Customer.ExternalID)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidScheme), errors.Is(err, identity.ErrInvalidExternal):
			writeError(w, http.StatusBadRequest, "invalid_payload")
		default:
			s.logger.Error("webhook identity resolve failed", zap.String("event_id", event.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	points := event.Data.AmountTotal / 100 * s.catalog.Earning.PointsPerDollar
	if points <= 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}

	balance, err := s.ledger.Earn(r.Context(), ledger.EarnInput{
		AccountID:       acct.ID,
		Amount:          points,
		SourceReference: "order:" + event.Data.OrderID,
		IdempotencyKey:  event.ID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrIdempotencyConflict) {
			// Same event id with a different payload; refuse rather
			// than guess which delivery is authoritative.
			writeError(w, http.StatusUnprocessableEntity, "idempotency_conflict")
			return
		}
		s.logger.Error("webhook earn failed",
			zap.String("event_id", event.ID),
			zap.String("account_id", acct.ID.String()),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	s.logger.Info("points earned",
		zap.String("event_id", event.ID),
		zap.String("order_id", event.Data.OrderID),
		zap.String("account_id", acct.ID.String()),
		zap.Int64("points", points),
		zap.Int64("balance", balance),
	)
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: acct.ID.String(), Balance: balance})
}
