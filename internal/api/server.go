package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"loyaltyledger/internal/config"
	"loyaltyledger/internal/identity"
	"loyaltyledger/internal/ledger"
	"loyaltyledger/internal/reconcile"
	"loyaltyledger/internal/voucher"
)

type Server struct {
	resolver      *identity.Resolver
	ledger        *ledger.Service
	issuer        *voucher.Issuer
	checker       *reconcile.Checker
	catalog       config.Catalog
	apiToken      string
	adminToken    string
	webhookSecret string
	logger        *zap.Logger
}

type Deps struct {
	Resolver      *identity.Resolver
	Ledger        *ledger.Service
	Issuer        *voucher.Issuer
	Checker       *reconcile.Checker
	Catalog       config.Catalog
	APIToken      string
	AdminToken    string
	WebhookSecret string
	Logger        *zap.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		resolver:      deps.Resolver,
		ledger:        deps.Ledger,
		issuer:        deps.Issuer,
		checker:       deps.Checker,
		catalog:       deps.Catalog,
		apiToken:      deps.APIToken,
		adminToken:    deps.AdminToken,
		webhookSecret: deps.WebhookSecret,
		logger:        logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Webhook authenticates by signature, not bearer token.
	r.Post("/v1/webhooks/payment", s.handlePaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth(s.apiToken))
		r.Post("/v1/identity/resolve", s.handleResolve)
		r.Post("/v1/identity/guests", s.handleCreateGuest)
		r.Get("/v1/accounts/{accountID}/balance", s.handleBalance)
		r.Get("/v1/accounts/{accountID}/entries", s.handleEntries)
		r.Get("/v1/accounts/{accountID}/vouchers", s.handleListVouchers)
		r.Get("/v1/rewards", s.handleListRewards)
		r.Post("/v1/rewards/redeem", s.handleRedeemReward)
		r.Post("/v1/vouchers/consume", s.handleConsumeVoucher)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth(s.adminToken))
		r.Post("/v1/admin/accounts/{accountID}/links", s.handleLink)
		r.Post("/v1/admin/accounts/{accountID}/deactivate", s.handleDeactivate)
		r.Post("/v1/admin/adjustments", s.handleAdjustment)
		r.Post("/v1/admin/entries/{entryID}/reverse", s.handleReverse)
		r.Get("/v1/admin/reconciliation", s.handleReconciliation)
		r.Post("/v1/admin/vouchers/expire-sweep", s.handleExpireSweep)
	})

	return r
}

func (s *Server) bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := extractBearerToken(r.Header.Get("Authorization"))
			if !secureCompare(got, token) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
