package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"loyaltyledger/internal/api"
	"loyaltyledger/internal/config"
	"loyaltyledger/internal/identity"
	"loyaltyledger/internal/ledger"
	"loyaltyledger/internal/reconcile"
	"loyaltyledger/internal/voucher"
)

func main() {
	// Environment variables may also come from the shell or the
	// deployment platform; a missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	catalog, err := config.LoadCatalog(cfg.RewardsFile)
	if err != nil {
		log.Fatalf("rewards catalog error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()

	ledgerSvc := ledger.NewService(pool, cfg.StatementTimeout)
	issuer := voucher.NewIssuer(pool, cfg.StatementTimeout)
	checker := reconcile.NewChecker(pool)

	srv := api.NewServer(api.Deps{
		Resolver:      identity.NewResolver(pool, cfg.StatementTimeout),
		Ledger:        ledgerSvc,
		Issuer:        issuer,
		Checker:       checker,
		Catalog:       catalog,
		APIToken:      cfg.APIToken,
		AdminToken:    cfg.AdminToken,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	maintCtx, stopMaint := context.WithCancel(ctx)
	go runMaintenance(maintCtx, logger, issuer, checker, cfg.SweepInterval, cfg.ReconcileInterval)

	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopMaint()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

// runMaintenance periodically expires vouchers and checks for balance
// drift. Both jobs are idempotent, so overlapping restarts are safe.
func runMaintenance(
	ctx context.Context,
	logger *zap.Logger,
	issuer *voucher.Issuer,
	checker *reconcile.Checker,
	sweepInterval, reconcileInterval time.Duration,
) {
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	check := time.NewTicker(reconcileInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			count, err := issuer.ExpireSweep(ctx, time.Now().UTC())
			if err != nil {
				logger.Error("expire sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Info("vouchers expired", zap.Int64("count", count))
			}
		case <-check.C:
			reports, err := checker.CheckAll(ctx)
			if err != nil {
				logger.Error("reconciliation failed", zap.Error(err))
				continue
			}
			for _, rep := range reports {
				logger.Warn("balance drift detected",
					zap.String("account_id", rep.AccountID.String()),
					zap.Int64("ledger_balance", rep.LedgerBalance),
					zap.Int64("cached_balance", rep.CachedBalance),
					zap.Int64("drift", rep.Drift),
				)
			}
		}
	}
}
