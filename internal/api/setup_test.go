package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"loyaltyledger/internal/api"
	"loyaltyledger/internal/config"
	"loyaltyledger/internal/identity"
	"loyaltyledger/internal/ledger"
	"loyaltyledger/internal/reconcile"
	"loyaltyledger/internal/voucher"
)

const (
	testAPIToken      = "svc-token"
	testAdminToken    = "admin-token"
	testWebhookSecret = "whsec_test"
)

var testCatalog = config.Catalog{
	Earning: config.EarningPolicy{PointsPerDollar: 1},
	Rewards: []config.Reward{
		{
			ID:         "R1",
			Name:       "$5 Off",
			CostPoints: 20,
			Discount: config.Discount{
				Type:           "fixed",
				Value:          500,
				MinOrderAmount: 2500,
			},
			ValidityDays: 30,
		},
		{
			ID:         "R2",
			Name:       "Big Spender",
			CostPoints: 1000,
			Discount: config.Discount{
				Type:  "percentage",
				Value: 20,
			},
			ValidityDays: 30,
		},
	},
}

type testEnv struct {
	pool   *pgxpool.Pool
	server *httptest.Server
	client *http.Client
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}

	applySchema(t, pool)
	resetDB(t, pool)

	srv := api.NewServer(api.Deps{
		Resolver:      identity.NewResolver(pool, 5*time.Second),
		Ledger:        ledger.NewService(pool, 5*time.Second),
		Issuer:        voucher.NewIssuer(pool, 5*time.Second),
		Checker:       reconcile.NewChecker(pool),
		Catalog:       testCatalog,
		APIToken:      testAPIToken,
		AdminToken:    testAdminToken,
		WebhookSecret: testWebhookSecret,
		Logger:        zap.NewNop(),
	})
	ts := httptest.NewServer(srv.Routes())

	return &testEnv{
		pool:   pool,
		server: ts,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

func (e *testEnv) close() {
	e.server.Close()
	e.pool.Close()
}

func (e *testEnv) doRequest(t *testing.T, method, path, body, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func seedAccount(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uuid.UUID
	if err := pool.QueryRow(ctx, "INSERT INTO accounts DEFAULT VALUES RETURNING id").Scan(&id); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if _, err := pool.Exec(ctx, "INSERT INTO account_balances (account_id, balance) VALUES ($1, 0)", id); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	return id
}

// seedPoints writes an earn entry and bumps the materialized balance,
// keeping the ledger-sum invariant intact.
func seedPoints(t *testing.T, pool *pgxpool.Pool, accountID uuid.UUID, amount int64) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `
		INSERT INTO ledger_entries (account_id, kind, amount, idempotency_key)
		VALUES ($1, 'earn', $2, $3)
	`, accountID, amount, "seed:"+uuid.NewString())
	if err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	_, err = pool.Exec(ctx, `
		UPDATE account_balances SET balance = balance + $1 WHERE account_id = $2
	`, amount, accountID)
	if err != nil {
		t.Fatalf("seed balance bump: %v", err)
	}
}

func getBalance(t *testing.T, pool *pgxpool.Pool, accountID uuid.UUID) int64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var balance int64
	err := pool.QueryRow(ctx, "SELECT balance FROM account_balances WHERE account_id = $1", accountID).Scan(&balance)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return balance
}

func getVoucherStatus(t *testing.T, pool *pgxpool.Pool, code string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var status string
	err := pool.QueryRow(ctx, "SELECT status FROM vouchers WHERE code = $1", code).Scan(&status)
	if err != nil {
		t.Fatalf("get voucher status: %v", err)
	}
	return status
}

func getLedgerSummary(t *testing.T, pool *pgxpool.Pool, accountID uuid.UUID) (int, int64) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	var sum int64
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1
	`, accountID).Scan(&count, &sum)
	if err != nil {
		t.Fatalf("get ledger summary: %v", err)
	}
	return count, sum
}

func applySchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	schema := loadSchema(t)
	statements := strings.Split(schema, ";")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stmt := range statements {
		s := strings.TrimSpace(stmt)
		if s == "" {
			continue
		}
		if _, err := pool.Exec(ctx, s); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `
		TRUNCATE vouchers, ledger_entries, account_balances, account_external_ids, accounts RESTART IDENTITY
	`)
	if err != nil {
		t.Fatalf("reset db: %v", err)
	}
}

func loadSchema(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	dir := wd
	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, "schema.sql")
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read schema: %v", err)
			}
			return string(data)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("schema.sql not found from %s", wd)
	return ""
}
