package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
)

type resolveResponse struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
	Balance   int64  `json:"balance"`
}

func resolveAccount(t *testing.T, env *testEnv, scheme, externalID string) resolveResponse {
	t.Helper()

	body := fmt.Sprintf(`{"scheme":%q,"external_id":%q}`, scheme, externalID)
	resp := env.doRequest(t, http.MethodPost, "/v1/identity/resolve", body, testAPIToken)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: expected %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var got resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return got
}

func TestResolveIsStable(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	first := resolveAccount(t, env, "legacy", "29")
	second := resolveAccount(t, env, "legacy", "29")

	if first.AccountID != second.AccountID {
		t.Fatalf("expected same account, got %s and %s", first.AccountID, second.AccountID)
	}
	if first.Status != "active" {
		t.Fatalf("expected active account, got %s", first.Status)
	}
}

func TestResolveRejectsUnknownScheme(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	resp := env.doRequest(t, http.MethodPost, "/v1/identity/resolve",
		`{"scheme":"facebook","external_id":"x"}`, testAPIToken)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestConcurrentFirstResolveConverges(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	type result struct {
		accountID string
		err       error
	}

	const workers = 4
	var wg sync.WaitGroup
	results := make(chan result, workers)

	body := `{"scheme":"authprovider","external_id":"fc64-374b"}`
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/identity/resolve", strings.NewReader(body))
			if err != nil {
				results <- result{err: err}
				return
			}
			req.Header.Set("Authorization", "Bearer "+testAPIToken)
			req.Header.Set("Content-Type", "application/json")

			resp, err := env.client.Do(req)
			if err != nil {
				results <- result{err: err}
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				results <- result{err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
				return
			}
			var got resolveResponse
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				results <- result{err: err}
				return
			}
			results <- result{accountID: got.AccountID}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for res := range results {
		if res.err != nil {
			t.Fatalf("resolve error: %v", res.err)
		}
		seen[res.accountID] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected one account, got %d distinct ids", len(seen))
	}
}

func TestGuestAccountCanBeLinkedLater(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	resp := env.doRequest(t, http.MethodPost, "/v1/identity/guests", "", testAPIToken)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	var guest resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&guest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if guest.Status != "active" || guest.Balance != 0 {
		t.Fatalf("unexpected guest account: %+v", guest)
	}

	// The guest signs up; the account keeps its id and history.
	body := `{"scheme":"authprovider","external_id":"fc64-374b"}`
	link := env.doRequest(t, http.MethodPost,
		fmt.Sprintf("/v1/admin/accounts/%s/links", guest.AccountID), body, testAdminToken)
	defer link.Body.Close()

	if link.StatusCode != http.StatusNoContent {
		t.Fatalf("expected %d, got %d", http.StatusNoContent, link.StatusCode)
	}

	resolved := resolveAccount(t, env, "authprovider", "fc64-374b")
	if resolved.AccountID != guest.AccountID {
		t.Fatalf("expected guest id %s, got %s", guest.AccountID, resolved.AccountID)
	}
}

func TestDeactivateFlipsStatusOnly(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	acct := resolveAccount(t, env, "legacy", "29")

	resp := env.doRequest(t, http.MethodPost,
		fmt.Sprintf("/v1/admin/accounts/%s/deactivate", acct.AccountID), "", testAdminToken)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected %d, got %d", http.StatusNoContent, resp.StatusCode)
	}

	// The row survives with its mapping; only the status changed.
	after := resolveAccount(t, env, "legacy", "29")
	if after.AccountID != acct.AccountID {
		t.Fatalf("expected account %s to survive, got %s", acct.AccountID, after.AccountID)
	}
	if after.Status != "inactive" {
		t.Fatalf("expected inactive status, got %q", after.Status)
	}

	missing := env.doRequest(t, http.MethodPost,
		"/v1/admin/accounts/ab52a6c4-0000-0000-0000-000000000000/deactivate", "", testAdminToken)
	defer missing.Body.Close()

	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, missing.StatusCode)
	}
}

func TestLinkConflict(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	// "legacy:29" already belongs to the first account.
	first := resolveAccount(t, env, "legacy", "29")
	second := resolveAccount(t, env, "authprovider", "fc64-374b")

	body := `{"scheme":"legacy","external_id":"29"}`
	resp := env.doRequest(t, http.MethodPost,
		fmt.Sprintf("/v1/admin/accounts/%s/links", second.AccountID), body, testAdminToken)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected %d, got %d", http.StatusConflict, resp.StatusCode)
	}

	// Linking the pair to its own account stays a no-op.
	resp2 := env.doRequest(t, http.MethodPost,
		fmt.Sprintf("/v1/admin/accounts/%s/links", first.AccountID), body, testAdminToken)
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusNoContent {
		t.Fatalf("expected %d, got %d", http.StatusNoContent, resp2.StatusCode)
	}
}

func TestLinkMergesSchemes(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	acct := resolveAccount(t, env, "legacy", "29")

	body := `{"scheme":"authprovider","external_id":"fc64-374b"}`
	resp := env.doRequest(t, http.MethodPost,
		fmt.Sprintf("/v1/admin/accounts/%s/links", acct.AccountID), body, testAdminToken)
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected %d, got %d", http.StatusNoContent, resp.StatusCode)
	}

	merged := resolveAccount(t, env, "authprovider", "fc64-374b")
	if merged.AccountID != acct.AccountID {
		t.Fatalf("expected linked id to resolve to %s, got %s", acct.AccountID, merged.AccountID)
	}
}
