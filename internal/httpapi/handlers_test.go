package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/audit"
	"agency-billing/internal/auth"
	"agency-billing/internal/billing"
	"agency-billing/internal/config"
	"agency-billing/internal/pricing"
	"agency-billing/internal/reporting"
	"agency-billing/internal/session"
	"agency-billing/internal/usage"
	"agency-billing/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

type testAPI struct {
	router *gin.Engine
	tokens *auth.Manager
	accs   *accounts.MemoryRepo
	usage  *usage.MemoryRepo
	audit  *audit.MemoryRepo
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	accs := accounts.NewMemoryRepo(
		accounts.Account{ID: "own", Role: accounts.RoleOwner},
		accounts.Account{ID: "a1", Role: accounts.RoleAgency, ParentAccountID: ptr("own")},
		accounts.Account{ID: "c1", Role: accounts.RoleClient, ParentAccountID: ptr("a1"), CreditBalance: decimal.NewFromInt(1)},
		accounts.Account{ID: "c2", Role: accounts.RoleClient, ParentAccountID: ptr("own")},
	)
	dir := accounts.NewDirectory(accs)
	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "billing", SessionTTL: time.Hour})
	require.NoError(t, err)

	auditRepo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(auditRepo)
	store := wallet.NewMemoryStore(accs)
	usageRepo := usage.NewMemoryRepo(store)
	prices := pricing.NewService(pricing.NewMemoryRepo(), dir)
	require.NoError(t, prices.SetAccountRate(context.Background(), "own", nil, "openai", "gpt-4o", decimal.RequireFromString("0.05")))

	h := Handlers{
		Accounts: dir,
		Rates:    prices,
		Sessions: session.NewManager(dir, tokens, auditSvc),
		Billing:  billing.NewEngine(billing.Deps{Usage: usageRepo, Accounts: dir, Rates: prices, Audit: auditSvc, Gate: billing.NewMemoryGate()}),
		Credits:  wallet.NewService(store, dir, auditSvc),
		Reports:  reporting.NewService(usageRepo, dir),
		Audit:    auditSvc,
	}

	r := gin.New()
	r.Use(ClientIP())
	r.GET("/healthz", Health(nil))
	v1 := r.Group("/v1", auth.RequireSession(tokens))
	h.Register(v1)

	return testAPI{router: r, tokens: tokens, accs: accs, usage: usageRepo, audit: auditRepo}
}

func (a testAPI) token(t *testing.T, id string) string {
	t.Helper()
	acc, err := a.accs.GetAccount(context.Background(), id)
	require.NoError(t, err)
	tok, err := a.tokens.IssueDirect(time.Now(), acc)
	require.NoError(t, err)
	return tok.Token
}

func (a testAPI) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func errorKind(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "no error object in %v", body)
	k, _ := e["kind"].(string)
	return k
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestRequiresSession(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, http.MethodGet, "/v1/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "insufficient_context", errorKind(t, body))
}

func TestSetRates_BelowFloorIsUnprocessable(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, http.MethodPut, "/v1/rates", api.token(t, "a1"), map[string]any{
		"target_account_id": "c1",
		"entries":           []map[string]any{{"provider_id": "openai", "item_id": "gpt-4o", "rate": "0.03"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "below_floor_rate", errorKind(t, body))
	assert.Equal(t, "0.05", body["error"].(map[string]any)["floor"])
}

func TestSetRates_WritesAndAudits(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "a1")

	w, _ := api.do(t, http.MethodPut, "/v1/rates", tok, map[string]any{
		"target_account_id": "c1",
		"entries":           []map[string]any{{"provider_id": "openai", "item_id": "gpt-4o", "rate": "0.07"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := api.do(t, http.MethodGet, "/v1/rates?account_id=c1", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	overrides := body["account_overrides"].([]any)
	require.Len(t, overrides, 1)
	assert.Equal(t, "0.07", overrides[0].(map[string]any)["rate"])

	evs := api.audit.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeRateOverride, evs[0].Type)
	assert.Equal(t, "c1", evs[0].TargetAccountID)
}

func TestSetRates_ClientRejectedByRole(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, http.MethodPut, "/v1/rates", api.token(t, "c1"), map[string]any{
		"entries": []map[string]any{{"provider_id": "openai", "item_id": "gpt-4o", "rate": "1"}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", errorKind(t, body))
}

func TestSessionSwitchFlow(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, http.MethodPost, "/v1/session/switch", api.token(t, "own"), map[string]any{"target_account_id": "a1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	impersonating := body["token"].(string)
	sess := body["session"].(map[string]any)
	assert.Equal(t, "own", sess["acting_account_id"])
	assert.Equal(t, "a1", sess["effective_account_id"])

	w, body = api.do(t, http.MethodGet, "/v1/session", impersonating, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["impersonating"])

	w, body = api.do(t, http.MethodPost, "/v1/session/switch", impersonating, map[string]any{"target_account_id": "c1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_impersonating", errorKind(t, body))

	w, body = api.do(t, http.MethodPost, "/v1/session/switch-back", impersonating, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "own", body["session"].(map[string]any)["effective_account_id"])

	w, body = api.do(t, http.MethodPost, "/v1/session/switch-back", body["token"].(string), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_impersonating", errorKind(t, body))
}

func TestSessionSwitch_ClientForbidden(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, http.MethodPost, "/v1/session/switch", api.token(t, "c1"), map[string]any{"target_account_id": "c2"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", errorKind(t, body))
}

func TestListAccessible(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, http.MethodGet, "/v1/accounts/accessible", api.token(t, "a1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	accs := body["accounts"].([]any)
	require.Len(t, accs, 1)
	assert.Equal(t, "c1", accs[0].(map[string]any)["id"])
}

func TestBillingSync(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.usage.Insert(context.Background(), usage.Record{
		AccountID: "c1", Direction: usage.DirectionOutbound, BillingMode: usage.BillingModeProvider,
		DurationSeconds: 125, ProviderID: "openai", ItemID: "gpt-4o",
	})
	require.NoError(t, err)

	w, body := api.do(t, http.MethodPost, "/v1/billing/sync?scope=c2", api.token(t, "a1"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", errorKind(t, body))

	w, body = api.do(t, http.MethodPost, "/v1/billing/sync?trigger=sometimes", api.token(t, "a1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = api.do(t, http.MethodPost, "/v1/billing/sync", api.token(t, "a1"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "a1", body["scope"])
	assert.Equal(t, float64(1), body["billed_count"])
	assert.Equal(t, "0.15", body["total_charged"])

	w, body = api.do(t, http.MethodGet, "/v1/credits/c1", api.token(t, "c1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0.85", body["credit_balance"])
}

func TestCredits(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, http.MethodPost, "/v1/credits/c1", api.token(t, "a1"), map[string]any{"op": "subtract", "amount": "5"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "insufficient_credits", errorKind(t, body))

	w, body = api.do(t, http.MethodPost, "/v1/credits/c1", api.token(t, "a1"), map[string]any{"op": "add", "amount": "2.5", "reason": "top-up"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "3.5", body["balance_after"])

	w, body = api.do(t, http.MethodPost, "/v1/credits/c2", api.token(t, "a1"), map[string]any{"op": "add", "amount": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = api.do(t, http.MethodGet, "/v1/credits/c1/ledger?limit=10", api.token(t, "c1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["entries"], 1)

	w, _ = api.do(t, http.MethodGet, "/v1/credits/c1/ledger?limit=many", api.token(t, "c1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageSummary(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.usage.Insert(context.Background(), usage.Record{
		AccountID: "c1", Direction: usage.DirectionInbound, BillingMode: usage.BillingModeDirection, DurationSeconds: 30,
	})
	require.NoError(t, err)

	w, body := api.do(t, http.MethodGet, "/v1/usage/summary?account_id=c1", api.token(t, "a1"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["total_records"])
	assert.Equal(t, float64(1), body["unbilled_records"])

	w, _ = api.do(t, http.MethodGet, "/v1/usage/summary?from=yesterday", api.token(t, "a1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = api.do(t, http.MethodGet, "/v1/usage/summary?account_id=c2", api.token(t, "a1"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWriteError_UnknownErrorIsInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, errors.New("db down"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}
