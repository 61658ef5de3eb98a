package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditrepository "github.com/smallbiznis/opsledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/opsledger/internal/audit/service"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	custodyservice "github.com/smallbiznis/opsledger/internal/custody/service"
	expenserepository "github.com/smallbiznis/opsledger/internal/expense/repository"
	expenseservice "github.com/smallbiznis/opsledger/internal/expense/service"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/opsledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/opsledger/internal/ledger/service"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/smallbiznis/opsledger/internal/migration"
	"github.com/smallbiznis/opsledger/internal/money"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
	orderrepository "github.com/smallbiznis/opsledger/internal/order/repository"
	orderservice "github.com/smallbiznis/opsledger/internal/order/service"
	payabledomain "github.com/smallbiznis/opsledger/internal/payable/domain"
	payablerepository "github.com/smallbiznis/opsledger/internal/payable/repository"
	payableservice "github.com/smallbiznis/opsledger/internal/payable/service"
	"github.com/smallbiznis/opsledger/internal/period"
	"github.com/smallbiznis/opsledger/internal/principal"
	"github.com/smallbiznis/opsledger/internal/ratelimit"
	"github.com/smallbiznis/opsledger/internal/rollup"
	"github.com/smallbiznis/opsledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

var (
	testNow   = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	testAdmin = principal.Principal{ID: 1, Role: principal.RoleAdministrator, DisplayName: "Admin"}
	testStaff = principal.Principal{ID: 2, Role: principal.RoleStaff, DisplayName: "Sara"}
)

type testServer struct {
	srv      *Server
	verifier *TokenVerifier
	conn     *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(testNow)
	settings := config.StaticLedgerSettings(config.DefaultLedgerConfig())
	auditSvc := auditservice.NewService(auditservice.Params{DB: conn, Log: log, GenID: node, Repo: auditrepository.Provide()})
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, AuditSvc: auditSvc})

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: conn, Log: log, GenID: node, Repo: ledgerrepository.Provide(), Authz: authz,
		Settings: settings, Clock: clk, AuditSvc: auditSvc,
	})
	expenseRepo := expenserepository.Provide()
	orderRepo := orderrepository.Provide()
	payables := payableservice.NewService(payableservice.Params{
		DB: conn, Log: log, GenID: node, Repo: payablerepository.Provide(), PaymentRepo: payablerepository.ProvidePayments(),
		OrderRepo: orderRepo, Poster: ledger, Authz: authz, Settings: settings, Clock: clk, AuditSvc: auditSvc,
	})

	srv, err := NewServer(ServerParams{
		Gin:       NewEngine(false, nil),
		Cfg:       config.Config{AuthJWTSecret: testSecret},
		Log:       log,
		AuthzSvc:  authz,
		AuditSvc:  auditSvc,
		LedgerSvc: ledger,
		CustodySvc: custodyservice.NewService(custodyservice.Params{
			DB: conn, Log: log, GenID: node, Ledger: ledger, Poster: ledger, ExpenseRepo: expenseRepo,
			Authz: authz, Settings: settings, Clock: clk, AuditSvc: auditSvc,
		}),
		ExpenseSvc: expenseservice.NewService(expenseservice.Params{
			DB: conn, Log: log, GenID: node, Repo: expenseRepo, Poster: ledger,
			Authz: authz, Settings: settings, Clock: clk, AuditSvc: auditSvc,
		}),
		PayableSvc: payables,
		OrderSvc: orderservice.NewService(orderservice.Params{
			DB: conn, Log: log, GenID: node, Repo: orderRepo, ExpenseRepo: expenseRepo, Payables: payables,
			Authz: authz, Settings: settings, Clock: clk, AuditSvc: auditSvc,
		}),
		RollupSvc: rollup.NewService(rollup.Params{
			DB: conn, Log: log, OrderRepo: orderRepo, ExpenseRepo: expenseRepo,
			Authz: authz, Settings: settings, Clock: clk,
		}),
	})
	require.NoError(t, err)

	verifier, err := NewTokenVerifier(testSecret, "")
	require.NoError(t, err)
	return &testServer{srv: srv, verifier: verifier, conn: conn}
}

func (ts *testServer) token(t *testing.T, p principal.Principal) string {
	t.Helper()
	token, err := ts.verifier.Sign(p, time.Now(), time.Hour)
	require.NoError(t, err)
	return token
}

// do sends body as JSON and decodes the response envelope.
func (ts *testServer) do(t *testing.T, as *principal.Principal, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, *as))
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data object, got %v", body)
	return d
}

func errorType(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	typ, _ := e["type"].(string)
	return typ
}

func (ts *testServer) seedAccounts(t *testing.T) {
	t.Helper()
	for _, p := range []principal.Principal{testAdmin, testStaff} {
		status, body := ts.do(t, &testAdmin, http.MethodPost, "/api/v1/accounts", map[string]any{
			"id":           p.ID.String(),
			"display_name": p.DisplayName,
			"role":         string(p.Role),
		})
		require.Equal(t, http.StatusCreated, status, body)
	}
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = ts.do(t, nil, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorType(body))
}

func TestPrincipalRequired(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, nil, http.MethodGet, "/api/v1/accounts", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorType(body))

	expired, err := ts.verifier.Sign(testAdmin, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	other, err := NewTokenVerifier("another-secret", "")
	require.NoError(t, err)
	forged, err := other.Sign(testAdmin, time.Now(), time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{"expired": expired, "forged": forged, "garbage": "abc.def"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			ts.srv.Engine().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestTokenVerifierRoundTrip(t *testing.T) {
	v, err := NewTokenVerifier(testSecret, "opsledger-auth")
	require.NoError(t, err)

	token, err := v.Sign(testStaff, time.Now(), time.Minute)
	require.NoError(t, err)
	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, testStaff, got)

	other, err := NewTokenVerifier(testSecret, "someone-else")
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = NewTokenVerifier("  ", "")
	assert.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestCustodyWorkflowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccounts(t)

	status, body := ts.do(t, &testAdmin, http.MethodPost, "/api/v1/transactions/credit", map[string]any{
		"account_id": "2",
		"amount":     "500",
		"reason":     "weekly float",
	})
	require.Equal(t, http.StatusCreated, status, body)
	credit := data(t, body)
	assert.Equal(t, "pending", credit["status"])
	assert.Equal(t, "500.00", credit["amount"])

	status, body = ts.do(t, &testStaff, http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/confirm", credit["id"]), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "confirmed", data(t, body)["status"])

	status, body = ts.do(t, &testStaff, http.MethodPost, "/api/v1/transactions/debit", map[string]any{
		"account_id": "2",
		"amount":     "120",
		"reason":     "fuel",
	})
	require.Equal(t, http.StatusCreated, status, body)

	status, body = ts.do(t, &testStaff, http.MethodGet, "/api/v1/accounts/2/balance", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "380.00", data(t, body)["balance"])

	status, body = ts.do(t, &testStaff, http.MethodPost, "/api/v1/transactions/debit", map[string]any{
		"account_id": "2",
		"amount":     "400",
		"reason":     "supplier",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_balance", errorType(body))

	status, body = ts.do(t, &testStaff, http.MethodPost, "/api/v1/transactions/credit", map[string]any{
		"account_id": "2",
		"amount":     "10",
		"reason":     "self top-up",
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", errorType(body))

	status, body = ts.do(t, &testStaff, http.MethodGet, "/api/v1/transactions", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["data"], 2)
}

func TestPayablesOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccounts(t)

	status, body := ts.do(t, &testAdmin, http.MethodPost, "/api/v1/custody/issue", map[string]any{
		"account_id": "2",
		"amount":     "200",
		"reason":     "supplier float",
	})
	require.Equal(t, http.StatusCreated, status, body)
	status, body = ts.do(t, &testStaff, http.MethodPost, fmt.Sprintf("/api/v1/custody/%s/acknowledge", data(t, body)["id"]), nil)
	require.Equal(t, http.StatusOK, status, body)

	status, body = ts.do(t, &testStaff, http.MethodPost, "/api/v1/payables", map[string]any{
		"supplier_id":   "77",
		"supplier_name": "Acme Packaging",
		"description":   "Boxes",
		"amount":        "100",
	})
	require.Equal(t, http.StatusCreated, status, body)
	entryID := data(t, body)["id"]

	path := fmt.Sprintf("/api/v1/payables/%s/payments", entryID)
	status, body = ts.do(t, &testStaff, http.MethodPost, path, map[string]any{"amount": "30"})
	require.Equal(t, http.StatusCreated, status, body)

	status, body = ts.do(t, &testStaff, http.MethodPost, path, map[string]any{"amount": "80"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_remaining", errorType(body))

	status, body = ts.do(t, &testStaff, http.MethodGet, fmt.Sprintf("/api/v1/payables/%s", entryID), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "70.00", data(t, body)["remaining_amount"])

	status, body = ts.do(t, &testStaff, http.MethodGet, "/api/v1/accounts/2/balance", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "170.00", data(t, body)["balance"])

	status, body = ts.do(t, &testStaff, http.MethodDelete, fmt.Sprintf("/api/v1/payables/%s", entryID), nil)
	assert.Equal(t, http.StatusForbidden, status, body)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccounts(t)
	require.NoError(t, ts.conn.Create(&orderdomain.Order{
		ID:         501,
		Number:     "1042",
		TotalPrice: money.MustParse("150"),
		Status:     orderdomain.StatusDelivered,
		OrderDate:  testNow,
		CreatedAt:  testNow,
		Items: []orderdomain.LineItem{
			{ID: 601, Quantity: 1, SupplierID: 77, SupplierName: "Acme Packaging", CostInclTax: money.MustParse("40")},
		},
	}).Error)

	status, body := ts.do(t, &testStaff, http.MethodPost, "/api/v1/orders/501/lock", nil)
	assert.Equal(t, http.StatusForbidden, status, body)

	status, body = ts.do(t, &testAdmin, http.MethodPost, "/api/v1/orders/501/lock", nil)
	require.Equal(t, http.StatusOK, status, body)
	locked := data(t, body)
	assert.Equal(t, true, locked["order"].(map[string]any)["locked"])
	require.Len(t, locked["payables"], 1)

	status, body = ts.do(t, &testAdmin, http.MethodPost, "/api/v1/orders/501/cancel", map[string]any{"fee": "5"})
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, body = ts.do(t, &testAdmin, http.MethodPost, "/api/v1/orders/501/cancel", map[string]any{
		"reason":     "customer changed their mind",
		"fee":        "12.5",
		"fee_bearer": "store",
	})
	require.Equal(t, http.StatusOK, status, body)
	cancelled := data(t, body)
	assert.Equal(t, "cancelled", cancelled["order"].(map[string]any)["status"])
	assert.Equal(t, "12.50", cancelled["expense"].(map[string]any)["amount"])

	status, body = ts.do(t, &testAdmin, http.MethodPost, "/api/v1/orders/501/cancel", map[string]any{"reason": "again"})
	assert.Equal(t, http.StatusUnprocessableEntity, status, body)
	assert.Equal(t, "invalid_state", errorType(body))

	status, body = ts.do(t, &testStaff, http.MethodGet, "/api/v1/orders/501", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, data(t, body)["locked"])
}

func TestDashboardAndAuditAccess(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccounts(t)

	status, body := ts.do(t, &testAdmin, http.MethodGet, "/api/v1/dashboard?period=current_month", nil)
	require.Equal(t, http.StatusOK, status, body)
	dashboard := data(t, body)
	assert.Equal(t, "SAR", dashboard["currency"])

	status, body = ts.do(t, &testAdmin, http.MethodGet, "/api/v1/dashboard?period=quarter", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", errorType(body))

	status, _ = ts.do(t, &testStaff, http.MethodGet, "/api/v1/dashboard", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ts.do(t, &testStaff, http.MethodGet, "/api/v1/audit-logs", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.do(t, &testAdmin, http.MethodGet, "/api/v1/audit-logs?action=account.created", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.NotEmpty(t, body["data"])
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccounts(t)

	status, body := ts.do(t, &testAdmin, http.MethodPost, "/api/v1/transactions/credit", `{"account_id":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", errorType(body))

	status, _ = ts.do(t, &testAdmin, http.MethodGet, "/api/v1/transactions/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, &testAdmin, http.MethodPost, "/api/v1/transactions/credit", map[string]any{
		"account_id": "2",
		"amount":     "0",
		"reason":     "nothing",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_amount", errorType(body))

	status, _ = ts.do(t, &testAdmin, http.MethodGet, "/api/v1/transactions/9999", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

type budgetLimiter struct {
	remaining map[snowflake.ID]int
}

func (l *budgetLimiter) AllowWrite(_ context.Context, id snowflake.ID) (*ratelimit.Result, error) {
	if l.remaining[id] <= 0 {
		return &ratelimit.Result{Limit: 1, RetryAfter: 1500 * time.Millisecond}, nil
	}
	l.remaining[id]--
	return &ratelimit.Result{Allowed: true, Limit: 1, Remaining: l.remaining[id]}, nil
}

func TestWriteRateLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccounts(t)
	ts.srv.limiter = &budgetLimiter{remaining: map[snowflake.ID]int{testAdmin.ID: 1}}

	credit := map[string]any{"account_id": "2", "amount": "10", "reason": "float"}
	status, body := ts.do(t, &testAdmin, http.MethodPost, "/api/v1/transactions/credit", credit)
	require.Equal(t, http.StatusCreated, status, body)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/credit", bytes.NewReader([]byte(`{"account_id":"2","amount":"10","reason":"float"}`)))
	req.Header.Set("Authorization", "Bearer "+ts.token(t, testAdmin))
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	// reads are never throttled
	status, _ = ts.do(t, &testAdmin, http.MethodGet, "/api/v1/accounts", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{period.ErrUnknownPeriod, http.StatusBadRequest, "validation_error"},
		{ledgerdomain.ErrInvalidReason, http.StatusBadRequest, "validation_error"},
		{ledgerdomain.ErrNotOwner, http.StatusForbidden, "forbidden"},
		{ledgerdomain.ErrTransactionNotFound, http.StatusNotFound, "not_found"},
		{ledgererr.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
		{payabledomain.ErrInsufficientRemaining, http.StatusUnprocessableEntity, "insufficient_remaining"},
		{fmt.Errorf("%w: serialization", ledgererr.ErrConcurrentModification), http.StatusConflict, "concurrent_modification"},
		{fmt.Errorf("%w: timeout", ledgererr.ErrPersistenceFailure), http.StatusServiceUnavailable, "persistence_failure"},
		{
			errors.Join(ledgererr.ErrPersistenceFailure, fmt.Errorf("%w: %w", payabledomain.ErrCompensationFailed, ledgererr.ErrPersistenceFailure)),
			http.StatusInternalServerError, "compensation_failed",
		},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.typ, payload.Type, tc.err.Error())
	}

	_, payload := mapError(period.ErrUnknownPeriod)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "period", payload.Errors[0].Field)
}
