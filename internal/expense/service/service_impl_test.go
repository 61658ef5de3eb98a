package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	"github.com/smallbiznis/opsledger/internal/expense/repository"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/opsledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/opsledger/internal/ledger/service"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/principal"
	"github.com/smallbiznis/opsledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	admin = principal.Principal{ID: 1, Role: principal.RoleAdministrator, DisplayName: "Admin"}
	staff = principal.Principal{ID: 2, Role: principal.RoleStaff, DisplayName: "Staff"}
	other = principal.Principal{ID: 3, Role: principal.RoleStaff, DisplayName: "Other"}
)

func newServices(t *testing.T) (expensedomain.Service, *ledgerservice.Service) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ledgerdomain.Account{}, &ledgerdomain.BalanceTransaction{}, &expensedomain.Expense{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
	settings := config.StaticLedgerSettings(config.DefaultLedgerConfig())
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC))

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     ledgerrepository.Provide(),
		Authz:    authz,
		Settings: settings,
		Clock:    clk,
	})
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.Provide(),
		Poster:   ledger,
		Authz:    authz,
		Settings: settings,
		Clock:    clk,
	})

	ctx := context.Background()
	for _, p := range []principal.Principal{admin, staff, other} {
		_, err := ledger.CreateAccount(ctx, admin, ledgerdomain.CreateAccountRequest{ID: p.ID, DisplayName: p.DisplayName, Role: p.Role})
		require.NoError(t, err)
	}
	return svc, ledger
}

func fund(t *testing.T, ledger *ledgerservice.Service, p principal.Principal, amount string) {
	t.Helper()
	ctx := context.Background()
	txn, err := ledger.RecordCredit(ctx, admin, ledgerdomain.RecordRequest{AccountID: p.ID, Amount: money.MustParse(amount), Reason: "custody"})
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, p, txn.ID)
	require.NoError(t, err)
}

func balance(t *testing.T, ledger *ledgerservice.Service, p principal.Principal) string {
	t.Helper()
	b, err := ledger.CurrentBalance(context.Background(), admin, p.ID)
	require.NoError(t, err)
	return b.String()
}

func TestStaffSubmissionWaitsForApproval(t *testing.T) {
	svc, ledger := newServices(t)
	ctx := context.Background()
	fund(t, ledger, staff, "200")

	expense, err := svc.Submit(ctx, staff, expensedomain.SubmitRequest{
		Description:       "Packaging tape",
		Amount:            money.MustParse("35.50"),
		Category:          "supplies",
		DeductFromCustody: true,
	})
	require.NoError(t, err)
	assert.Equal(t, expensedomain.StatusPending, expense.Status)
	assert.Equal(t, expensedomain.TypeVariable, expense.Type)
	assert.False(t, expense.Deducted())
	assert.Equal(t, "200.00", balance(t, ledger, staff))

	_, err = svc.Approve(ctx, staff, expense.ID)
	require.ErrorIs(t, err, ledgererr.ErrForbidden)

	approved, err := svc.Approve(ctx, admin, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, expensedomain.StatusApproved, approved.Status)
	require.True(t, approved.Deducted())
	assert.Equal(t, "164.50", balance(t, ledger, staff))

	debit, err := ledger.GetTransaction(ctx, admin, *approved.BalanceTransactionID)
	require.NoError(t, err)
	assert.Equal(t, "-35.50", debit.Amount.String())

	_, err = svc.Approve(ctx, admin, expense.ID)
	require.ErrorIs(t, err, expensedomain.ErrNotPending)
	assert.Equal(t, "164.50", balance(t, ledger, staff))
}

func TestApproveFailsWhenCustodyIsShort(t *testing.T) {
	svc, ledger := newServices(t)
	ctx := context.Background()
	fund(t, ledger, staff, "10")

	expense, err := svc.Submit(ctx, staff, expensedomain.SubmitRequest{
		Description:       "Courier",
		Amount:            money.MustParse("25"),
		Category:          "shipping",
		DeductFromCustody: true,
	})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, admin, expense.ID)
	require.ErrorIs(t, err, ledgererr.ErrInsufficientBalance)

	current, err := svc.Get(ctx, staff, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, expensedomain.StatusPending, current.Status)
	assert.Equal(t, "10.00", balance(t, ledger, staff))
}

func TestAdministratorExpenseIsApprovedImmediately(t *testing.T) {
	svc, ledger := newServices(t)
	fund(t, ledger, admin, "100")

	expense, err := svc.Submit(context.Background(), admin, expensedomain.SubmitRequest{
		Description:       "Rent",
		Amount:            money.MustParse("60"),
		Category:          "rent",
		Type:              expensedomain.TypeFixed,
		DeductFromCustody: true,
	})
	require.NoError(t, err)
	assert.Equal(t, expensedomain.StatusApproved, expense.Status)
	assert.True(t, expense.Deducted())
	assert.Equal(t, "40.00", balance(t, ledger, admin))
}

func TestRejectRequiresReason(t *testing.T) {
	svc, _ := newServices(t)
	ctx := context.Background()

	expense, err := svc.Submit(ctx, staff, expensedomain.SubmitRequest{
		Description: "Snacks",
		Amount:      money.MustParse("12"),
		Category:    "misc",
	})
	require.NoError(t, err)

	_, err = svc.Reject(ctx, admin, expense.ID, "   ")
	require.ErrorIs(t, err, expensedomain.ErrInvalidRejectionReason)

	rejected, err := svc.Reject(ctx, admin, expense.ID, "personal purchase")
	require.NoError(t, err)
	assert.Equal(t, expensedomain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "personal purchase", *rejected.RejectionReason)
}

func TestDeleteReversesCustodyDebit(t *testing.T) {
	svc, ledger := newServices(t)
	ctx := context.Background()
	fund(t, ledger, staff, "90")

	expense, err := svc.Submit(ctx, staff, expensedomain.SubmitRequest{
		Description:       "Fuel",
		Amount:            money.MustParse("40"),
		Category:          "transport",
		DeductFromCustody: true,
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, admin, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance(t, ledger, staff))

	require.ErrorIs(t, svc.Delete(ctx, staff, expense.ID), ledgererr.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, admin, expense.ID))
	assert.Equal(t, "90.00", balance(t, ledger, staff))

	_, err = svc.Get(ctx, admin, expense.ID)
	require.ErrorIs(t, err, expensedomain.ErrExpenseNotFound)
}

func TestListAndTotalsScopeStaff(t *testing.T) {
	svc, _ := newServices(t)
	ctx := context.Background()

	submit := func(p principal.Principal, desc, amount, category string, typ expensedomain.Type) expensedomain.Expense {
		e, err := svc.Submit(ctx, p, expensedomain.SubmitRequest{Description: desc, Amount: money.MustParse(amount), Category: category, Type: typ})
		require.NoError(t, err)
		return e
	}
	a := submit(staff, "Ink", "20", "supplies", expensedomain.TypeVariable)
	b := submit(staff, "Internet", "100", "utilities", expensedomain.TypeFixed)
	c := submit(other, "Boxes", "15", "supplies", expensedomain.TypeVariable)
	submit(staff, "Pending lunch", "9", "misc", expensedomain.TypeVariable)
	for _, e := range []expensedomain.Expense{a, b, c} {
		_, err := svc.Approve(ctx, admin, e.ID)
		require.NoError(t, err)
	}

	mine, err := svc.List(ctx, staff, expensedomain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	_, err = svc.List(ctx, staff, expensedomain.ListRequest{OwnerID: other.ID})
	require.ErrorIs(t, err, expensedomain.ErrNotOwner)

	totals, err := svc.Totals(ctx, staff, expensedomain.ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, "120.00", totals.Total.String())
	assert.Equal(t, "100.00", totals.Fixed.String())
	assert.Equal(t, "20.00", totals.Variable.String())
	assert.Equal(t, int64(2), totals.Count)

	all, err := svc.Totals(ctx, admin, expensedomain.ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, "135.00", all.Total.String())
	assert.Equal(t, "35.00", all.ByCategory["supplies"].String())
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newServices(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, staff, expensedomain.SubmitRequest{Amount: money.MustParse("1"), Category: "x"})
	require.ErrorIs(t, err, expensedomain.ErrInvalidDescription)
	_, err = svc.Submit(ctx, staff, expensedomain.SubmitRequest{Description: "x", Amount: money.Zero(), Category: "x"})
	require.ErrorIs(t, err, ledgererr.ErrInvalidAmount)
	_, err = svc.Submit(ctx, staff, expensedomain.SubmitRequest{Description: "x", Amount: money.MustParse("1")})
	require.ErrorIs(t, err, expensedomain.ErrInvalidCategory)
	_, err = svc.Submit(ctx, staff, expensedomain.SubmitRequest{Description: "x", Amount: money.MustParse("1"), Category: "x", Type: "monthly"})
	require.ErrorIs(t, err, expensedomain.ErrInvalidType)
}

func TestCategoryIsNormalized(t *testing.T) {
	svc, _ := newServices(t)
	ctx := context.Background()

	e, err := svc.Submit(ctx, staff, expensedomain.SubmitRequest{Description: "paper", Amount: money.MustParse("4"), Category: "  Office Supplies "})
	require.NoError(t, err)
	require.Equal(t, "office-supplies", e.Category)

	_, err = svc.Submit(ctx, staff, expensedomain.SubmitRequest{Description: "x", Amount: money.MustParse("1"), Category: "!!"})
	require.ErrorIs(t, err, expensedomain.ErrInvalidCategory)

	list, err := svc.List(ctx, staff, expensedomain.ListRequest{Category: "office supplies"})
	require.NoError(t, err)
	require.Len(t, list, 1)
}
