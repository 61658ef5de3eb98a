package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	custodydomain "github.com/smallbiznis/opsledger/internal/custody/domain"
	"github.com/smallbiznis/opsledger/internal/events"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	expenserepository "github.com/smallbiznis/opsledger/internal/expense/repository"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/opsledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/opsledger/internal/ledger/service"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/smallbiznis/opsledger/internal/migration"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/principal"
	"github.com/smallbiznis/opsledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	admin    = principal.Principal{ID: 1, Role: principal.RoleAdministrator, DisplayName: "Admin"}
	employee = principal.Principal{ID: 2, Role: principal.RoleStaff, DisplayName: "Employee"}
)

type failingExpenseRepo struct {
	expensedomain.Repository
}

func (failingExpenseRepo) Insert(context.Context, *gorm.DB, *expensedomain.Expense) error {
	return errors.New("expenses table unavailable")
}

func newCustody(t *testing.T, expenseRepo expensedomain.Repository) (custodydomain.Service, *ledgerservice.Service, *events.MemoryPublisher) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
	settings := config.StaticLedgerSettings(config.DefaultLedgerConfig())
	clk := clock.NewFakeClock(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	publisher := events.NewMemoryPublisher()

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
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Ledger:      ledger,
		Poster:      ledger,
		ExpenseRepo: expenseRepo,
		Authz:       authz,
		Settings:    settings,
		Clock:       clk,
		Publisher:   publisher,
	})

	for _, p := range []principal.Principal{admin, employee} {
		_, err := ledger.CreateAccount(context.Background(), admin, ledgerdomain.CreateAccountRequest{ID: p.ID, DisplayName: p.DisplayName, Role: p.Role})
		require.NoError(t, err)
	}
	return svc, ledger, publisher
}

func TestIssueAcknowledgeSpend(t *testing.T) {
	svc, ledger, publisher := newCustody(t, expenserepository.Provide())
	ctx := context.Background()

	credit, err := svc.Issue(ctx, admin, custodydomain.IssueRequest{AccountID: employee.ID, Amount: money.MustParse("500"), Reason: "weekly float"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusPending, credit.Status)

	_, err = svc.Issue(ctx, employee, custodydomain.IssueRequest{AccountID: employee.ID, Amount: money.MustParse("5"), Reason: "self"})
	require.ErrorIs(t, err, ledgererr.ErrForbidden)

	_, err = svc.Acknowledge(ctx, employee, credit.ID)
	require.NoError(t, err)

	result, err := svc.SpendFromCustody(ctx, employee, custodydomain.SpendRequest{
		Amount:      money.MustParse("120"),
		Description: "Shipping boxes",
		Category:    "supplies",
	})
	require.NoError(t, err)
	assert.Equal(t, expensedomain.StatusApproved, result.Expense.Status)
	require.NotNil(t, result.Expense.BalanceTransactionID)
	assert.Equal(t, result.Transaction.ID, *result.Expense.BalanceTransactionID)
	assert.Equal(t, "-120.00", result.Transaction.Amount.String())

	balance, err := ledger.CurrentBalance(ctx, employee, employee.ID)
	require.NoError(t, err)
	assert.Equal(t, "380.00", balance.String())
	assert.Contains(t, publisher.Types(), events.TypeExpenseApproved)

	summary, err := svc.Summary(ctx, employee, employee.ID)
	require.NoError(t, err)
	assert.Equal(t, "380.00", summary.Account.CurrentBalance.String())
	assert.Len(t, summary.Recent, 2)

	err = ledger.Delete(ctx, admin, result.Transaction.ID)
	require.ErrorIs(t, err, ledgerdomain.ErrTransactionFunds)
	balance, err = ledger.CurrentBalance(ctx, employee, employee.ID)
	require.NoError(t, err)
	assert.Equal(t, "380.00", balance.String())
}

func TestDeclineKeepsBalance(t *testing.T) {
	svc, ledger, _ := newCustody(t, expenserepository.Provide())
	ctx := context.Background()

	credit, err := svc.Issue(ctx, admin, custodydomain.IssueRequest{AccountID: employee.ID, Amount: money.MustParse("75"), Reason: "float"})
	require.NoError(t, err)
	declined, err := svc.Decline(ctx, employee, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusRejected, declined.Status)

	balance, err := ledger.CurrentBalance(ctx, employee, employee.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestSpendBeyondCustodyFails(t *testing.T) {
	svc, ledger, _ := newCustody(t, expenserepository.Provide())
	ctx := context.Background()

	_, err := svc.SpendFromCustody(ctx, employee, custodydomain.SpendRequest{
		Amount:      money.MustParse("1"),
		Description: "Pens",
	})
	require.ErrorIs(t, err, ledgererr.ErrInsufficientBalance)

	_, err = svc.SpendFromCustody(ctx, employee, custodydomain.SpendRequest{
		AccountID:   admin.ID,
		Amount:      money.MustParse("1"),
		Description: "Pens",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrNotOwner)

	replayed, err := ledger.ReplayBalance(ctx, employee, employee.ID)
	require.NoError(t, err)
	assert.True(t, replayed.IsZero())
}

func TestSpendRollsBackDebitWhenExpenseWriteFails(t *testing.T) {
	svc, ledger, _ := newCustody(t, failingExpenseRepo{Repository: expenserepository.Provide()})
	ctx := context.Background()

	credit, err := svc.Issue(ctx, admin, custodydomain.IssueRequest{AccountID: employee.ID, Amount: money.MustParse("50"), Reason: "float"})
	require.NoError(t, err)
	_, err = svc.Acknowledge(ctx, employee, credit.ID)
	require.NoError(t, err)

	_, err = svc.SpendFromCustody(ctx, employee, custodydomain.SpendRequest{
		Amount:      money.MustParse("20"),
		Description: "Taxi",
	})
	require.ErrorIs(t, err, ledgererr.ErrPersistenceFailure)

	balance, err := ledger.CurrentBalance(ctx, employee, employee.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance.String())

	txns, err := ledger.ListTransactions(ctx, admin, ledgerdomain.ListTransactionRequest{AccountID: employee.ID})
	require.NoError(t, err)
	assert.Len(t, txns.Transactions, 1)
}
