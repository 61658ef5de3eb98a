package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/smallbiznis/opsledger/internal/events"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/ledger/repository"
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
	admin = principal.Principal{ID: 1, Role: principal.RoleAdministrator, DisplayName: "Admin"}
	staff = principal.Principal{ID: 2, Role: principal.RoleStaff, DisplayName: "Staff"}
	other = principal.Principal{ID: 3, Role: principal.RoleStaff, DisplayName: "Other"}
)

type fixture struct {
	svc       *Service
	conn      *gorm.DB
	publisher *events.MemoryPublisher
	clock     *clock.FakeClock
}

func newFixture(t *testing.T, cfg config.LedgerConfig) fixture {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	publisher := events.NewMemoryPublisher()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repository.Provide(),
		Authz:     authz,
		Settings:  config.StaticLedgerSettings(cfg),
		Clock:     clk,
		Publisher: publisher,
	})

	f := fixture{svc: svc, conn: conn, publisher: publisher, clock: clk}
	for _, p := range []principal.Principal{admin, staff, other} {
		_, err := svc.CreateAccount(context.Background(), admin, ledgerdomain.CreateAccountRequest{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Role:        p.Role,
		})
		require.NoError(t, err)
	}
	return f
}

func (f fixture) credit(t *testing.T, accountID snowflake.ID, amount string) ledgerdomain.BalanceTransaction {
	t.Helper()
	txn, err := f.svc.RecordCredit(context.Background(), admin, ledgerdomain.RecordRequest{
		AccountID: accountID,
		Amount:    money.MustParse(amount),
		Reason:    "custody top up",
	})
	require.NoError(t, err)
	return txn
}

func (f fixture) balance(t *testing.T, accountID snowflake.ID) string {
	t.Helper()
	b, err := f.svc.CurrentBalance(context.Background(), admin, accountID)
	require.NoError(t, err)
	return b.String()
}

func TestCreditStaysPendingUntilConfirmed(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	txn := f.credit(t, staff.ID, "500")
	assert.Equal(t, ledgerdomain.StatusPending, txn.Status)
	assert.Equal(t, "0.00", f.balance(t, staff.ID))

	confirmed, err := f.svc.Confirm(ctx, staff, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedBy)
	assert.Equal(t, staff.ID, *confirmed.ConfirmedBy)
	assert.Equal(t, "500.00", f.balance(t, staff.ID))

	assert.Equal(t, []string{
		events.TypeTransactionRecorded,
		events.TypeTransactionConfirmed,
	}, f.publisher.Types())
}

func TestConfirmTwiceAppliesOnce(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	txn := f.credit(t, staff.ID, "250.50")
	_, err := f.svc.Confirm(ctx, staff, txn.ID)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, staff, txn.ID)
	require.ErrorIs(t, err, ledgerdomain.ErrNotPending)
	assert.Equal(t, ledgererr.KindInvalidState, ledgererr.KindOf(err))
	assert.Equal(t, "250.50", f.balance(t, staff.ID))
}

func TestRejectLeavesBalanceUntouched(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	txn := f.credit(t, staff.ID, "80")
	rejected, err := f.svc.Reject(ctx, staff, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusRejected, rejected.Status)
	assert.Equal(t, "0.00", f.balance(t, staff.ID))

	_, err = f.svc.Confirm(ctx, staff, txn.ID)
	require.ErrorIs(t, err, ledgerdomain.ErrNotPending)
}

func TestStaffCannotDecideAnotherAccountsCredit(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())

	txn := f.credit(t, staff.ID, "100")
	_, err := f.svc.Confirm(context.Background(), other, txn.ID)
	require.ErrorIs(t, err, ledgerdomain.ErrNotOwner)
	assert.Equal(t, ledgererr.KindForbidden, ledgererr.KindOf(err))
}

func TestStaffCannotRecordCredit(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())

	_, err := f.svc.RecordCredit(context.Background(), staff, ledgerdomain.RecordRequest{
		AccountID: staff.ID,
		Amount:    money.MustParse("10"),
		Reason:    "self top up",
	})
	require.ErrorIs(t, err, ledgererr.ErrForbidden)
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	_, err := f.svc.RecordCredit(ctx, admin, ledgerdomain.RecordRequest{AccountID: staff.ID, Amount: money.Zero(), Reason: "x"})
	require.ErrorIs(t, err, ledgererr.ErrInvalidAmount)

	_, err = f.svc.RecordCredit(ctx, admin, ledgerdomain.RecordRequest{AccountID: staff.ID, Amount: money.MustParse("-5"), Reason: "x"})
	require.ErrorIs(t, err, ledgererr.ErrInvalidAmount)

	_, err = f.svc.RecordCredit(ctx, admin, ledgerdomain.RecordRequest{AccountID: staff.ID, Amount: money.MustParse("5"), Reason: "  "})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidReason)

	_, err = f.svc.RecordCredit(ctx, admin, ledgerdomain.RecordRequest{AccountID: 999, Amount: money.MustParse("5"), Reason: "x"})
	require.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestDebitRequiresSufficientBalance(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	txn := f.credit(t, staff.ID, "100")
	_, err := f.svc.Confirm(ctx, staff, txn.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordDebit(ctx, staff, ledgerdomain.RecordRequest{
		AccountID: staff.ID,
		Amount:    money.MustParse("100.01"),
		Reason:    "fuel",
	})
	require.ErrorIs(t, err, ledgererr.ErrInsufficientBalance)
	assert.Equal(t, "100.00", f.balance(t, staff.ID))

	debit, err := f.svc.RecordDebit(ctx, staff, ledgerdomain.RecordRequest{
		AccountID: staff.ID,
		Amount:    money.MustParse("100"),
		Reason:    "fuel",
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusConfirmed, debit.Status)
	assert.Equal(t, "-100.00", debit.Amount.String())
	assert.Equal(t, "0.00", f.balance(t, staff.ID))
}

func TestStaffCannotDebitAnotherAccount(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())

	_, err := f.svc.RecordDebit(context.Background(), other, ledgerdomain.RecordRequest{
		AccountID: staff.ID,
		Amount:    money.MustParse("1"),
		Reason:    "fuel",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrNotOwner)
}

func TestAdminOverrideFollowsSettings(t *testing.T) {
	ctx := context.Background()
	req := ledgerdomain.RecordRequest{
		AccountID: staff.ID,
		Amount:    money.MustParse("40"),
		Reason:    "advance",
		Override:  true,
	}

	allowed := newFixture(t, config.DefaultLedgerConfig())
	_, err := allowed.svc.RecordDebit(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, "-40.00", allowed.balance(t, staff.ID))

	_, err = allowed.svc.RecordDebit(ctx, staff, req)
	require.ErrorIs(t, err, ledgerdomain.ErrOverrideNotAllowed)

	cfg := config.DefaultLedgerConfig()
	cfg.AllowAdminOverdraft = false
	denied := newFixture(t, cfg)
	_, err = denied.svc.RecordDebit(ctx, admin, req)
	require.ErrorIs(t, err, ledgerdomain.ErrOverrideNotAllowed)
	assert.Equal(t, "0.00", denied.balance(t, staff.ID))
}

func TestDeleteReversesConfirmedEffect(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	credit := f.credit(t, staff.ID, "300")
	_, err := f.svc.Confirm(ctx, staff, credit.ID)
	require.NoError(t, err)
	debit, err := f.svc.RecordDebit(ctx, staff, ledgerdomain.RecordRequest{
		AccountID: staff.ID,
		Amount:    money.MustParse("120"),
		Reason:    "supplies",
	})
	require.NoError(t, err)
	assert.Equal(t, "180.00", f.balance(t, staff.ID))

	require.ErrorIs(t, f.svc.Delete(ctx, staff, debit.ID), ledgererr.ErrForbidden)

	require.NoError(t, f.svc.Delete(ctx, admin, debit.ID))
	assert.Equal(t, "300.00", f.balance(t, staff.ID))

	pending := f.credit(t, staff.ID, "50")
	require.NoError(t, f.svc.Delete(ctx, admin, pending.ID))
	assert.Equal(t, "300.00", f.balance(t, staff.ID))

	_, err = f.svc.GetTransaction(ctx, admin, pending.ID)
	require.ErrorIs(t, err, ledgerdomain.ErrTransactionNotFound)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	txn := f.credit(t, staff.ID, "75")
	_, err := f.svc.Confirm(ctx, staff, txn.ID)
	require.NoError(t, err)

	result, err := f.svc.Reconcile(ctx, admin, staff.ID)
	require.NoError(t, err)
	assert.False(t, result.Corrected)

	require.NoError(t, f.conn.Exec(`UPDATE accounts SET current_balance = ? WHERE id = ?`, int64(999), staff.ID).Error)
	assert.Equal(t, "9.99", f.balance(t, staff.ID))

	replayed, err := f.svc.ReplayBalance(ctx, staff, staff.ID)
	require.NoError(t, err)
	assert.Equal(t, "75.00", replayed.String())

	result, err = f.svc.Reconcile(ctx, admin, staff.ID)
	require.NoError(t, err)
	assert.True(t, result.Corrected)
	assert.Equal(t, "9.99", result.Cached.String())
	assert.Equal(t, "75.00", result.Replayed.String())
	assert.Equal(t, "75.00", f.balance(t, staff.ID))
	assert.Contains(t, f.publisher.Types(), events.TypeBalanceReconciled)

	_, err = f.svc.Reconcile(ctx, staff, staff.ID)
	require.ErrorIs(t, err, ledgererr.ErrForbidden)
}

func TestReconcileAllCoversEveryAccount(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())

	results, err := f.svc.ReconcileAll(context.Background(), principal.System())
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestListTransactionsScopesStaffToOwnAccount(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	f.credit(t, staff.ID, "10")
	f.credit(t, staff.ID, "20")
	f.credit(t, other.ID, "30")

	resp, err := f.svc.ListTransactions(ctx, staff, ledgerdomain.ListTransactionRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Transactions, 2)
	for _, txn := range resp.Transactions {
		assert.Equal(t, staff.ID, txn.AccountID)
	}

	_, err = f.svc.ListTransactions(ctx, staff, ledgerdomain.ListTransactionRequest{AccountID: other.ID})
	require.ErrorIs(t, err, ledgerdomain.ErrNotOwner)

	all, err := f.svc.ListTransactions(ctx, admin, ledgerdomain.ListTransactionRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Transactions, 3)
}

func TestListTransactionsPaginates(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.credit(t, staff.ID, "1")
		f.clock.Advance(time.Second)
	}

	req := ledgerdomain.ListTransactionRequest{AccountID: staff.ID}
	req.PageSize = 2
	seen := map[snowflake.ID]bool{}
	for page := 0; page < 3; page++ {
		resp, err := f.svc.ListTransactions(ctx, admin, req)
		require.NoError(t, err)
		for _, txn := range resp.Transactions {
			assert.False(t, seen[txn.ID])
			seen[txn.ID] = true
		}
		if !resp.HasMore {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	assert.Len(t, seen, 5)

	req.PageToken = "not-a-token"
	_, err := f.svc.ListTransactions(ctx, admin, req)
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)
}

func TestAccountSummary(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	confirmed := f.credit(t, staff.ID, "200")
	_, err := f.svc.Confirm(ctx, staff, confirmed.ID)
	require.NoError(t, err)
	f.credit(t, staff.ID, "50")
	_, err = f.svc.RecordDebit(ctx, staff, ledgerdomain.RecordRequest{
		AccountID: staff.ID,
		Amount:    money.MustParse("30.25"),
		Reason:    "parking",
	})
	require.NoError(t, err)

	summary, err := f.svc.AccountSummary(ctx, staff, staff.ID)
	require.NoError(t, err)
	assert.Equal(t, "169.75", summary.Account.CurrentBalance.String())
	assert.Equal(t, "50.00", summary.PendingCredits.String())
	assert.Equal(t, int64(1), summary.PendingCount)
	assert.Equal(t, "200.00", summary.TotalCredited.String())
	assert.Equal(t, "30.25", summary.TotalDebited.String())
}

func TestCreateAccountRejectsDuplicates(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())

	_, err := f.svc.CreateAccount(context.Background(), admin, ledgerdomain.CreateAccountRequest{
		ID:          staff.ID,
		DisplayName: "Again",
		Role:        principal.RoleStaff,
	})
	require.ErrorIs(t, err, ledgerdomain.ErrAccountExists)

	_, err = f.svc.CreateAccount(context.Background(), staff, ledgerdomain.CreateAccountRequest{
		DisplayName: "Nope",
		Role:        principal.RoleStaff,
	})
	require.ErrorIs(t, err, ledgererr.ErrForbidden)
}

// Replaying confirmed amounts always matches the cache after a mixed workflow.
func TestBalanceConservation(t *testing.T) {
	f := newFixture(t, config.DefaultLedgerConfig())
	ctx := context.Background()

	for _, amount := range []string{"100", "45.55", "0.01"} {
		txn := f.credit(t, staff.ID, amount)
		_, err := f.svc.Confirm(ctx, staff, txn.ID)
		require.NoError(t, err)
	}
	rejected := f.credit(t, staff.ID, "999")
	_, err := f.svc.Reject(ctx, staff, rejected.ID)
	require.NoError(t, err)
	for _, amount := range []string{"20", "0.56"} {
		_, err := f.svc.RecordDebit(ctx, staff, ledgerdomain.RecordRequest{
			AccountID: staff.ID,
			Amount:    money.MustParse(amount),
			Reason:    "spend",
		})
		require.NoError(t, err)
	}

	cached, err := f.svc.CurrentBalance(ctx, staff, staff.ID)
	require.NoError(t, err)
	replayed, err := f.svc.ReplayBalance(ctx, staff, staff.ID)
	require.NoError(t, err)
	assert.Equal(t, "125.00", cached.String())
	assert.True(t, cached.Equal(replayed))
}
