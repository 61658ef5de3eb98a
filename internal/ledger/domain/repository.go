package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"gorm.io/gorm"
)

type TransactionCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListTransactionFilter struct {
	AccountID snowflake.ID
	Status    Status
	Kind      Kind
	From      *time.Time
	To        *time.Time
	Cursor    *TransactionCursor
	Limit     int
}

// Repository is stateless; every method runs on the db handle it is given so
// callers decide the transaction boundary.
type Repository interface {
	InsertAccount(ctx context.Context, db *gorm.DB, account *Account) error
	FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	ListAccounts(ctx context.Context, db *gorm.DB) ([]*Account, error)

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *BalanceTransaction) error
	FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BalanceTransaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, filter ListTransactionFilter) ([]*BalanceTransaction, error)
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, actor snowflake.ID, at time.Time) (bool, error)
	DeleteTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status) (bool, error)
	// CountFundedRecords counts payable payments and expenses whose funding debit is id.
	CountFundedRecords(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)

	ApplyDelta(ctx context.Context, db *gorm.DB, accountID snowflake.ID, delta money.Money, at time.Time) (bool, error)
	ApplyGuardedDebit(ctx context.Context, db *gorm.DB, accountID snowflake.ID, amount money.Money, at time.Time) (bool, error)
	SetBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID, expectedVersion int64, balance money.Money, at time.Time) (bool, error)

	SumConfirmed(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (money.Money, error)
	Totals(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]KindStatusTotal, error)
}
