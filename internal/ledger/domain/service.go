package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/principal"
	"github.com/smallbiznis/opsledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordRequest struct {
	AccountID       snowflake.ID
	Amount          money.Money
	Reason          string
	TransactionDate time.Time
	// Override lets an administrator take the balance below zero when settings allow it.
	Override bool
}

type CreateAccountRequest struct {
	// ID is the principal id issued by the authentication collaborator. Zero generates one.
	ID          snowflake.ID
	DisplayName string
	Role        principal.Role
}

type ListTransactionRequest struct {
	pagination.Pagination
	AccountID snowflake.ID
	Status    Status
	Kind      Kind
	From      *time.Time
	To        *time.Time
}

type ListTransactionResponse struct {
	pagination.PageInfo
	Transactions []BalanceTransaction `json:"transactions"`
}

type AccountSummary struct {
	Account        Account     `json:"account"`
	PendingCredits money.Money `json:"pending_credits"`
	PendingCount   int64       `json:"pending_count"`
	TotalCredited  money.Money `json:"total_credited"`
	TotalDebited   money.Money `json:"total_debited"`
}

type ReconcileResult struct {
	AccountID snowflake.ID `json:"account_id"`
	Cached    money.Money  `json:"cached"`
	Replayed  money.Money  `json:"replayed"`
	Corrected bool         `json:"corrected"`
}

type Service interface {
	CreateAccount(ctx context.Context, actor principal.Principal, req CreateAccountRequest) (Account, error)
	GetAccount(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (Account, error)
	ListAccounts(ctx context.Context, actor principal.Principal) ([]Account, error)

	RecordCredit(ctx context.Context, actor principal.Principal, req RecordRequest) (BalanceTransaction, error)
	RecordDebit(ctx context.Context, actor principal.Principal, req RecordRequest) (BalanceTransaction, error)
	Confirm(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (BalanceTransaction, error)
	Reject(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (BalanceTransaction, error)
	Delete(ctx context.Context, actor principal.Principal, txnID snowflake.ID) error

	GetTransaction(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (BalanceTransaction, error)
	ListTransactions(ctx context.Context, actor principal.Principal, req ListTransactionRequest) (ListTransactionResponse, error)

	CurrentBalance(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (money.Money, error)
	ReplayBalance(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (money.Money, error)
	AccountSummary(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (AccountSummary, error)
	Reconcile(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (ReconcileResult, error)
	ReconcileAll(ctx context.Context, actor principal.Principal) ([]ReconcileResult, error)
}

// Poster applies balance effects inside a transaction owned by the caller, so a
// debit commits or rolls back together with the caller's own writes.
// Authorization stays with the caller.
type Poster interface {
	DebitTx(ctx context.Context, tx *gorm.DB, actor principal.Principal, req RecordRequest) (BalanceTransaction, error)
	CreditConfirmedTx(ctx context.Context, tx *gorm.DB, actor principal.Principal, req RecordRequest) (BalanceTransaction, error)
	RemoveTx(ctx context.Context, tx *gorm.DB, txnID snowflake.ID) (BalanceTransaction, error)
}
