package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/principal"
)

var ErrInvalidDescription = errors.New("invalid_description")

type IssueRequest struct {
	AccountID snowflake.ID
	Amount    money.Money
	Reason    string
	Date      time.Time
}

// SpendRequest pays an expense out of the account holder's custody.
type SpendRequest struct {
	AccountID   snowflake.ID
	Amount      money.Money
	Description string
	Category    string
	Type        expensedomain.Type
	Date        time.Time
}

type SpendResult struct {
	Expense     expensedomain.Expense           `json:"expense"`
	Transaction ledgerdomain.BalanceTransaction `json:"transaction"`
}

type Summary struct {
	ledgerdomain.AccountSummary
	Recent []ledgerdomain.BalanceTransaction `json:"recent"`
}

type Service interface {
	Issue(ctx context.Context, actor principal.Principal, req IssueRequest) (ledgerdomain.BalanceTransaction, error)
	Acknowledge(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (ledgerdomain.BalanceTransaction, error)
	Decline(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (ledgerdomain.BalanceTransaction, error)
	SpendFromCustody(ctx context.Context, actor principal.Principal, req SpendRequest) (SpendResult, error)
	Summary(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (Summary, error)
}
