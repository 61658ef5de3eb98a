package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	"github.com/smallbiznis/opsledger/internal/money"
	payabledomain "github.com/smallbiznis/opsledger/internal/payable/domain"
	"github.com/smallbiznis/opsledger/internal/principal"
)

type CancelRequest struct {
	Reason string
	Fee    money.Money
	// FeeBearer defaults to the customer.
	FeeBearer FeeBearer
}

type LockResult struct {
	Order    Order                 `json:"order"`
	Payables []payabledomain.Entry `json:"payables"`
}

type CancelResult struct {
	Order Order `json:"order"`
	// Expense is set when the store absorbed a non-zero fee.
	Expense *expensedomain.Expense `json:"expense,omitempty"`
}

type Service interface {
	Get(ctx context.Context, actor principal.Principal, id snowflake.ID) (Order, error)
	// Lock freezes the order for profit reporting and opens its supplier
	// payables. Locking a locked order only re-opens missing payables.
	Lock(ctx context.Context, actor principal.Principal, id snowflake.ID) (LockResult, error)
	Cancel(ctx context.Context, actor principal.Principal, id snowflake.ID, req CancelRequest) (CancelResult, error)
}
