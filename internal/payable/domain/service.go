package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/principal"
)

type OpenRequest struct {
	SupplierID   snowflake.ID
	SupplierName string
	OrderRef     string
	Description  string
	Amount       money.Money
}

type PayRequest struct {
	EntryID snowflake.ID
	// PayerAccountID defaults to the acting principal.
	PayerAccountID snowflake.ID
	Amount         money.Money
	Notes          string
}

type Service interface {
	Open(ctx context.Context, actor principal.Principal, req OpenRequest) (Entry, error)
	// OpenForOrder opens one entry per supplier on a locked order. Calling it
	// again returns the entries already opened.
	OpenForOrder(ctx context.Context, actor principal.Principal, orderID snowflake.ID) ([]Entry, error)
	Pay(ctx context.Context, actor principal.Principal, req PayRequest) (Payment, error)
	Delete(ctx context.Context, actor principal.Principal, entryID snowflake.ID) error
	Get(ctx context.Context, actor principal.Principal, entryID snowflake.ID) (Entry, error)
	List(ctx context.Context, actor principal.Principal, filter ListFilter) ([]Entry, error)
	ListPayments(ctx context.Context, actor principal.Principal, entryID snowflake.ID) ([]Payment, error)
	SupplierTotals(ctx context.Context, actor principal.Principal) ([]SupplierTotal, error)
}
