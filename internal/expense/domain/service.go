package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/principal"
)

type SubmitRequest struct {
	Description       string
	Amount            money.Money
	Category          string
	Date              time.Time
	Type              Type
	DeductFromCustody bool
}

type ListRequest struct {
	OwnerID  snowflake.ID
	Status   Status
	Type     Type
	Category string
	From     *time.Time
	To       *time.Time
}

type Totals struct {
	Total      money.Money            `json:"total"`
	Fixed      money.Money            `json:"fixed"`
	Variable   money.Money            `json:"variable"`
	Count      int64                  `json:"count"`
	ByCategory map[string]money.Money `json:"by_category"`
}

type Service interface {
	Submit(ctx context.Context, actor principal.Principal, req SubmitRequest) (Expense, error)
	Approve(ctx context.Context, actor principal.Principal, id snowflake.ID) (Expense, error)
	Reject(ctx context.Context, actor principal.Principal, id snowflake.ID, reason string) (Expense, error)
	Delete(ctx context.Context, actor principal.Principal, id snowflake.ID) error
	Get(ctx context.Context, actor principal.Principal, id snowflake.ID) (Expense, error)
	List(ctx context.Context, actor principal.Principal, req ListRequest) ([]Expense, error)
	// Totals sums approved expenses matching req.
	Totals(ctx context.Context, actor principal.Principal, req ListRequest) (Totals, error)
}
