package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"gorm.io/gorm"
)

type ListFilter struct {
	OwnerID  snowflake.ID
	Status   Status
	Type     Type
	Category string
	From     *time.Time
	To       *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, expense *Expense) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Expense, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Expense, error)
	// Approve moves a pending expense to approved. It reports false when the
	// expense was already decided.
	Approve(ctx context.Context, db *gorm.DB, id snowflake.ID, approver snowflake.ID, balanceTxnID *snowflake.ID, at time.Time) (bool, error)
	Reject(ctx context.Context, db *gorm.DB, id snowflake.ID, approver snowflake.ID, reason string, at time.Time) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	CategoryTotals(ctx context.Context, db *gorm.DB, filter ListFilter) ([]CategoryTotal, error)
	SumApproved(ctx context.Context, db *gorm.DB, from, to time.Time) (money.Money, error)
}
