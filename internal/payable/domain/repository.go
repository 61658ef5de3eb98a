package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"gorm.io/gorm"
)

type ListFilter struct {
	SupplierID      snowflake.ID
	OrderRef        string
	OutstandingOnly bool
}

type Repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	FindEntryForOrder(ctx context.Context, db *gorm.DB, orderRef string, supplierID snowflake.ID) (*Entry, error)
	ListEntries(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	// ApplyPayment moves amount from remaining to paid when the entry is still
	// at expectedVersion and covers it. False means another writer got there first.
	ApplyPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, amount money.Money, at time.Time) (bool, error)
	DeleteEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	SupplierTotals(ctx context.Context, db *gorm.DB) ([]SupplierTotal, error)
}

// PaymentRepository is split out so payment recording can fail independently
// of the entry update.
type PaymentRepository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	ListPayments(ctx context.Context, db *gorm.DB, entryID snowflake.ID) ([]*Payment, error)
	DeletePayments(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (int64, error)
	SumPayments(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (money.Money, error)
}
