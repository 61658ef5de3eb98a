package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"gorm.io/datatypes"
)

// Entry is an amount owed to a supplier. RemainingAmount is always
// Amount - PaidAmount and never negative.
type Entry struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	SupplierID      snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_payable_order_supplier,priority:2" json:"supplier_id"`
	SupplierName    string            `gorm:"type:varchar(255);not null" json:"supplier_name"`
	OrderRef        *string           `gorm:"type:varchar(64);uniqueIndex:ux_payable_order_supplier,priority:1" json:"order_ref,omitempty"`
	Description     string            `gorm:"type:text;not null" json:"description"`
	Amount          money.Money       `gorm:"type:bigint;not null" json:"amount"`
	PaidAmount      money.Money       `gorm:"type:bigint;not null;default:0" json:"paid_amount"`
	RemainingAmount money.Money       `gorm:"type:bigint;not null" json:"remaining_amount"`
	Version         int64             `gorm:"not null;default:0" json:"version"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedBy       snowflake.ID      `gorm:"not null" json:"created_by"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null" json:"updated_at"`
}

func (Entry) TableName() string { return "payable_entries" }

func (e Entry) Settled() bool { return e.RemainingAmount.IsZero() }

// Payment is one installment against an entry, funded by a custody debit.
type Payment struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	EntryID              snowflake.ID `gorm:"not null;index" json:"entry_id"`
	PaidAmount           money.Money  `gorm:"type:bigint;not null" json:"paid_amount"`
	PayerAccountID       snowflake.ID `gorm:"not null;index" json:"payer_account_id"`
	BalanceTransactionID snowflake.ID `gorm:"not null" json:"balance_transaction_id"`
	PaidAt               time.Time    `gorm:"not null" json:"paid_at"`
	Notes                *string      `gorm:"type:text" json:"notes,omitempty"`
}

func (Payment) TableName() string { return "payable_payments" }

type SupplierTotal struct {
	SupplierID   snowflake.ID `gorm:"column:supplier_id" json:"supplier_id"`
	SupplierName string       `gorm:"column:supplier_name" json:"supplier_name"`
	Entries      int64        `gorm:"column:entries" json:"entries"`
	Amount       money.Money  `gorm:"column:amount" json:"amount"`
	Paid         money.Money  `gorm:"column:paid" json:"paid"`
	Remaining    money.Money  `gorm:"column:remaining" json:"remaining"`
}
