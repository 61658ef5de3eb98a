package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
)

type Type string

const (
	TypeFixed    Type = "fixed"
	TypeVariable Type = "variable"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Expense is an operating cost. When DeductFromCustody is set the owner's
// custody balance funds it through BalanceTransactionID.
type Expense struct {
	ID                   snowflake.ID  `gorm:"primaryKey" json:"id"`
	Description          string        `gorm:"type:text;not null" json:"description"`
	Amount               money.Money   `gorm:"type:bigint;not null" json:"amount"`
	Category             string        `gorm:"type:varchar(64);not null;index" json:"category"`
	Date                 time.Time     `gorm:"not null;index" json:"date"`
	Type                 Type          `gorm:"type:varchar(16);not null" json:"type"`
	OwnerID              snowflake.ID  `gorm:"not null;index" json:"owner_id"`
	DeductFromCustody    bool          `gorm:"not null;default:false" json:"deduct_from_custody"`
	BalanceTransactionID *snowflake.ID `json:"balance_transaction_id,omitempty"`
	Status               Status        `gorm:"type:varchar(16);not null;index" json:"status"`
	ApprovedBy           *snowflake.ID `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time    `json:"approved_at,omitempty"`
	RejectionReason      *string       `gorm:"type:text" json:"rejection_reason,omitempty"`
	CreatedBy            snowflake.ID  `gorm:"not null" json:"created_by"`
	CreatedAt            time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"not null" json:"updated_at"`
}

func (Expense) TableName() string { return "expenses" }

func (e Expense) Deducted() bool {
	return e.BalanceTransactionID != nil && *e.BalanceTransactionID != 0
}

type CategoryTotal struct {
	Category string      `gorm:"column:category" json:"category"`
	Type     Type        `gorm:"column:type" json:"type"`
	Total    money.Money `gorm:"column:total" json:"total"`
	Count    int64       `gorm:"column:count" json:"count"`
}
