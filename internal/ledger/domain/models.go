package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/principal"
)

type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Account is one custody holder. CurrentBalance caches the sum of confirmed amounts.
type Account struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	DisplayName    string         `gorm:"type:varchar(255);not null" json:"display_name"`
	Role           principal.Role `gorm:"type:varchar(32);not null" json:"role"`
	CurrentBalance money.Money    `gorm:"type:bigint;not null;default:0" json:"current_balance"`
	Version        int64          `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// BalanceTransaction is a signed credit or debit. Amount never changes once confirmed.
type BalanceTransaction struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID       snowflake.ID  `gorm:"not null;index" json:"account_id"`
	Amount          money.Money   `gorm:"type:bigint;not null" json:"amount"`
	Kind            Kind          `gorm:"type:varchar(16);not null" json:"kind"`
	Reason          string        `gorm:"type:text;not null" json:"reason"`
	TransactionDate time.Time     `gorm:"not null;index" json:"transaction_date"`
	CreatedBy       snowflake.ID  `gorm:"not null" json:"created_by"`
	Status          Status        `gorm:"type:varchar(16);not null;index" json:"status"`
	ConfirmedBy     *snowflake.ID `json:"confirmed_by,omitempty"`
	ConfirmedAt     *time.Time    `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (BalanceTransaction) TableName() string { return "balance_transactions" }

// Effect is the signed change this transaction makes to its account once confirmed.
func (t BalanceTransaction) Effect() money.Money {
	if t.Status != StatusConfirmed {
		return money.Zero()
	}
	return t.Amount
}

type KindStatusTotal struct {
	Kind   Kind        `gorm:"column:kind"`
	Status Status      `gorm:"column:status"`
	Total  money.Money `gorm:"column:total"`
	Count  int64       `gorm:"column:count"`
}
