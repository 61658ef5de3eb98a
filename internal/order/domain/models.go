package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/opsledger/internal/money"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// FeeBearer names who absorbs a cancellation fee. Store-borne fees become expenses.
type FeeBearer string

const (
	FeeBearerCustomer FeeBearer = "customer"
	FeeBearerStore    FeeBearer = "store"
)

// Order is synced from the storefront. Only locked orders count toward profit
// and originate supplier payables.
type Order struct {
	ID                 snowflake.ID  `gorm:"primaryKey" json:"id"`
	Number             string        `gorm:"type:varchar(64);not null;uniqueIndex" json:"number"`
	TotalPrice         money.Money   `gorm:"type:bigint;not null" json:"total_price"`
	ShippingCost       money.Money   `gorm:"type:bigint;not null" json:"shipping_cost"`
	ShippingCompany    string        `gorm:"type:varchar(128)" json:"shipping_company"`
	PaymentMethodCode  string        `gorm:"type:varchar(64)" json:"payment_method_code"`
	Status             Status        `gorm:"type:varchar(32);not null" json:"status"`
	Locked             bool          `gorm:"not null;default:false" json:"locked"`
	LockedBy           *snowflake.ID `json:"locked_by,omitempty"`
	LockedAt           *time.Time    `json:"locked_at,omitempty"`
	CancelledBy        *snowflake.ID `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason *string       `gorm:"type:text" json:"cancellation_reason,omitempty"`
	CancellationFee    money.Money   `gorm:"type:bigint;not null;default:0" json:"cancellation_fee"`
	FeeBearer          FeeBearer     `gorm:"type:varchar(16)" json:"fee_bearer,omitempty"`
	OrderDate          time.Time     `gorm:"not null;index" json:"order_date"`
	CreatedAt          time.Time     `gorm:"not null" json:"created_at"`
	Items              []LineItem    `gorm:"foreignKey:OrderID" json:"items"`
}

func (Order) TableName() string { return "orders" }

func (o Order) Cancelled() bool { return o.Status == StatusCancelled }

type LineItem struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID      snowflake.ID `gorm:"not null;index" json:"order_id"`
	ProductName  string       `gorm:"type:varchar(255)" json:"product_name"`
	Quantity     int          `gorm:"not null;default:1" json:"quantity"`
	SupplierID   snowflake.ID `gorm:"index" json:"supplier_id"`
	SupplierName string       `gorm:"type:varchar(255)" json:"supplier_name"`
	CostInclTax  money.Money  `gorm:"type:bigint;not null" json:"cost_incl_tax"`
}

func (LineItem) TableName() string { return "order_line_items" }

// PaymentMethod charges PercentageFee percent of revenue plus FixedFee per order.
type PaymentMethod struct {
	Code          string          `gorm:"primaryKey;type:varchar(64)" json:"code"`
	Name          string          `gorm:"type:varchar(128);not null" json:"name"`
	PercentageFee decimal.Decimal `gorm:"type:numeric(8,4);not null" json:"percentage_fee"`
	FixedFee      money.Money     `gorm:"type:bigint;not null" json:"fixed_fee"`
	Active        bool            `gorm:"not null;default:true" json:"active"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }
