package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/smallbiznis/opsledger/internal/money"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound       = fmt.Errorf("%w: order", ledgererr.ErrNotFound)
	ErrOrderNotLocked      = fmt.Errorf("%w: order is not locked", ledgererr.ErrInvalidState)
	ErrOrderCancelled      = fmt.Errorf("%w: order is cancelled", ledgererr.ErrInvalidState)
	ErrInvalidRange        = errors.New("invalid_range")
	ErrInvalidCancelReason = errors.New("invalid_cancellation_reason")
	ErrInvalidFeeBearer    = errors.New("invalid_fee_bearer")
	ErrInvalidCancelFee    = fmt.Errorf("%w: cancellation fee must not be negative", ledgererr.ErrInvalidAmount)
)

// Cancellation is the state stamped on an order when it is cancelled.
type Cancellation struct {
	By        snowflake.ID
	At        time.Time
	Reason    string
	Fee       money.Money
	FeeBearer FeeBearer
}

// Repository reads orders. Orders are created by the storefront sync; this
// module only moves them through lock and cancellation.
type Repository interface {
	FindOrder(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListOrders(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Order, error)
	ListPaymentMethods(ctx context.Context, db *gorm.DB) ([]PaymentMethod, error)
	// Lock reports false when the order is already locked or cancelled.
	Lock(ctx context.Context, db *gorm.DB, id snowflake.ID, by snowflake.ID, at time.Time) (bool, error)
	// Cancel reports false when the order is already cancelled.
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, c Cancellation) (bool, error)
}
