package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindOrder(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		Where("id = ?", id).
		Limit(1).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (r *repo) ListOrders(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		Where("order_date >= ? AND order_date <= ?", from.UTC(), to.UTC()).
		Order("order_date asc, id asc").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) ListPaymentMethods(ctx context.Context, db *gorm.DB) ([]domain.PaymentMethod, error) {
	var methods []domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT code, name, percentage_fee, fixed_fee, active
		 FROM payment_methods ORDER BY code ASC`,
	).Scan(&methods).Error
	if err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repo) Lock(ctx context.Context, db *gorm.DB, id snowflake.ID, by snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET locked = ?, locked_by = ?, locked_at = ?
		 WHERE id = ? AND locked = ? AND status <> ?`,
		true,
		by,
		at.UTC(),
		id,
		false,
		string(domain.StatusCancelled),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, c domain.Cancellation) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, locked = ?, cancelled_by = ?, cancelled_at = ?, cancellation_reason = ?, cancellation_fee = ?, fee_bearer = ?
		 WHERE id = ? AND status <> ?`,
		string(domain.StatusCancelled),
		false,
		c.By,
		c.At.UTC(),
		c.Reason,
		c.Fee,
		string(c.FeeBearer),
		id,
		string(domain.StatusCancelled),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
