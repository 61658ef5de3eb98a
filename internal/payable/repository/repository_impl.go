package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/payable/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) FindEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Entry, error) {
	var entries []*domain.Entry
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (r *repo) FindEntryForOrder(ctx context.Context, db *gorm.DB, orderRef string, supplierID snowflake.ID) (*domain.Entry, error) {
	var entries []*domain.Entry
	err := db.WithContext(ctx).
		Where("order_ref = ? AND supplier_id = ?", orderRef, supplierID).
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{})
	if filter.SupplierID != 0 {
		stmt = stmt.Where("supplier_id = ?", filter.SupplierID)
	}
	if ref := strings.TrimSpace(filter.OrderRef); ref != "" {
		stmt = stmt.Where("order_ref = ?", ref)
	}
	if filter.OutstandingOnly {
		stmt = stmt.Where("remaining_amount > 0")
	}
	if err := stmt.Order("created_at desc, id desc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ApplyPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, amount money.Money, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payable_entries
		 SET paid_amount = paid_amount + ?,
		     remaining_amount = remaining_amount - ?,
		     version = version + 1,
		     updated_at = ?
		 WHERE id = ? AND version = ? AND remaining_amount >= ?`,
		amount,
		amount,
		at,
		id,
		expectedVersion,
		amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) DeleteEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM payable_entries WHERE id = ?`, id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SupplierTotals(ctx context.Context, db *gorm.DB) ([]domain.SupplierTotal, error) {
	var totals []domain.SupplierTotal
	err := db.WithContext(ctx).Raw(
		`SELECT supplier_id,
		        MAX(supplier_name) AS supplier_name,
		        COUNT(*) AS entries,
		        COALESCE(SUM(amount), 0) AS amount,
		        COALESCE(SUM(paid_amount), 0) AS paid,
		        COALESCE(SUM(remaining_amount), 0) AS remaining
		 FROM payable_entries
		 GROUP BY supplier_id
		 ORDER BY remaining DESC, supplier_id ASC`,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

type paymentRepo struct{}

func ProvidePayments() domain.PaymentRepository {
	return &paymentRepo{}
}

func (r *paymentRepo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payable_payments (id, entry_id, paid_amount, payer_account_id, balance_transaction_id, paid_at, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.EntryID,
		payment.PaidAmount,
		payment.PayerAccountID,
		payment.BalanceTransactionID,
		payment.PaidAt,
		payment.Notes,
	).Error
}

func (r *paymentRepo) ListPayments(ctx context.Context, db *gorm.DB, entryID snowflake.ID) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("paid_at asc, id asc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *paymentRepo) DeletePayments(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM payable_payments WHERE entry_id = ?`, entryID)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *paymentRepo) SumPayments(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (money.Money, error) {
	var row struct {
		Total money.Money `gorm:"column:total"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(paid_amount), 0) AS total FROM payable_payments WHERE entry_id = ?`,
		entryID,
	).Scan(&row).Error
	if err != nil {
		return money.Zero(), err
	}
	return row.Total, nil
}
