package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/expense/domain"
	"github.com/smallbiznis/opsledger/internal/money"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, expense *domain.Expense) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO expenses (
			id, description, amount, category, date, type, owner_id, deduct_from_custody,
			balance_transaction_id, status, approved_by, approved_at, rejection_reason,
			created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.ID,
		expense.Description,
		expense.Amount,
		expense.Category,
		expense.Date,
		string(expense.Type),
		expense.OwnerID,
		expense.DeductFromCustody,
		expense.BalanceTransactionID,
		string(expense.Status),
		expense.ApprovedBy,
		expense.ApprovedAt,
		expense.RejectionReason,
		expense.CreatedBy,
		expense.CreatedAt,
		expense.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Expense, error) {
	var expense domain.Expense
	err := db.WithContext(ctx).Raw(
		`SELECT id, description, amount, category, date, type, owner_id, deduct_from_custody,
		        balance_transaction_id, status, approved_by, approved_at, rejection_reason,
		        created_by, created_at, updated_at
		 FROM expenses WHERE id = ?`,
		id,
	).Scan(&expense).Error
	if err != nil {
		return nil, err
	}
	if expense.ID == 0 {
		return nil, nil
	}
	return &expense, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Expense, error) {
	var expenses []*domain.Expense
	stmt := applyFilter(db.WithContext(ctx).Model(&domain.Expense{}), filter)
	if err := stmt.Order("date desc, id desc").Find(&expenses).Error; err != nil {
		return nil, err
	}
	return expenses, nil
}

func (r *repo) Approve(ctx context.Context, db *gorm.DB, id snowflake.ID, approver snowflake.ID, balanceTxnID *snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE expenses
		 SET status = ?, approved_by = ?, approved_at = ?, balance_transaction_id = COALESCE(?, balance_transaction_id), updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusApproved),
		approver,
		at,
		balanceTxnID,
		at,
		id,
		string(domain.StatusPending),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Reject(ctx context.Context, db *gorm.DB, id snowflake.ID, approver snowflake.ID, reason string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE expenses
		 SET status = ?, approved_by = ?, approved_at = ?, rejection_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusRejected),
		approver,
		at,
		reason,
		at,
		id,
		string(domain.StatusPending),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM expenses WHERE id = ?`, id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) CategoryTotals(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.CategoryTotal, error) {
	var totals []domain.CategoryTotal
	stmt := applyFilter(db.WithContext(ctx).Model(&domain.Expense{}), filter)
	err := stmt.
		Select("category, type, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Group("category, type").
		Order("category asc").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *repo) SumApproved(ctx context.Context, db *gorm.DB, from, to time.Time) (money.Money, error) {
	var row struct {
		Total money.Money `gorm:"column:total"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total
		 FROM expenses
		 WHERE status = ? AND date >= ? AND date <= ?`,
		string(domain.StatusApproved),
		from.UTC(),
		to.UTC(),
	).Scan(&row).Error
	if err != nil {
		return money.Zero(), err
	}
	return row.Total, nil
}

func applyFilter(stmt *gorm.DB, filter domain.ListFilter) *gorm.DB {
	if filter.OwnerID != 0 {
		stmt = stmt.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", string(filter.Type))
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		stmt = stmt.Where("category = ?", category)
	}
	if filter.From != nil {
		stmt = stmt.Where("date >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("date <= ?", filter.To.UTC())
	}
	return stmt
}
