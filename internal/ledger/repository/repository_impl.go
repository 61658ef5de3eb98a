package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/money"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertAccount(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, display_name, role, current_balance, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.DisplayName,
		string(account.Role),
		account.CurrentBalance,
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, display_name, role, current_balance, version, created_at, updated_at
		 FROM accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) ListAccounts(ctx context.Context, db *gorm.DB) ([]*domain.Account, error) {
	var accounts []*domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, display_name, role, current_balance, version, created_at, updated_at
		 FROM accounts ORDER BY display_name ASC, id ASC`,
	).Scan(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.BalanceTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO balance_transactions (
			id, account_id, amount, kind, reason, transaction_date, created_by,
			status, confirmed_by, confirmed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.AccountID,
		txn.Amount,
		string(txn.Kind),
		txn.Reason,
		txn.TransactionDate,
		txn.CreatedBy,
		string(txn.Status),
		txn.ConfirmedBy,
		txn.ConfirmedAt,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BalanceTransaction, error) {
	var txn domain.BalanceTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, amount, kind, reason, transaction_date, created_by,
		        status, confirmed_by, confirmed_at, created_at, updated_at
		 FROM balance_transactions WHERE id = ?`,
		id,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, filter domain.ListTransactionFilter) ([]*domain.BalanceTransaction, error) {
	var txns []*domain.BalanceTransaction
	stmt := db.WithContext(ctx).Model(&domain.BalanceTransaction{})
	if filter.AccountID != 0 {
		stmt = stmt.Where("account_id = ?", filter.AccountID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", string(filter.Kind))
	}
	if filter.From != nil {
		stmt = stmt.Where("transaction_date >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("transaction_date <= ?", filter.To.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// TransitionStatus moves a transaction out of from. It reports false when
// another writer already moved it.
func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, actor snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE balance_transactions
		 SET status = ?, confirmed_by = ?, confirmed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to),
		actor,
		at,
		at,
		id,
		string(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) DeleteTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM balance_transactions WHERE id = ? AND status = ?`,
		id,
		string(status),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) CountFundedRecords(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT
		   (SELECT COUNT(*) FROM payable_payments WHERE balance_transaction_id = ?) +
		   (SELECT COUNT(*) FROM expenses WHERE balance_transaction_id = ?)`,
		id,
		id,
	).Scan(&count).Error
	return count, err
}

// ApplyDelta adds delta to the cached balance server-side.
func (r *repo) ApplyDelta(ctx context.Context, db *gorm.DB, accountID snowflake.ID, delta money.Money, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET current_balance = current_balance + ?, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		delta,
		at,
		accountID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ApplyGuardedDebit subtracts amount only while the balance covers it.
func (r *repo) ApplyGuardedDebit(ctx context.Context, db *gorm.DB, accountID snowflake.ID, amount money.Money, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET current_balance = current_balance - ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND current_balance >= ?`,
		amount,
		at,
		accountID,
		amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SetBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID, expectedVersion int64, balance money.Money, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET current_balance = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		balance,
		at,
		accountID,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SumConfirmed(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (money.Money, error) {
	var row struct {
		Total money.Money `gorm:"column:total"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total
		 FROM balance_transactions
		 WHERE account_id = ? AND status = ?`,
		accountID,
		string(domain.StatusConfirmed),
	).Scan(&row).Error
	if err != nil {
		return money.Zero(), err
	}
	return row.Total, nil
}

func (r *repo) Totals(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.KindStatusTotal, error) {
	var totals []domain.KindStatusTotal
	err := db.WithContext(ctx).Raw(
		`SELECT kind, status, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count
		 FROM balance_transactions
		 WHERE account_id = ?
		 GROUP BY kind, status`,
		accountID,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}
