package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/opsledger/internal/audit/domain"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
	payabledomain "github.com/smallbiznis/opsledger/internal/payable/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema. Already-applied
// versions are skipped.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. Used for sqlite and
// mysql deployments where the postgres-only SQL files cannot run.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	return conn.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.BalanceTransaction{},
		&expensedomain.Expense{},
		&orderdomain.PaymentMethod{},
		&orderdomain.Order{},
		&orderdomain.LineItem{},
		&payabledomain.Entry{},
		&payabledomain.Payment{},
		&auditdomain.AuditLog{},
	)
}
