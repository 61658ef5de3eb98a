package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/opsledger/internal/config"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
	"github.com/smallbiznis/opsledger/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names, err := fs.Glob(sub, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	require.Equal(t, ups, downs)
}

func TestRunAutoMigratesNonPostgres(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	cfg := config.Config{DBType: "sqlite", DBMigrate: true}
	require.NoError(t, Run(conn, cfg, zap.NewNop()))

	for _, table := range []string{
		"accounts", "balance_transactions", "expenses", "orders", "order_line_items",
		"payment_methods", "payable_entries", "payable_payments", "audit_logs",
	} {
		require.True(t, conn.Migrator().HasTable(table), table)
	}
	for _, column := range []string{"locked_by", "cancelled_at", "cancellation_fee", "fee_bearer"} {
		require.True(t, conn.Migrator().HasColumn(&orderdomain.Order{}, column), column)
	}
}

func TestRunSkipsWhenDisabled(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	require.NoError(t, Run(conn, config.Config{DBType: "sqlite"}, zap.NewNop()))
	require.False(t, conn.Migrator().HasTable("accounts"))
}
