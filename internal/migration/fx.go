package migration

import (
	"github.com/smallbiznis/opsledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

// Run brings the schema up to date when DATABASE_MIGRATE is set.
func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if !cfg.DBMigrate {
		log.Info("schema migration disabled")
		return nil
	}
	if cfg.DBType != "postgres" {
		log.Info("applying gorm automigrate", zap.String("type", cfg.DBType))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("schema up to date")
	return nil
}
