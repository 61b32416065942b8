package database

import (
	"embed"
	"fmt"
	"log/slog"
	"time"

	"pos-backend/internal/config"
	"pos-backend/internal/models"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to Postgres, retrying while the database comes up, then
// runs AutoMigrate for the tables and goose for indexes and functions that
// gorm tags cannot express.
func Open(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	logMode := logger.Warn
	if cfg.Env == "dev" {
		logMode = logger.Info
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < 5; i++ {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
			Logger:         logger.Default.LogMode(logMode),
			TranslateError: true,
		})
		if err == nil {
			break
		}
		log.Warn("database not ready, retrying", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("database connected, migrations applied")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Customer{},
		&models.Product{},
		&models.SerializedUnit{},
		&models.Sale{},
		&models.SaleItem{},
		&models.PaymentInstallment{},
		&models.Payment{},
		&models.CashRegister{},
		&models.CashMovement{},
		&models.CashRegisterSale{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("goose migrations failed: %w", err)
	}
	return nil
}
