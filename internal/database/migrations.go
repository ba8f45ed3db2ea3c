package database

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/database/migrations"
	"github.com/charlesng35/ticketdesk/internal/models"
)

// ChangeChannel is the Postgres NOTIFY channel fed by the row triggers.
const ChangeChannel = migrations.ChangeChannel

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Profile{},
		&models.Ticket{},
		&models.TicketMessage{},
		&models.PushSubscription{},
		&models.SystemSetting{},
	)
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return goose.UpContext(ctx, sqlDB, ".")
}

// RunSQLMigrations applies the embedded goose migrations. Only Postgres carries
// trigger-based change notification; other dialects rely on the gorm change plugin.
func RunSQLMigrations(ctx context.Context, db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}

	goose.SetBaseFS(migrations.Postgres)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db)
}
