package db

import (
	"fmt"
	"log/slog"

	"qaboard/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres. The returned handle is safe for concurrent use.
func Open(dsn string, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	log.Info("Database connection established", slog.String("event", "db.connected"))
	return gdb, nil
}

// Migrate creates or updates the forum tables.
func Migrate(gdb *gorm.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	// Order matters: answers reference questions, votes reference answers.
	err := gdb.AutoMigrate(
		&models.Question{},
		&models.Answer{},
		&models.Vote{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	log.Info("Database migration completed", slog.String("event", "db.migrated"))
	return nil
}
