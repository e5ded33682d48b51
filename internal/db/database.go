package db

import (
	"fmt"
	stlog "log"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"imovelzap/internal/models"
)

// Open connects to the relational store. A postgres:// DSN selects the
// Postgres driver; anything else is treated as a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.New(
			stlog.New(log.Logger, "", 0),
			gormlogger.Config{
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	}

	var (
		conn *gorm.DB
		err  error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		conn, err = gorm.Open(postgres.Open(dsn), gormCfg)
	} else {
		conn, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Database connection established")
	return conn, nil
}

// Migrate runs the schema migration for all pipeline models.
func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&models.Lead{},
		&models.Conversation{},
		&models.Message{},
		&models.ScheduledMessage{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
