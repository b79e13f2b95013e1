// Package gorm provides GORM-based database operations for hemoscan.
package gorm

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store represents the database connection.
type Store struct {
	DB *gorm.DB
}

// Config holds database configuration. When DatabaseURL is set the store
// connects to Postgres (central clinic server); otherwise it opens the
// device-local SQLite file at Path.
type Config struct {
	Path        string
	DatabaseURL string
	MaxConns    int             // Maximum number of open connections (default: 4)
	LogLevel    logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database, runs migrations, and configures the pool.
// SQLite gets WAL mode and a busy timeout for concurrent reads.
func NewStore(cfg Config) (*Store, error) {
	dialector := gorm.Dialector(nil)
	if cfg.DatabaseURL != "" {
		dialector = postgres.Open(cfg.DatabaseURL)
	} else {
		dialector = sqlite.Open(cfg.Path + "?_foreign_keys=ON")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if cfg.DatabaseURL == "" {
		// WAL mode and a busy timeout keep the device-local file usable
		// under concurrent reads from the worker API
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
