// Package gorm provides GORM-based database operations for hemoscan.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: user records
		{
			ID: "001_users",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&UserRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("users")
			},
		},

		// Migration 002: batch archive
		{
			ID: "002_batches",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&BatchRecord{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ResultRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("batch_results", "batches")
			},
		},
	})

	return m.Migrate()
}
