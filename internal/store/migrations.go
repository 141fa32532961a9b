package store

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: item state machine
		{
			ID: "001_items",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Item{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("items")
			},
		},

		// Migration 002: suggestion result records
		{
			ID: "002_suggestions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Suggestion{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&SuggestionItem{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("suggestion_items", "suggestions")
			},
		},
	})

	return m.Migrate()
}
