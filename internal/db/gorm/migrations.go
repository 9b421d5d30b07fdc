package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: sessions
		{
			ID: "001_sessions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SessionRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sessions")
			},
		},

		// Migration 002: append-only session event log
		{
			ID: "002_session_events",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&EventRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("session_events")
			},
		},

		// Migration 003: per-user recency lookups for reporting
		{
			ID: "003_sessions_user_start_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_user_start
					ON sessions (user_id, start_time_epoch DESC)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_sessions_user_start").Error
			},
		},
	})

	return m.Migrate()
}
