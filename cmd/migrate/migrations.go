package main

import (
	"gorm.io/gorm"

	"github.com/sbt-vault/engine/internal/models"
)

// runMigrations executes all database migrations
func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return err
	}
	return runCustomMigrations(db)
}

// runCustomMigrations adds the constraints AutoMigrate cannot express.
func runCustomMigrations(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		enableUUIDExtension,
		addOneActiveRequestIndex,
		addMintRequestStatusCheck,
		addArtifactOwnershipCheck,
		addNotificationInboxIndex,
	}

	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}

	return nil
}

func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addOneActiveRequestIndex allows at most one pending or verified request per user.
func addOneActiveRequestIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_mint_requests_one_active
		ON mint_requests(user_id)
		WHERE status IN ('pending', 'verified')
	`).Error
}

func addMintRequestStatusCheck(db *gorm.DB) error {
	return addConstraint(db, "mint_requests", "chk_mint_requests_status",
		`CHECK (status IN ('pending', 'verified', 'approved', 'rejected'))`)
}

// addArtifactOwnershipCheck ties the minted status to an owner and mint time.
func addArtifactOwnershipCheck(db *gorm.DB) error {
	return addConstraint(db, "sbts", "chk_sbts_minted_owner", `CHECK (
		(status = 'minted' AND owner_id IS NOT NULL AND minted_at IS NOT NULL)
		OR (status = 'available' AND owner_id IS NULL)
	)`)
}

func addNotificationInboxIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_notifications_inbox
		ON notifications(user_id, created_at DESC)
		WHERE is_read = false
	`).Error
}

// addConstraint is idempotent; Postgres has no ADD CONSTRAINT IF NOT EXISTS.
func addConstraint(db *gorm.DB, table, name, def string) error {
	var n int64
	if err := db.Raw(`SELECT COUNT(*) FROM pg_constraint WHERE conname = ?`, name).Scan(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return db.Exec(`ALTER TABLE ` + table + ` ADD CONSTRAINT ` + name + ` ` + def).Error
}
