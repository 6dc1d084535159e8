// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewTestDB opens an isolated in-memory sqlite database with every model migrated.
// A single connection serializes transactions the way row locks would in Postgres.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// CreateProfile inserts a profile with the given role and returns it.
func CreateProfile(t *testing.T, db *gorm.DB, email, role string) *models.Profile {
	t.Helper()
	p := &models.Profile{Email: email, FullName: email, Username: email, PasswordHash: "x", Role: role}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return p
}

// SeedArtifacts inserts ids 1..n as available artifacts.
func SeedArtifacts(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		a := &models.Artifact{ID: i, Name: fmt.Sprintf("Artifact #%03d", i), Rarity: "common", Status: models.ArtifactAvailable}
		if err := db.Create(a).Error; err != nil {
			t.Fatalf("seed artifact %d: %v", i, err)
		}
	}
}
