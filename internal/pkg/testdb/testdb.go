// Package testdb opens migrated in-memory SQLite databases for tests.
package testdb

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"khoaugment/internal/bootstrap"
	"khoaugment/internal/models"
)

// New returns a fresh database with all payment tables and the given orders.
// A single connection keeps the in-memory database alive and serializes
// writers the way row locks would.
func New(t testing.TB, orders ...models.Order) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := bootstrap.MigrateAndSeed(db, orders...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
