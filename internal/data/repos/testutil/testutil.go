package testutil

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ledgerdesk/assistant-backend/internal/data/db"
)

var (
	openOnce sync.Once
	shared   *gorm.DB
	openErr  error
)

// OpenTestDB returns a migrated database for repo tests. It uses
// TEST_POSTGRES_DSN when set and an in-memory sqlite database otherwise, so
// the suite runs without any external service.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	openOnce.Do(func() {
		var dial gorm.Dialector
		if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
			dial = postgres.Open(dsn)
		} else {
			dial = sqlite.Open("file:assistant_test?mode=memory&cache=shared&_fk=1")
		}
		gdb, err := gorm.Open(dial, &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			openErr = fmt.Errorf("open test db: %w", err)
			return
		}
		if err := db.AutoMigrateAll(gdb); err != nil {
			openErr = fmt.Errorf("migrate test db: %w", err)
			return
		}
		shared = gdb
	})
	if openErr != nil {
		t.Fatalf("testutil: %v", openErr)
	}
	return shared
}

// BeginTx opens a transaction that is rolled back when the test finishes, so
// tests never see each other's rows.
func BeginTx(t *testing.T) *gorm.DB {
	t.Helper()
	tx := OpenTestDB(t).Begin()
	if tx.Error != nil {
		t.Fatalf("testutil: begin tx: %v", tx.Error)
	}
	t.Cleanup(func() {
		_ = tx.Rollback()
	})
	return tx
}
