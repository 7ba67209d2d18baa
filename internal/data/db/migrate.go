package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/ledgerdesk/assistant-backend/internal/domain"
)

// AutoMigrateAll creates or updates every table the assistant backend owns.
func AutoMigrateAll(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&domain.AssistantSessionScope{},
		&domain.AssistantReviewEntry{},
	); err != nil {
		return fmt.Errorf("db: automigrate: %w", err)
	}
	return EnsureAssistantIndexes(gdb)
}

// EnsureAssistantIndexes adds the indexes AutoMigrate cannot express.
// Statements are idempotent so migration can run on every boot.
func EnsureAssistantIndexes(gdb *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_assistant_scope_updated_at ON assistant_session_scope (updated_at DESC, cache_key DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_assistant_review_open ON assistant_review_log (asked_at DESC) WHERE corrected_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_assistant_review_corrected ON assistant_review_log (corrected_at DESC) WHERE corrected_at IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("db: ensure index: %w", err)
		}
	}
	return nil
}
