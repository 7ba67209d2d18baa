package assistant

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ledgerdesk/assistant-backend/internal/domain"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/dbctx"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

// ReviewRepo persists logged assistant exchanges and owner corrections.
type ReviewRepo interface {
	Insert(dbc dbctx.Context, entry *domain.AssistantReviewEntry) error
	GetByID(dbc dbctx.Context, id int64) (*domain.AssistantReviewEntry, error)
	ListOpen(dbc dbctx.Context, limit, offset int) ([]domain.AssistantReviewEntry, int64, error)
	SaveCorrection(dbc dbctx.Context, id int64, reply, note, correctedBy string, at time.Time) (bool, error)
	ListResolvedRecent(dbc dbctx.Context, limit int) ([]domain.AssistantReviewEntry, error)
	DeleteOlderThan(dbc dbctx.Context, cutoff time.Time, batchSize int) (int64, error)
}

type reviewRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReviewRepo(db *gorm.DB, baseLog *logger.Logger) ReviewRepo {
	return &reviewRepo{db: db, log: baseLog.With("repo", "assistant_review")}
}

func (r *reviewRepo) Insert(dbc dbctx.Context, entry *domain.AssistantReviewEntry) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(entry).Error
}

func (r *reviewRepo) GetByID(dbc dbctx.Context, id int64) (*domain.AssistantReviewEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var entry domain.AssistantReviewEntry
	err := transaction.WithContext(dbc.Ctx).First(&entry, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *reviewRepo) ListOpen(dbc dbctx.Context, limit, offset int) ([]domain.AssistantReviewEntry, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.AssistantReviewEntry{}).
		Where("corrected_at IS NULL").
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []domain.AssistantReviewEntry
	err := transaction.WithContext(dbc.Ctx).
		Where("corrected_at IS NULL").
		Order("asked_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// SaveCorrection records the reviewer's answer. Re-correcting an already
// resolved entry overwrites the previous correction.
func (r *reviewRepo) SaveCorrection(dbc dbctx.Context, id int64, reply, note, correctedBy string, at time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&domain.AssistantReviewEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"corrected_reply": reply,
			"correction_note": note,
			"corrected_by":    correctedBy,
			"corrected_at":    at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *reviewRepo) ListResolvedRecent(dbc dbctx.Context, limit int) ([]domain.AssistantReviewEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var entries []domain.AssistantReviewEntry
	err := transaction.WithContext(dbc.Ctx).
		Where("corrected_at IS NOT NULL").
		Order("corrected_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *reviewRepo) DeleteOlderThan(dbc dbctx.Context, cutoff time.Time, batchSize int) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).Exec(`
		DELETE FROM assistant_review_log
		WHERE id IN (
			SELECT id FROM assistant_review_log
			WHERE asked_at <= ?
			ORDER BY asked_at ASC
			LIMIT ?
		)`, cutoff, batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
