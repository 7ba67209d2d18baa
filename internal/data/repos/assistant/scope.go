package assistant

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ledgerdesk/assistant-backend/internal/domain"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/dbctx"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

// ScopeRepo persists cached conversation scopes keyed by cache key.
type ScopeRepo interface {
	Get(dbc dbctx.Context, cacheKey string) (*domain.AssistantSessionScope, error)
	UpsertIfNewer(dbc dbctx.Context, row *domain.AssistantSessionScope) (bool, error)
	Delete(dbc dbctx.Context, cacheKey string) (bool, error)
	DeleteExpired(dbc dbctx.Context, now time.Time, batchSize int) (int64, error)
	EnforcePerUserCap(dbc dbctx.Context, tenantKey, userKey string, maxPerUser int) (int64, error)
	EnforceGlobalCaps(dbc dbctx.Context, maxEntries int, maxBytes int64) (int64, error)
	Stats(dbc dbctx.Context) (count int64, bytes int64, err error)
}

type scopeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScopeRepo(db *gorm.DB, baseLog *logger.Logger) ScopeRepo {
	return &scopeRepo{db: db, log: baseLog.With("repo", "assistant_scope")}
}

func (r *scopeRepo) Get(dbc dbctx.Context, cacheKey string) (*domain.AssistantSessionScope, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var row domain.AssistantSessionScope
	err := transaction.WithContext(dbc.Ctx).
		Where("cache_key = ?", cacheKey).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpsertIfNewer writes the row only when the incoming sequence beats the
// stored one. A zero sequence only ever replaces another zero-sequence row.
// The guard lives in a single statement so concurrent writers cannot
// interleave between read and write.
func (r *scopeRepo) UpsertIfNewer(dbc dbctx.Context, row *domain.AssistantSessionScope) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	cond := clause.Expr{SQL: "assistant_session_scope.last_seq < excluded.last_seq"}
	if row.LastSeq <= 0 {
		cond = clause.Expr{SQL: "assistant_session_scope.last_seq <= 0"}
	}
	res := transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cache_key"}},
		Where:   clause.Where{Exprs: []clause.Expression{cond}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tenant_key", "user_key", "session_key",
			"scope", "last_seq", "scope_bytes", "updated_at", "expires_at",
		}),
	}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *scopeRepo) Delete(dbc dbctx.Context, cacheKey string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("cache_key = ?", cacheKey).
		Delete(&domain.AssistantSessionScope{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *scopeRepo) DeleteExpired(dbc dbctx.Context, now time.Time, batchSize int) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).Exec(`
		DELETE FROM assistant_session_scope
		WHERE cache_key IN (
			SELECT cache_key FROM assistant_session_scope
			WHERE expires_at <= ?
			ORDER BY expires_at ASC
			LIMIT ?
		)`, now, batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// EnforcePerUserCap keeps only the newest maxPerUser sessions for one user.
func (r *scopeRepo) EnforcePerUserCap(dbc dbctx.Context, tenantKey, userKey string, maxPerUser int) (int64, error) {
	if maxPerUser <= 0 {
		return 0, nil
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).Exec(`
		DELETE FROM assistant_session_scope
		WHERE cache_key IN (
			SELECT cache_key FROM (
				SELECT cache_key,
				       ROW_NUMBER() OVER (ORDER BY updated_at DESC, cache_key DESC) AS rn
				FROM assistant_session_scope
				WHERE tenant_key = ? AND user_key = ?
			) ranked
			WHERE rn > ?
		)`, tenantKey, userKey, maxPerUser)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// EnforceGlobalCaps evicts oldest-first until both the entry-count and
// total-bytes ceilings hold. Rows that fit within both windows survive.
func (r *scopeRepo) EnforceGlobalCaps(dbc dbctx.Context, maxEntries int, maxBytes int64) (int64, error) {
	if maxEntries <= 0 && maxBytes <= 0 {
		return 0, nil
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if maxEntries <= 0 {
		maxEntries = 1 << 30
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 50
	}
	res := transaction.WithContext(dbc.Ctx).Exec(`
		DELETE FROM assistant_session_scope
		WHERE cache_key IN (
			SELECT cache_key FROM (
				SELECT cache_key,
				       ROW_NUMBER() OVER (ORDER BY updated_at DESC, cache_key DESC) AS rn,
				       SUM(scope_bytes) OVER (ORDER BY updated_at DESC, cache_key DESC
				                              ROWS UNBOUNDED PRECEDING) AS running_bytes
				FROM assistant_session_scope
			) ranked
			WHERE rn > ? OR running_bytes > ?
		)`, maxEntries, maxBytes)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *scopeRepo) Stats(dbc dbctx.Context) (int64, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	type agg struct {
		Entries int64
		Bytes   int64
	}
	var out agg
	err := transaction.WithContext(dbc.Ctx).
		Model(&domain.AssistantSessionScope{}).
		Select("COUNT(*) AS entries, COALESCE(SUM(scope_bytes), 0) AS bytes").
		Scan(&out).Error
	if err != nil {
		return 0, 0, err
	}
	return out.Entries, out.Bytes, nil
}
