package services

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	assistantrepo "github.com/ledgerdesk/assistant-backend/internal/data/repos/assistant"
	"github.com/ledgerdesk/assistant-backend/internal/domain"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/dbctx"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

// ScopeMetrics is the sink the scope store reports into. A nil sink is valid.
type ScopeMetrics interface {
	IncScopeHit()
	IncScopeMiss()
	IncScopeWrite(applied bool)
	IncScopeClear()
	IncScopeError(op string)
	AddScopeEvictions(cause string, n int64)
	SetScopeUsage(entries, bytes int64)
}

type ScopeCacheConfig struct {
	TTL                time.Duration
	MaxScopeBytes      int
	ComparablesCap     int
	PerUserMaxSessions int
	GlobalMaxEntries   int
	GlobalMaxBytes     int64
	ExpirySweepBatch   int
}

func (c ScopeCacheConfig) withDefaults() ScopeCacheConfig {
	if c.TTL <= 0 {
		c.TTL = 15 * time.Minute
	}
	if c.MaxScopeBytes <= 0 {
		c.MaxScopeBytes = 8 * 1024
	}
	if c.ComparablesCap <= 0 {
		c.ComparablesCap = 20
	}
	if c.PerUserMaxSessions <= 0 {
		c.PerUserMaxSessions = 8
	}
	if c.GlobalMaxEntries <= 0 {
		c.GlobalMaxEntries = 10000
	}
	if c.GlobalMaxBytes <= 0 {
		c.GlobalMaxBytes = 64 * 1024 * 1024
	}
	if c.ExpirySweepBatch <= 0 {
		c.ExpirySweepBatch = 500
	}
	return c
}

type ScopeWriteResult struct {
	Applied   bool
	Stale     bool
	Truncated bool
}

// ScopeCacheService is the per-session conversation scope cache. Store
// failures degrade to a miss on read and a no-op on write; the cache is
// derived state and never authoritative.
type ScopeCacheService interface {
	Get(ctx context.Context, tenantRaw, userRaw, sessionRaw string) (*domain.ConversationScope, error)
	Upsert(ctx context.Context, tenantRaw, userRaw, sessionRaw string, scope domain.ConversationScope, clientMessageSeq int64) (ScopeWriteResult, error)
	Clear(ctx context.Context, tenantRaw, userRaw, sessionRaw string, clientMessageSeq int64) error
	Stats(ctx context.Context) (entries int64, bytes int64, err error)
}

type scopeCacheService struct {
	db       *gorm.DB
	log      *logger.Logger
	identity IdentityService
	repo     assistantrepo.ScopeRepo
	metrics  ScopeMetrics
	cfg      ScopeCacheConfig
	now      func() time.Time
}

func NewScopeCacheService(db *gorm.DB, baseLog *logger.Logger, identity IdentityService, repo assistantrepo.ScopeRepo, metrics ScopeMetrics, cfg ScopeCacheConfig) ScopeCacheService {
	return &scopeCacheService{
		db:       db,
		log:      baseLog.With("service", "assistant_scope_cache"),
		identity: identity,
		repo:     repo,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the live scope for a session or nil on any kind of miss. The
// only returned errors are identity validation failures.
func (s *scopeCacheService) Get(ctx context.Context, tenantRaw, userRaw, sessionRaw string) (*domain.ConversationScope, error) {
	id, err := s.identity.ResolveComponents(tenantRaw, userRaw, sessionRaw)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}

	row, err := s.repo.Get(dbc, id.CacheKey)
	if err != nil {
		s.log.Warn("scope get failed, treating as miss", "cache_key", id.CacheKey, "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncScopeError("get")
			s.metrics.IncScopeMiss()
		}
		return nil, nil
	}
	if row == nil || !row.ExpiresAt.After(s.now()) {
		if s.metrics != nil {
			s.metrics.IncScopeMiss()
		}
		return nil, nil
	}

	var scope domain.ConversationScope
	if err := json.Unmarshal(row.Scope, &scope); err != nil {
		// Corrupt rows are removed so they stop costing a decode per read.
		s.log.Warn("scope row failed to decode, deleting", "cache_key", id.CacheKey, "error", truncateErr(err))
		if _, delErr := s.repo.Delete(dbc, id.CacheKey); delErr != nil {
			s.log.Warn("corrupt scope row delete failed", "cache_key", id.CacheKey, "error", truncateErr(delErr))
		}
		if s.metrics != nil {
			s.metrics.IncScopeError("decode")
			s.metrics.IncScopeMiss()
		}
		return nil, nil
	}
	if !scope.ScopeEstablished {
		if s.metrics != nil {
			s.metrics.IncScopeMiss()
		}
		return nil, nil
	}
	if s.metrics != nil {
		s.metrics.IncScopeHit()
	}
	return &scope, nil
}

// Upsert writes the scope under the sequence guard and runs cache maintenance
// in the same transaction. A write that loses the sequence race reports
// stale=true without error.
func (s *scopeCacheService) Upsert(ctx context.Context, tenantRaw, userRaw, sessionRaw string, scope domain.ConversationScope, clientMessageSeq int64) (ScopeWriteResult, error) {
	id, err := s.identity.ResolveComponents(tenantRaw, userRaw, sessionRaw)
	if err != nil {
		return ScopeWriteResult{}, err
	}
	if clientMessageSeq < 0 {
		clientMessageSeq = 0
	}

	payload, truncated, err := s.encodeScope(&scope)
	if err != nil {
		s.log.Warn("scope encode failed, dropping write", "cache_key", id.CacheKey, "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncScopeError("encode")
		}
		return ScopeWriteResult{}, nil
	}
	if truncated {
		s.log.Warn("scope payload oversized, comparables truncated",
			"cache_key", id.CacheKey, "cap", s.cfg.ComparablesCap)
	}

	now := s.now()
	row := &domain.AssistantSessionScope{
		CacheKey:   id.CacheKey,
		TenantKey:  id.TenantKey,
		UserKey:    id.UserKey,
		SessionKey: id.SessionKey,
		Scope:      datatypes.JSON(payload),
		LastSeq:    clientMessageSeq,
		ScopeBytes: len(payload),
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.TTL),
	}

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		var upsertErr error
		applied, upsertErr = s.repo.UpsertIfNewer(dbc, row)
		if upsertErr != nil {
			return upsertErr
		}
		if applied {
			s.maintain(dbc, id)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("scope upsert failed, treating as no-op", "cache_key", id.CacheKey, "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncScopeError("upsert")
		}
		return ScopeWriteResult{Truncated: truncated}, nil
	}
	if s.metrics != nil {
		s.metrics.IncScopeWrite(applied)
	}
	return ScopeWriteResult{Applied: applied, Stale: !applied, Truncated: truncated}, nil
}

// Clear tombstones the session when the caller sequences its writes, so a
// stale in-flight upsert cannot resurrect the old scope. Unsequenced callers
// get a hard delete.
func (s *scopeCacheService) Clear(ctx context.Context, tenantRaw, userRaw, sessionRaw string, clientMessageSeq int64) error {
	id, err := s.identity.ResolveComponents(tenantRaw, userRaw, sessionRaw)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncScopeClear()
	}
	dbc := dbctx.Context{Ctx: ctx}

	if clientMessageSeq <= 0 {
		if _, err := s.repo.Delete(dbc, id.CacheKey); err != nil {
			s.log.Warn("scope clear delete failed, treating as no-op", "cache_key", id.CacheKey, "error", truncateErr(err))
			if s.metrics != nil {
				s.metrics.IncScopeError("clear")
			}
		}
		return nil
	}

	tombstone := domain.ConversationScope{ScopeEstablished: false, ClientComparables: []string{}}
	payload, _ := json.Marshal(tombstone)
	now := s.now()
	row := &domain.AssistantSessionScope{
		CacheKey:   id.CacheKey,
		TenantKey:  id.TenantKey,
		UserKey:    id.UserKey,
		SessionKey: id.SessionKey,
		Scope:      datatypes.JSON(payload),
		LastSeq:    clientMessageSeq,
		ScopeBytes: len(payload),
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.TTL),
	}
	if _, err := s.repo.UpsertIfNewer(dbc, row); err != nil {
		s.log.Warn("scope tombstone write failed, treating as no-op", "cache_key", id.CacheKey, "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncScopeError("clear")
		}
	}
	return nil
}

func (s *scopeCacheService) Stats(ctx context.Context) (int64, int64, error) {
	return s.repo.Stats(dbctx.Context{Ctx: ctx})
}

// encodeScope serializes the scope, truncating comparables when the payload
// exceeds the byte ceiling.
func (s *scopeCacheService) encodeScope(scope *domain.ConversationScope) ([]byte, bool, error) {
	payload, err := json.Marshal(scope)
	if err != nil {
		return nil, false, err
	}
	if len(payload) <= s.cfg.MaxScopeBytes {
		return payload, false, nil
	}
	if len(scope.ClientComparables) > s.cfg.ComparablesCap {
		scope.ClientComparables = scope.ClientComparables[:s.cfg.ComparablesCap]
	}
	scope.Truncated = true
	payload, err = json.Marshal(scope)
	if err != nil {
		return nil, true, err
	}
	return payload, true, nil
}

// maintain prunes expired rows and enforces the per-user and global caps.
// Each step is idempotent, so concurrent writers re-running it is harmless.
func (s *scopeCacheService) maintain(dbc dbctx.Context, id ScopeIdentity) {
	if n, err := s.repo.DeleteExpired(dbc, s.now(), s.cfg.ExpirySweepBatch); err != nil {
		s.log.Warn("scope expiry sweep failed", "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncScopeError("maintenance")
		}
	} else if s.metrics != nil {
		s.metrics.AddScopeEvictions("expired", n)
	}

	if n, err := s.repo.EnforcePerUserCap(dbc, id.TenantKey, id.UserKey, s.cfg.PerUserMaxSessions); err != nil {
		s.log.Warn("scope per-user cap failed", "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncScopeError("maintenance")
		}
	} else if s.metrics != nil {
		s.metrics.AddScopeEvictions("per_user_cap", n)
	}

	if n, err := s.repo.EnforceGlobalCaps(dbc, s.cfg.GlobalMaxEntries, s.cfg.GlobalMaxBytes); err != nil {
		s.log.Warn("scope global caps failed", "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncScopeError("maintenance")
		}
	} else if s.metrics != nil {
		s.metrics.AddScopeEvictions("global_cap", n)
	}

	if entries, bytes, err := s.repo.Stats(dbc); err == nil && s.metrics != nil {
		s.metrics.SetScopeUsage(entries, bytes)
	}
}

// truncateErr keeps store errors from flooding log lines with driver dumps.
func truncateErr(err error) string {
	const max = 300
	msg := err.Error()
	if len(msg) > max {
		return msg[:max] + "..."
	}
	return msg
}
