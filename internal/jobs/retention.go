package jobs

import (
	"context"
	"time"

	assistantrepo "github.com/ledgerdesk/assistant-backend/internal/data/repos/assistant"
	"github.com/ledgerdesk/assistant-backend/internal/observability"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/dbctx"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
	"github.com/ledgerdesk/assistant-backend/internal/services"
)

type RetentionSweeperConfig struct {
	Enabled          bool
	Interval         time.Duration
	ScopeExpiryBatch int
}

func (c RetentionSweeperConfig) withDefaults() RetentionSweeperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.ScopeExpiryBatch <= 0 {
		c.ScopeExpiryBatch = 500
	}
	return c
}

// RetentionSweeper periodically purges aged review entries and expired scope
// rows. It runs off the request path; each pass deletes in bounded batches so
// a large backlog never holds a long transaction.
type RetentionSweeper struct {
	log       *logger.Logger
	review    services.ReviewService
	scopeRepo assistantrepo.ScopeRepo
	metrics   *observability.Metrics
	cfg       RetentionSweeperConfig
}

func NewRetentionSweeper(baseLog *logger.Logger, review services.ReviewService, scopeRepo assistantrepo.ScopeRepo, metrics *observability.Metrics, cfg RetentionSweeperConfig) *RetentionSweeper {
	return &RetentionSweeper{
		log:       baseLog.With("job", "retention_sweeper"),
		review:    review,
		scopeRepo: scopeRepo,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
	}
}

// Run blocks until ctx is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("retention sweeper disabled")
		<-ctx.Done()
		return nil
	}
	s.log.Info("retention sweeper started", "interval", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepReviews(ctx)
			s.sweepExpiredScopes(ctx)
		}
	}
}

// sweepReviews drains the backlog one batch at a time so each transaction
// stays small.
func (s *RetentionSweeper) sweepReviews(ctx context.Context) {
	var total int64
	for {
		if ctx.Err() != nil {
			return
		}
		deleted, err := s.review.RunRetentionSweep(ctx)
		if err != nil {
			s.metrics.ObserveSweep("review_retention", "error", total)
			return
		}
		total += deleted
		if deleted == 0 {
			break
		}
	}
	s.metrics.ObserveSweep("review_retention", "ok", total)
}

func (s *RetentionSweeper) sweepExpiredScopes(ctx context.Context) {
	var total int64
	for {
		if ctx.Err() != nil {
			return
		}
		deleted, err := s.scopeRepo.DeleteExpired(dbctx.Context{Ctx: ctx}, time.Now().UTC(), s.cfg.ScopeExpiryBatch)
		if err != nil {
			s.log.Warn("scope expiry sweep failed", "error", err)
			s.metrics.ObserveSweep("scope_expiry", "error", total)
			return
		}
		total += deleted
		if deleted < int64(s.cfg.ScopeExpiryBatch) {
			break
		}
	}
	if total > 0 {
		s.log.Info("scope expiry sweep removed rows", "deleted", total)
	}
	s.metrics.ObserveSweep("scope_expiry", "ok", total)
}
