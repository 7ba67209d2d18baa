package app

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerdesk/assistant-backend/internal/data/db"
	assistantrepo "github.com/ledgerdesk/assistant-backend/internal/data/repos/assistant"
	"github.com/ledgerdesk/assistant-backend/internal/handlers"
	"github.com/ledgerdesk/assistant-backend/internal/http/middleware"
	"github.com/ledgerdesk/assistant-backend/internal/jobs"
	"github.com/ledgerdesk/assistant-backend/internal/observability"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
	"github.com/ledgerdesk/assistant-backend/internal/server"
	"github.com/ledgerdesk/assistant-backend/internal/services"
)

type App struct {
	cfg     Config
	log     *logger.Logger
	dbs     *db.Service
	metrics *observability.Metrics
	router  http.Handler
	sweeper *jobs.RetentionSweeper
	scope   services.ScopeCacheService
}

func New(log *logger.Logger, cfg Config) (*App, error) {
	dbs, err := db.NewService(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrateAll(dbs.DB); err != nil {
		return nil, err
	}

	metrics := observability.Init(log)

	scopeRepo := assistantrepo.NewScopeRepo(dbs.DB, log)
	reviewRepo := assistantrepo.NewReviewRepo(dbs.DB, log)

	identity := services.NewIdentityService(log)
	redactor, err := services.NewRedactor(cfg.RedactionPolicy, log)
	if err != nil {
		return nil, err
	}
	scope := services.NewScopeCacheService(dbs.DB, log, identity, scopeRepo, metrics, cfg.Scope)
	learning := services.NewOwnerLearningService(log, reviewRepo, metrics, cfg.Learning)
	review := services.NewReviewService(log, reviewRepo, redactor, metrics, cfg.Review)

	router := server.NewRouter(server.RouterDeps{
		Log:       log,
		Auth:      middleware.NewAuthMiddleware(log, cfg.JWTSecret),
		Metrics:   metrics,
		Health:    handlers.NewHealthHandler(dbs.DB),
		Assistant: handlers.NewAssistantHandler(log, scope, learning, review),
	})

	sweeper := jobs.NewRetentionSweeper(log, review, scopeRepo, metrics, jobs.RetentionSweeperConfig{
		Enabled:  cfg.SweeperEnabled,
		Interval: cfg.SweepInterval,
	})

	return &App{
		cfg:     cfg,
		log:     log,
		dbs:     dbs,
		metrics: metrics,
		router:  router,
		sweeper: sweeper,
		scope:   scope,
	}, nil
}

// Run serves HTTP and the background jobs until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	a.metrics.StartServer(ctx, a.log, a.cfg.MetricsAddr)
	a.metrics.StartPostgresCollector(ctx, a.log, a.dbs.DB)
	a.metrics.StartRedisCollector(ctx, a.log, a.cfg.RedisAddr)
	a.metrics.StartScopeUsageCollector(ctx, a.log, a.scope.Stats)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	err := g.Wait()
	if closeErr := a.dbs.Close(); closeErr != nil {
		a.log.Warn("db close failed", "error", closeErr)
	}
	return err
}
