package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerdesk/assistant-backend/internal/app"
	"github.com/ledgerdesk/assistant-backend/internal/observability"
	"github.com/ledgerdesk/assistant-backend/internal/platform/envutil"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

func main() {
	log, err := logger.New(envutil.String("APP_ENV", "dev"))
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.Load()
	if err != nil {
		log.Fatal("config load failed", "error", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "assistant-backend",
		Environment: cfg.Env,
		Version:     cfg.ServiceVersion,
	})
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	a, err := app.New(log, cfg)
	if err != nil {
		log.Fatal("app init failed", "error", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatal("server exited with error", "error", err)
	}
	log.Info("shutdown complete")
}
