package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ledgerdesk/assistant-backend/internal/handlers"
	"github.com/ledgerdesk/assistant-backend/internal/http/middleware"
	"github.com/ledgerdesk/assistant-backend/internal/observability"
	"github.com/ledgerdesk/assistant-backend/internal/platform/envutil"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

type RouterDeps struct {
	Log       *logger.Logger
	Auth      *middleware.AuthMiddleware
	Metrics   *observability.Metrics
	Health    *handlers.HealthHandler
	Assistant *handlers.AssistantHandler
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if envutil.String("APP_ENV", "dev") == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if envutil.Bool("OTEL_ENABLED", false) {
		r.Use(otelgin.Middleware("assistant-backend"))
	}
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(deps.Log))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/healthcheck", deps.Health.Healthcheck)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapF(deps.Metrics.WriteHTTP))
	}

	api := r.Group("/api", deps.Auth.RequireAuth())
	{
		assistant := api.Group("/assistant")
		{
			assistant.GET("/scope", deps.Assistant.GetScope)
			assistant.PUT("/scope", deps.Assistant.UpsertScope)
			assistant.DELETE("/scope", deps.Assistant.ClearScope)

			assistant.POST("/learning/query", deps.Assistant.QueryLearning)

			assistant.POST("/review", deps.Assistant.LogReview)
			assistant.GET("/review/open", deps.Assistant.ListOpenReviews)
			assistant.POST("/review/:id/correction", deps.Assistant.SaveCorrection)
		}
		admin := api.Group("/admin/assistant")
		{
			admin.POST("/retention/sweep", deps.Assistant.RunRetentionSweep)
		}
	}
	return r
}
