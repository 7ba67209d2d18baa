package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Healthcheck(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = "degraded"
		dbStatus = "unreachable"
	}
	RespondOK(c, gin.H{"status": status, "db": dbStatus})
}
