package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mindspring-backend/services"
)

// HealthHandlers serves the probe endpoints. Liveness is static; readiness
// pings the database; the full health check also reports cache and LLM state
// without failing the probe on their account.
type HealthHandlers struct {
	db            *gorm.DB
	cache         services.CacheProvider
	llmConfigured bool
}

func NewHealthHandlers(db *gorm.DB, cache services.CacheProvider, llmConfigured bool) *HealthHandlers {
	return &HealthHandlers{db: db, cache: cache, llmConfigured: llmConfigured}
}

func (h *HealthHandlers) Health(c *gin.Context) {
	ctx := c.Request.Context()

	status := http.StatusOK
	dbStatus := "ok"
	if err := h.pingDB(ctx); err != nil {
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	}

	cacheStatus := "ok"
	if err := h.cache.HealthCheck(ctx); err != nil {
		// A dead cache degrades performance, not correctness.
		cacheStatus = "unavailable"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "mindspring-backend",
		"checks": gin.H{
			"database":       dbStatus,
			"cache":          cacheStatus,
			"llm_configured": h.llmConfigured,
		},
	})
}

func (h *HealthHandlers) Readiness(c *gin.Context) {
	if err := h.pingDB(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "service": "mindspring-backend"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "service": "mindspring-backend"})
}

func (h *HealthHandlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "service": "mindspring-backend"})
}

func (h *HealthHandlers) pingDB(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}
