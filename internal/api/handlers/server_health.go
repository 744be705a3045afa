package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// healthResponse mirrors the Health schema of the API contract.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

// GetReadiness handles GET /health/ready.
func (s *Server) GetReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.readiness))
	allHealthy := true
	for _, check := range s.readiness {
		if err := check.Ping(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("check", check.Name), zap.Error(err))
			checks[check.Name] = "error"
			allHealthy = false
			continue
		}
		checks[check.Name] = "ok"
	}

	if !allHealthy {
		c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "degraded", Checks: checks})
		return
	}
	c.JSON(http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}
