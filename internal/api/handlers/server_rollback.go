package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/api/middleware"
	"github.com/JustVic19/Payouts-sub000/internal/governance/rollback"
)

type rollbackRequest struct {
	Reason string `json:"reason"`
}

type rollbackOverrideRequest struct {
	Reason         string `json:"reason"`
	OverrideReason string `json:"override_reason"`
}

type rollbackList struct {
	Items []rollback.View `json:"items"`
	Total int             `json:"total"`
}

// ListRollbacks handles GET /rollbacks.
func (s *Server) ListRollbacks(c *gin.Context, params ListRollbacksParams) {
	ctx, _, ok := requirePermission(c, middleware.PermRollbackRead)
	if !ok {
		return
	}

	views, err := s.rollbacks.List(ctx, params.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if views == nil {
		views = []rollback.View{}
	}
	c.JSON(http.StatusOK, rollbackList{Items: views, Total: len(views)})
}

// GetRollback handles GET /rollbacks/:operationId.
func (s *Server) GetRollback(c *gin.Context, operationID string) {
	ctx, _, ok := requirePermission(c, middleware.PermRollbackRead)
	if !ok {
		return
	}

	view, err := s.rollbacks.Get(ctx, operationID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// RequestRollback handles POST /rollbacks/:operationId/request.
// Missing reasons are rejected by the window with MISSING_REASON.
func (s *Server) RequestRollback(c *gin.Context, operationID string) {
	ctx, actor, ok := requirePermission(c, middleware.PermRollbackExecute)
	if !ok {
		return
	}

	var req rollbackRequest
	if !bindJSON(c, &req, false) {
		return
	}

	result, err := s.rollbacks.RequestRollback(ctx, operationID, req.Reason, actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// OverrideRollback handles POST /rollbacks/:operationId/override.
func (s *Server) OverrideRollback(c *gin.Context, operationID string) {
	ctx, actor, ok := requirePermission(c, middleware.PermRollbackOverride)
	if !ok {
		return
	}

	var req rollbackOverrideRequest
	if !bindJSON(c, &req, false) {
		return
	}

	result, err := s.rollbacks.Override(ctx, operationID, req.Reason, req.OverrideReason, actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
