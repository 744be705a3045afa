package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
)

// ListOperationsParams are the query parameters of GET /operations.
type ListOperationsParams struct {
	Kind  domain.OperationKind  `form:"kind"`
	State domain.OperationState `form:"state"`
	Limit int                   `form:"limit"`
}

// ListValidationErrorsParams are the query parameters of
// GET /operations/:id/validation-errors.
type ListValidationErrorsParams struct {
	Severity domain.Severity `form:"severity"`
}

// ExportParams select the encoding of an export.
type ExportParams struct {
	Format string `form:"format"`
}

// ListRollbacksParams are the query parameters of GET /rollbacks.
type ListRollbacksParams struct {
	Status domain.RollbackStatus `form:"status"`
}

// ListAuditLogsParams are the query parameters of GET /audit-logs and its
// export. Since and Until are RFC 3339 timestamps.
type ListAuditLogsParams struct {
	OperationID string `form:"operation_id"`
	Action      string `form:"action"`
	User        string `form:"user"`
	Since       string `form:"since"`
	Until       string `form:"until"`
	Limit       int    `form:"limit"`
	Format      string `form:"format"`
}

// RegisterRoutes binds every handler of s below r.
func RegisterRoutes(r gin.IRouter, s *Server) {
	r.GET("/health/live", s.GetLiveness)
	r.GET("/health/ready", s.GetReadiness)

	r.GET("/operations", withQuery(s.ListOperations))
	r.POST("/operations", s.CreateOperation)
	r.GET("/operations/:id", withID(s.GetOperation))
	r.GET("/operations/:id/eta", withID(s.GetOperationEstimate))
	r.GET("/operations/:id/validation-errors", withIDQuery(s.ListValidationErrors))
	r.POST("/operations/:id/validation-errors/auto-fix", withID(s.AutoFixValidationErrors))
	r.GET("/operations/:id/validation-errors/export", withIDQuery(s.ExportValidationErrors))
	r.POST("/operations/:id/revalidate", withID(s.RevalidateOperation))
	r.POST("/operations/:id/acknowledge-warnings", withID(s.AcknowledgeWarnings))
	r.POST("/operations/:id/approve", withID(s.ApproveOperation))
	r.POST("/operations/:id/execute", withID(s.ExecuteOperation))
	r.POST("/operations/:id/cancel", withID(s.CancelOperation))

	r.GET("/approvals/pending", s.ListPendingApprovals)

	r.GET("/rollbacks", withQuery(s.ListRollbacks))
	r.GET("/rollbacks/:operationId", withOperationID(s.GetRollback))
	r.POST("/rollbacks/:operationId/request", withOperationID(s.RequestRollback))
	r.POST("/rollbacks/:operationId/override", withOperationID(s.OverrideRollback))

	r.GET("/audit-logs", withQuery(s.ListAuditLogs))
	r.GET("/audit-logs/export", withQuery(s.ExportAuditLogs))
}

func withID(h func(*gin.Context, string)) gin.HandlerFunc {
	return func(c *gin.Context) { h(c, c.Param("id")) }
}

func withOperationID(h func(*gin.Context, string)) gin.HandlerFunc {
	return func(c *gin.Context) { h(c, c.Param("operationId")) }
}

func withQuery[P any](h func(*gin.Context, P)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params P
		if err := c.ShouldBindQuery(&params); err != nil {
			_ = c.Error(invalidQuery(err))
			return
		}
		h(c, params)
	}
}

func withIDQuery[P any](h func(*gin.Context, string, P)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params P
		if err := c.ShouldBindQuery(&params); err != nil {
			_ = c.Error(invalidQuery(err))
			return
		}
		h(c, c.Param("id"), params)
	}
}
