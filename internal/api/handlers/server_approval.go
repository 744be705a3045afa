package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/api/middleware"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/governance/approval"
)

type approveRequest struct {
	Comment string `json:"comment"`
}

// pendingApproval is an operation awaiting sign-off with its urgency.
type pendingApproval struct {
	Operation *domain.Operation `json:"operation"`
	Priority  string            `json:"priority"`
}

type pendingApprovalList struct {
	Items []pendingApproval `json:"items"`
	Total int               `json:"total"`
}

// ApproveOperation handles POST /operations/:id/approve.
func (s *Server) ApproveOperation(c *gin.Context, id string) {
	ctx, actor, ok := requirePermission(c, middleware.PermOperationApprove)
	if !ok {
		return
	}

	var req approveRequest
	if !bindJSON(c, &req, true) {
		return
	}

	op, err := s.gateway.Approve(ctx, id, actor, req.Comment)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, op)
}

// ListPendingApprovals handles GET /approvals/pending.
func (s *Server) ListPendingApprovals(c *gin.Context) {
	ctx, _, ok := requirePermission(c, middleware.PermOperationApprove)
	if !ok {
		return
	}

	ops, err := s.gateway.ListPending(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}

	now := s.now()
	items := make([]pendingApproval, 0, len(ops))
	for _, op := range ops {
		items = append(items, pendingApproval{Operation: op, Priority: approval.PriorityTier(op.CreatedAt, now)})
	}
	c.JSON(http.StatusOK, pendingApprovalList{Items: items, Total: len(items)})
}
