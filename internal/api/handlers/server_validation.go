package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/api/middleware"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/export"
	"github.com/JustVic19/Payouts-sub000/internal/validation"
)

type validationErrorList struct {
	OperationID string                   `json:"operation_id"`
	State       domain.OperationState    `json:"state"`
	Summary     validation.Summary       `json:"summary"`
	Items       []domain.ValidationError `json:"items"`
}

type autoFixRequest struct {
	ErrorIDs []string `json:"error_ids"`
}

type autoFixResponse struct {
	Operation *domain.Operation        `json:"operation"`
	Fixed     []domain.ValidationError `json:"fixed"`
}

// ListValidationErrors handles GET /operations/:id/validation-errors.
// The summary always covers every error; severity narrows the items only.
func (s *Server) ListValidationErrors(c *gin.Context, id string, params ListValidationErrorsParams) {
	ctx, _, ok := requirePermission(c, middleware.PermOperationRead)
	if !ok {
		return
	}

	op, err := s.tracker.Get(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	items := op.ValidationErrors
	if params.Severity != "" {
		items = validation.FilterBySeverity(items, params.Severity)
	}
	if items == nil {
		items = []domain.ValidationError{}
	}
	c.JSON(http.StatusOK, validationErrorList{
		OperationID: op.ID,
		State:       op.State,
		Summary:     validation.Summarize(op.ValidationErrors),
		Items:       items,
	})
}

// AutoFixValidationErrors handles POST /operations/:id/validation-errors/auto-fix.
func (s *Server) AutoFixValidationErrors(c *gin.Context, id string) {
	ctx, _, ok := requirePermission(c, middleware.PermOperationCreate)
	if !ok {
		return
	}

	var req autoFixRequest
	if !bindJSON(c, &req, false) {
		return
	}

	op, fixed, err := s.uploads.AutoFix(ctx, id, req.ErrorIDs)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if fixed == nil {
		fixed = []domain.ValidationError{}
	}
	c.JSON(http.StatusOK, autoFixResponse{Operation: op, Fixed: fixed})
}

// ExportValidationErrors handles GET /operations/:id/validation-errors/export.
func (s *Server) ExportValidationErrors(c *gin.Context, id string, params ExportParams) {
	ctx, _, ok := requirePermission(c, middleware.PermOperationRead)
	if !ok {
		return
	}

	format, err := export.ParseFormat(params.Format)
	if err != nil {
		_ = c.Error(err)
		return
	}
	op, err := s.tracker.Get(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	writeExport(c, format, "validation-errors-"+op.ID, func(w io.Writer) error {
		return export.WriteValidationErrors(w, format, op.ValidationErrors)
	})
}

// RevalidateOperation handles POST /operations/:id/revalidate.
func (s *Server) RevalidateOperation(c *gin.Context, id string) {
	ctx, _, ok := requirePermission(c, middleware.PermOperationCreate)
	if !ok {
		return
	}

	op, err := s.uploads.Revalidate(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, op)
}

// AcknowledgeWarnings handles POST /operations/:id/acknowledge-warnings.
func (s *Server) AcknowledgeWarnings(c *gin.Context, id string) {
	ctx, actor, ok := requirePermission(c, middleware.PermOperationCreate)
	if !ok {
		return
	}

	op, err := s.tracker.AcknowledgeWarnings(ctx, id, actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, op)
}
