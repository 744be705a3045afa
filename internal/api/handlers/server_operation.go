package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/api/middleware"
	"github.com/JustVic19/Payouts-sub000/internal/collaborator"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/service"
	"github.com/JustVic19/Payouts-sub000/internal/usecase"
)

type uploadedFileRequest struct {
	FileName  string `json:"file_name" binding:"required"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	// Content arrives base64-encoded.
	Content []byte `json:"content"`
}

type createOperationRequest struct {
	Kind  domain.OperationKind  `json:"kind" binding:"required"`
	Files []uploadedFileRequest `json:"files" binding:"required,min=1,dive"`
}

// operationList is the envelope of list responses.
type operationList struct {
	Items []*domain.Operation `json:"items"`
	Total int                 `json:"total"`
}

// CreateOperation handles POST /operations.
//
// Returns 202 while ingestion runs in the background and 201 once the
// operation already reached a resting state.
func (s *Server) CreateOperation(c *gin.Context) {
	ctx, actor, ok := requirePermission(c, middleware.PermOperationCreate)
	if !ok {
		return
	}

	var req createOperationRequest
	if !bindJSON(c, &req, false) {
		return
	}

	files := make([]collaborator.UploadedFile, len(req.Files))
	for i, f := range req.Files {
		size := f.SizeBytes
		if size == 0 {
			size = int64(len(f.Content))
		}
		files[i] = collaborator.UploadedFile{
			FileMetadata: domain.FileMetadata{FileName: f.FileName, SizeBytes: size, MimeType: f.MimeType},
			Content:      f.Content,
		}
	}

	op, err := s.uploads.Start(ctx, usecase.UploadInput{Kind: req.Kind, Files: files, Actor: actor})
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if op.State == domain.StateUploading || op.State == domain.StateValidating {
		status = http.StatusAccepted
	}
	c.JSON(status, op)
}

// ListOperations handles GET /operations.
func (s *Server) ListOperations(c *gin.Context, params ListOperationsParams) {
	ctx, _, ok := requirePermission(c, middleware.PermOperationRead)
	if !ok {
		return
	}

	ops, err := s.tracker.List(ctx, service.OperationFilter{Kind: params.Kind, State: params.State, Limit: params.Limit})
	if err != nil {
		_ = c.Error(err)
		return
	}
	if ops == nil {
		ops = []*domain.Operation{}
	}
	c.JSON(http.StatusOK, operationList{Items: ops, Total: len(ops)})
}

// GetOperation handles GET /operations/:id.
func (s *Server) GetOperation(c *gin.Context, id string) {
	ctx, _, ok := requirePermission(c, middleware.PermOperationRead)
	if !ok {
		return
	}

	op, err := s.tracker.Get(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, op)
}

// GetOperationEstimate handles GET /operations/:id/eta.
func (s *Server) GetOperationEstimate(c *gin.Context, id string) {
	ctx, _, ok := requirePermission(c, middleware.PermOperationRead)
	if !ok {
		return
	}

	est, err := s.tracker.EstimateCompletion(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, est)
}

// ExecuteOperation handles POST /operations/:id/execute.
func (s *Server) ExecuteOperation(c *gin.Context, id string) {
	ctx, actor, ok := requirePermission(c, middleware.PermOperationExecute)
	if !ok {
		return
	}

	op, err := s.executions.Execute(ctx, id, actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, op)
}

// CancelOperation handles POST /operations/:id/cancel.
func (s *Server) CancelOperation(c *gin.Context, id string) {
	ctx, actor, ok := requirePermission(c, middleware.PermOperationExecute)
	if !ok {
		return
	}

	op, err := s.tracker.Cancel(ctx, id, actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, op)
}
