// Package handlers implements the HTTP API of the bulk operations console.
//
// Routes are bound in RegisterRoutes; handlers take path parameters as
// arguments and report failures through c.Error so the error middleware
// renders them.
package handlers

import (
	"context"
	"time"

	"github.com/JustVic19/Payouts-sub000/internal/governance/approval"
	"github.com/JustVic19/Payouts-sub000/internal/governance/audit"
	"github.com/JustVic19/Payouts-sub000/internal/governance/rollback"
	"github.com/JustVic19/Payouts-sub000/internal/service"
	"github.com/JustVic19/Payouts-sub000/internal/usecase"
)

// ReadinessCheck is one dependency probed by GET /health/ready.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server implements all API handlers.
type Server struct {
	tracker    *service.OperationTracker
	uploads    *usecase.UploadUseCase
	executions *usecase.ExecuteUseCase
	gateway    *approval.Gateway
	rollbacks  *rollback.Window
	audit      *audit.Logger
	readiness  []ReadinessCheck
	now        func() time.Time
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Tracker    *service.OperationTracker
	Uploads    *usecase.UploadUseCase
	Executions *usecase.ExecuteUseCase
	Gateway    *approval.Gateway
	Rollbacks  *rollback.Window
	Audit      *audit.Logger
	Readiness  []ReadinessCheck // Optional: empty means always ready
	Now        func() time.Time // Optional: defaults to time.Now
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		tracker:    deps.Tracker,
		uploads:    deps.Uploads,
		executions: deps.Executions,
		gateway:    deps.Gateway,
		rollbacks:  deps.Rollbacks,
		audit:      deps.Audit,
		readiness:  deps.Readiness,
		now:        now,
	}
}
