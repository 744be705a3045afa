// Package approval implements the sign-off gate for large bulk operations.
//
// An upload above the configured record or monetary limits must be approved
// by someone other than its uploader before it may be executed. The flow is
// single-level: an operation is either awaiting approval or approved.
package approval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

// OperationApprover is the part of the tracker the gateway drives.
type OperationApprover interface {
	Get(ctx context.Context, id string) (*domain.Operation, error)
	List(ctx context.Context, filter service.OperationFilter) ([]*domain.Operation, error)
	MarkApproved(ctx context.Context, id, approver, comment string) (*domain.Operation, error)
}

// Gateway orchestrates approval decisions.
type Gateway struct {
	ops OperationApprover
}

// NewGateway creates a new approval Gateway.
func NewGateway(ops OperationApprover) *Gateway {
	return &Gateway{ops: ops}
}

// Approve signs off an operation awaiting approval. The tracker refuses a
// second approval and self-approval under its own lock, and audits the
// approval itself.
func (g *Gateway) Approve(ctx context.Context, operationID, approver, comment string) (*domain.Operation, error) {
	op, err := g.ops.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if !op.RequiresApproval {
		return nil, apperrors.ErrInvalidState("operation", "not awaiting approval", "approve")
	}

	approved, err := g.ops.MarkApproved(ctx, operationID, approver, comment)
	if err != nil {
		if _, ok := apperrors.IsAppError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("approve operation %s: %w", operationID, err)
	}

	logger.Info("Operation approved",
		zap.String("operation_id", operationID),
		zap.String("approver", approver),
		zap.String("uploader", op.CreatedBy),
		zap.Int("total_records", op.TotalRecords),
		zap.String("monetary_impact", op.MonetaryImpact.String()),
	)
	return approved, nil
}

// ListPending returns operations still awaiting approval, oldest first.
func (g *Gateway) ListPending(ctx context.Context) ([]*domain.Operation, error) {
	all, err := g.ops.List(ctx, service.OperationFilter{})
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	var pending []*domain.Operation
	for _, op := range all {
		if op.RequiresApproval && op.ApprovedBy == "" && !op.State.IsTerminal() {
			pending = append(pending, op)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// PriorityTier calculates urgency from how long an operation has waited.
func PriorityTier(createdAt, now time.Time) string {
	waited := now.Sub(createdAt)
	switch {
	case waited >= 24*time.Hour:
		return "urgent"
	case waited >= 4*time.Hour:
		return "warning"
	default:
		return "normal"
	}
}
