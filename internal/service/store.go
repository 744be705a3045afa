// Package service holds the operation lifecycle tracker: the state machine
// every bulk operation moves through from upload to completion.
//
// The tracker owns the operation snapshot. Collaborator calls (ingestion,
// validation, execution) happen outside it in the usecase layer, which feeds
// results back through tracker methods.
package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
)

// OperationFilter narrows List. Zero values match everything.
type OperationFilter struct {
	Kind  domain.OperationKind
	State domain.OperationState
	Limit int
}

// Matches reports whether op passes the filter (Limit is not applied).
func (f OperationFilter) Matches(op *domain.Operation) bool {
	if f.Kind != "" && op.Kind != f.Kind {
		return false
	}
	if f.State != "" && op.State != f.State {
		return false
	}
	return true
}

// OperationStore persists operation snapshots.
// Get returns an OPERATION_NOT_FOUND AppError for unknown IDs. Implementations
// must hand out copies; callers may mutate what they receive.
type OperationStore interface {
	Create(ctx context.Context, op *domain.Operation) error
	Update(ctx context.Context, op *domain.Operation) error
	Get(ctx context.Context, id string) (*domain.Operation, error)
	// List returns operations newest first.
	List(ctx context.Context, filter OperationFilter) ([]*domain.Operation, error)
}

// AuditRecorder appends to the shared audit log.
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
}

// EventPublisher receives domain events after a change is stored.
type EventPublisher interface {
	Dispatch(ctx context.Context, event *domain.DomainEvent) error
}

// ApprovalPolicy decides whether an upload needs sign-off before execution.
type ApprovalPolicy interface {
	RequiresApproval(records int, monetaryImpact decimal.Decimal) bool
}

// UploadLimits screens files before anything is ingested.
type UploadLimits struct {
	AllowedExtensions []string
	MaxFileSizeBytes  int64
}

// DefaultUploadLimits accepts csv, xlsx and xls up to 10MB.
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{
		AllowedExtensions: []string{"csv", "xlsx", "xls"},
		MaxFileSizeBytes:  10 * 1024 * 1024,
	}
}

// Screen returns the rejection for f, or nil if f is acceptable.
func (l UploadLimits) Screen(f domain.FileMetadata) *apperrors.AppError {
	ext := f.Extension()
	if !l.allows(ext) {
		return apperrors.ErrUnsupportedFormat(f.FileName, ext)
	}
	if l.MaxFileSizeBytes > 0 && f.SizeBytes > l.MaxFileSizeBytes {
		return apperrors.ErrFileTooLarge(f.FileName, f.SizeBytes, l.MaxFileSizeBytes)
	}
	return nil
}

func (l UploadLimits) allows(ext string) bool {
	if ext == "" {
		return false
	}
	for _, allowed := range l.AllowedExtensions {
		if strings.EqualFold(strings.TrimPrefix(allowed, "."), ext) {
			return true
		}
	}
	return false
}
