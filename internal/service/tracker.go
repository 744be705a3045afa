package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/validation"
)

// UploadResult is what ingestion produced for an operation in uploading.
type UploadResult struct {
	TotalRecords   int
	MonetaryImpact decimal.Decimal
	// Rejections are files the ingestion collaborator refused after screening.
	Rejections []domain.FileRejection
}

// OperationTracker drives operations through the lifecycle state machine.
//
// All mutations are serialized by one mutex: the store read, the state
// change, the store write and the audit append happen as one step, so audit
// entries are appended in transition order. Events are published after the
// lock is released.
type OperationTracker struct {
	store  OperationStore
	audit  AuditRecorder
	events EventPublisher
	policy ApprovalPolicy
	limits UploadLimits
	now    func() time.Time

	mu sync.Mutex

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewOperationTracker creates a tracker.
func NewOperationTracker(store OperationStore, audit AuditRecorder, policy ApprovalPolicy, limits UploadLimits) *OperationTracker {
	return &OperationTracker{
		store:   store,
		audit:   audit,
		policy:  policy,
		limits:  limits,
		now:     time.Now,
		cancels: make(map[string]context.CancelFunc),
	}
}

// WithClock replaces the time source.
func (t *OperationTracker) WithClock(now func() time.Time) *OperationTracker {
	t.now = now
	return t
}

// WithEventPublisher sets where domain events go.
func (t *OperationTracker) WithEventPublisher(p EventPublisher) *OperationTracker {
	t.events = p
	return t
}

// effects collects what a mutation must emit once it is stored.
type effects struct {
	noop   bool
	actor  string
	audit  []domain.AuditEntry
	events []domain.EventType
}

// mutate loads id, applies fn, stores the result and emits its effects.
func (t *OperationTracker) mutate(ctx context.Context, id string, fn func(op *domain.Operation, fx *effects) error) (*domain.Operation, error) {
	t.mu.Lock()
	op, err := t.store.Get(ctx, id)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	from := op.State

	fx := &effects{}
	if err := fn(op, fx); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if fx.noop {
		t.mu.Unlock()
		return op, nil
	}

	op.UpdatedAt = t.now()
	if err := t.store.Update(ctx, op); err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("update operation %s: %w", id, err)
	}
	for _, entry := range fx.audit {
		t.appendAudit(ctx, entry)
	}
	snapshot := op.Clone()
	t.mu.Unlock()

	if from != snapshot.State {
		logger.ForOperation(snapshot.ID, string(snapshot.Kind)).Info("Operation state changed",
			zap.String("from", string(from)),
			zap.String("to", string(snapshot.State)),
			zap.Int("processed_records", snapshot.ProcessedRecords),
			zap.Int("total_records", snapshot.TotalRecords),
		)
	}
	for _, et := range fx.events {
		t.publish(ctx, snapshot, fx.actor, et, nil)
	}
	return snapshot, nil
}

// appendAudit is best-effort: the state change is already stored.
func (t *OperationTracker) appendAudit(ctx context.Context, entry domain.AuditEntry) {
	if t.audit == nil {
		return
	}
	if _, err := t.audit.Record(ctx, entry); err != nil {
		logger.Error("Failed to append operation audit entry",
			zap.String("operation_id", entry.OperationID),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}

func (t *OperationTracker) publish(ctx context.Context, op *domain.Operation, actor string, et domain.EventType, payload []byte) {
	if t.events == nil {
		return
	}
	_ = t.events.Dispatch(ctx, &domain.DomainEvent{
		EventID:     domain.NewID("evt"),
		EventType:   et,
		AggregateID: op.ID,
		Actor:       actor,
		CreatedAt:   t.now(),
		Operation:   op.Clone(),
		Payload:     payload,
	})
}

func moveTo(op *domain.Operation, to domain.OperationState, action string) error {
	if check := domain.CanTransition(op.State, to); !check.Allowed {
		return apperrors.ErrInvalidState("operation", string(op.State), action)
	}
	op.State = to
	return nil
}

func requireState(op *domain.Operation, action string, allowed ...domain.OperationState) error {
	for _, s := range allowed {
		if op.State == s {
			return nil
		}
	}
	return apperrors.ErrInvalidState("operation", string(op.State), action)
}

// StartUpload screens files and creates an operation in uploading.
// Each file outside the allowed extensions or above the size limit is
// rejected on its own and recorded on the operation; the call fails only
// when no file is accepted.
func (t *OperationTracker) StartUpload(ctx context.Context, kind domain.OperationKind, files []domain.FileMetadata, actor string) (*domain.Operation, error) {
	if !kind.Valid() {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidOperationKind, "unknown operation kind").
			WithParams(map[string]interface{}{"kind": string(kind)})
	}
	if len(files) == 0 {
		return nil, apperrors.BadRequest(apperrors.CodeNoFilesAccepted, "at least one file is required")
	}

	var (
		accepted  []domain.FileMetadata
		rejected  []domain.FileRejection
		rejectErr *multierror.Error
	)
	for _, f := range files {
		if appErr := t.limits.Screen(f); appErr != nil {
			rejectErr = multierror.Append(rejectErr, appErr)
			rejected = append(rejected, domain.FileRejection{FileName: f.FileName, Code: appErr.Code, Message: appErr.Message})
			logger.Warn("Upload file rejected",
				zap.String("file_name", f.FileName),
				zap.String("code", appErr.Code),
			)
			continue
		}
		accepted = append(accepted, f)
	}

	if len(accepted) == 0 {
		if len(rejectErr.Errors) == 1 {
			return nil, rejectErr.Errors[0]
		}
		return nil, apperrors.Wrap(rejectErr.ErrorOrNil(), apperrors.CodeNoFilesAccepted, "no file in the batch was accepted", http.StatusBadRequest).
			WithParams(map[string]interface{}{"rejected": len(rejected)})
	}

	now := t.now()
	op := &domain.Operation{
		ID:             domain.NewID("op"),
		Kind:           kind,
		State:          domain.StateIdle,
		MonetaryImpact: decimal.Zero,
		CreatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := moveTo(op, domain.StateUploading, "upload"); err != nil {
		return nil, err
	}
	op.Files = accepted
	op.Rejections = rejected

	t.mu.Lock()
	err := t.store.Create(ctx, op)
	snapshot := op.Clone()
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create operation: %w", err)
	}

	logger.ForOperation(snapshot.ID, string(kind)).Info("Upload started",
		zap.Int("accepted_files", len(accepted)),
		zap.Int("rejected_files", len(rejected)),
		zap.String("actor", actor),
	)
	payload, _ := domain.UploadRejectionPayload{Rejected: rejected}.ToJSON()
	t.publish(ctx, snapshot, actor, domain.EventUploadStarted, payload)
	return snapshot, nil
}

// CompleteUpload moves uploading to validating and derives requiresApproval.
func (t *OperationTracker) CompleteUpload(ctx context.Context, id string, result UploadResult) (*domain.Operation, error) {
	if result.TotalRecords < 0 {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "record count must not be negative")
	}
	return t.mutate(ctx, id, func(op *domain.Operation, _ *effects) error {
		if err := requireState(op, "complete upload", domain.StateUploading); err != nil {
			return err
		}
		if err := moveTo(op, domain.StateValidating, "complete upload"); err != nil {
			return err
		}
		op.TotalRecords = result.TotalRecords
		op.ProcessedRecords = 0
		op.MonetaryImpact = result.MonetaryImpact
		op.Rejections = append(op.Rejections, result.Rejections...)
		if t.policy != nil {
			op.RequiresApproval = t.policy.RequiresApproval(op.TotalRecords, op.MonetaryImpact)
		}
		return nil
	})
}

// RecordValidation stores a validation run and moves validating to
// validation_errors (any error) or validated (none).
func (t *OperationTracker) RecordValidation(ctx context.Context, id string, errs []domain.ValidationError) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "record validation", domain.StateValidating); err != nil {
			return err
		}
		next := domain.StateValidated
		if len(errs) > 0 {
			next = domain.StateValidationErrors
		}
		if err := moveTo(op, next, "record validation"); err != nil {
			return err
		}
		op.ValidationErrors = append([]domain.ValidationError(nil), errs...)
		op.WarningsAcknowledged = false
		fx.events = append(fx.events, domain.EventValidationRecorded)
		return nil
	})
}

// Revalidate clears the previous run and moves validation_errors back to
// validating.
func (t *OperationTracker) Revalidate(ctx context.Context, id string) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, _ *effects) error {
		if err := requireState(op, "revalidate", domain.StateValidationErrors); err != nil {
			return err
		}
		if err := moveTo(op, domain.StateValidating, "revalidate"); err != nil {
			return err
		}
		op.ValidationErrors = nil
		op.WarningsAcknowledged = false
		return nil
	})
}

// ApplyAutoFix drops the selected auto-fixable errors from the current run
// and returns the ones removed. The state does not change; the caller
// re-runs validation on the corrected rows.
func (t *OperationTracker) ApplyAutoFix(ctx context.Context, id string, selectedIDs []string) (*domain.Operation, []domain.ValidationError, error) {
	var fixed []domain.ValidationError
	op, err := t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "auto-fix", domain.StateValidationErrors); err != nil {
			return err
		}
		var remaining []domain.ValidationError
		remaining, fixed = validation.ApplyAutoFix(op.ValidationErrors, selectedIDs)
		if len(fixed) == 0 {
			fx.noop = true
			return nil
		}
		op.ValidationErrors = remaining
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return op, fixed, nil
}

// AcknowledgeWarnings bypasses the remaining warning and info errors. It is
// refused while any critical error is unresolved. The bypass is audited.
func (t *OperationTracker) AcknowledgeWarnings(ctx context.Context, id, actor string) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "acknowledge warnings", domain.StateValidationErrors); err != nil {
			return err
		}
		if n := op.CriticalErrorCount(); n > 0 {
			return apperrors.ErrUnresolvedCriticalErrors(n)
		}
		if err := moveTo(op, domain.StateValidated, "acknowledge warnings"); err != nil {
			return err
		}
		op.WarningsAcknowledged = true

		summary := validation.Summarize(op.ValidationErrors)
		fx.actor = actor
		fx.audit = append(fx.audit, domain.AuditEntry{
			ActingUser:      actor,
			Action:          domain.ActionWarningsAcknowledged,
			OperationID:     op.ID,
			AffectedRecords: domain.IntPtr(op.TotalRecords),
			Details:         fmt.Sprintf("bypassed %d warning and %d info validation errors", summary.Warning, summary.Info),
		})
		return nil
	})
}

// MarkApproved records sign-off for an operation that has not started
// processing.
func (t *OperationTracker) MarkApproved(ctx context.Context, id, approver, comment string) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "approve", domain.StateValidating, domain.StateValidationErrors, domain.StateValidated); err != nil {
			return err
		}
		if op.ApprovedBy != "" {
			return apperrors.ErrInvalidState("operation", "already approved", "approve")
		}
		if op.CreatedBy == approver {
			return apperrors.Forbidden(apperrors.CodeSelfApproval, "an operation cannot be approved by its uploader").
				WithParams(map[string]interface{}{"operation_id": op.ID})
		}
		now := t.now()
		op.ApprovedBy = approver
		op.ApprovedAt = &now

		details := "approved"
		if comment != "" {
			details = "approved: " + comment
		}
		fx.actor = approver
		fx.audit = append(fx.audit, domain.AuditEntry{
			ActingUser:      approver,
			Action:          domain.ActionOperationApproved,
			OperationID:     op.ID,
			AffectedRecords: domain.IntPtr(op.TotalRecords),
			Details:         details,
		})
		return nil
	})
}

// BeginProcessing moves validated to processing. Only one operation per kind
// may be processing at a time.
func (t *OperationTracker) BeginProcessing(ctx context.Context, id, actor string) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "execute", domain.StateValidated); err != nil {
			return err
		}
		if n := op.CriticalErrorCount(); n > 0 {
			return apperrors.ErrUnresolvedCriticalErrors(n)
		}
		if op.RequiresApproval && op.ApprovedBy == "" {
			return apperrors.ErrApprovalRequired(op.ID)
		}
		active, err := t.store.List(ctx, OperationFilter{Kind: op.Kind, State: domain.StateProcessing})
		if err != nil {
			return fmt.Errorf("check %s slot: %w", op.Kind, err)
		}
		for _, other := range active {
			if other.ID != op.ID {
				return apperrors.ErrOperationSlotBusy(string(op.Kind), other.ID)
			}
		}

		if err := moveTo(op, domain.StateProcessing, "execute"); err != nil {
			return err
		}
		now := t.now()
		op.StartedAt = &now
		op.CompletedAt = nil
		op.ProcessedRecords = 0
		op.Committing = false
		op.ExecutedBy = actor
		fx.actor = actor
		fx.events = append(fx.events, domain.EventProcessingStarted)
		return nil
	})
}

// MarkCommitting records that the executor started its irreversible commit
// step. From here on the operation can no longer be cancelled.
func (t *OperationTracker) MarkCommitting(ctx context.Context, id string) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "commit", domain.StateProcessing); err != nil {
			return err
		}
		if op.Committing {
			fx.noop = true
			return nil
		}
		op.Committing = true
		return nil
	})
}

// AdvanceProgress adds recordsJustProcessed to the processed count, clamped
// to totalRecords. Reaching totalRecords completes the operation.
func (t *OperationTracker) AdvanceProgress(ctx context.Context, id string, recordsJustProcessed int) (*domain.Operation, error) {
	if recordsJustProcessed < 0 {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "processed record delta must not be negative")
	}
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "advance progress", domain.StateProcessing); err != nil {
			return err
		}
		return t.setProgress(op, fx, op.ProcessedRecords+recordsJustProcessed)
	})
}

// ReportProgress applies a cumulative processed count from the executor.
// Reports lower than what is already recorded arrived out of order and are
// discarded.
func (t *OperationTracker) ReportProgress(ctx context.Context, id string, processed int) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "report progress", domain.StateProcessing); err != nil {
			return err
		}
		if processed < op.ProcessedRecords {
			logger.ForOperation(op.ID, string(op.Kind)).Debug("Stale progress report discarded",
				zap.Int("reported", processed),
				zap.Int("recorded", op.ProcessedRecords),
			)
			fx.noop = true
			return nil
		}
		return t.setProgress(op, fx, processed)
	})
}

func (t *OperationTracker) setProgress(op *domain.Operation, fx *effects, processed int) error {
	if processed > op.TotalRecords {
		processed = op.TotalRecords
	}
	if processed == op.ProcessedRecords && processed < op.TotalRecords {
		fx.noop = true
		return nil
	}
	op.ProcessedRecords = processed
	if op.ProcessedRecords == op.TotalRecords {
		return t.complete(op, fx)
	}
	return nil
}

func (t *OperationTracker) complete(op *domain.Operation, fx *effects) error {
	if err := moveTo(op, domain.StateCompleted, "complete"); err != nil {
		return err
	}
	now := t.now()
	op.CompletedAt = &now
	op.Committing = false
	t.releaseCancel(op.ID)

	fx.actor = op.ExecutedBy
	fx.audit = append(fx.audit, domain.AuditEntry{
		ActingUser:      op.ExecutedBy,
		Action:          domain.ActionOperationCompleted,
		OperationID:     op.ID,
		AffectedRecords: domain.IntPtr(op.ProcessedRecords),
		Status:          domain.AuditSuccess,
		Details:         fmt.Sprintf("%s processed %d of %d records", op.Kind, op.ProcessedRecords, op.TotalRecords),
	})
	fx.events = append(fx.events, domain.EventOperationCompleted)
	return nil
}

// Fail moves an in-flight operation to error. Partial progress is kept for
// display and audit; it is not assumed reversible.
func (t *OperationTracker) Fail(ctx context.Context, id, reason string) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "fail", domain.StateUploading, domain.StateValidating, domain.StateProcessing); err != nil {
			return err
		}
		if err := moveTo(op, domain.StateError, "fail"); err != nil {
			return err
		}
		now := t.now()
		op.CompletedAt = &now
		op.Committing = false
		op.FailureReason = reason
		t.releaseCancel(op.ID)

		actor := op.ExecutedBy
		if actor == "" {
			actor = op.CreatedBy
		}
		fx.actor = actor
		fx.audit = append(fx.audit, domain.AuditEntry{
			ActingUser:      actor,
			Action:          domain.ActionOperationFailed,
			OperationID:     op.ID,
			AffectedRecords: domain.IntPtr(op.ProcessedRecords),
			Status:          domain.AuditFailure,
			Details:         reason,
		})
		fx.events = append(fx.events, domain.EventOperationFailed)
		return nil
	})
}

// Cancel stops a processing operation before its commit step and returns it
// to idle. Progress is discarded; partially processed records are not
// compensated.
func (t *OperationTracker) Cancel(ctx context.Context, id, actor string) (*domain.Operation, error) {
	return t.mutate(ctx, id, func(op *domain.Operation, fx *effects) error {
		if err := requireState(op, "cancel", domain.StateProcessing); err != nil {
			return err
		}
		if op.Committing {
			return apperrors.ErrInvalidState("operation", "committing", "cancel")
		}
		if err := moveTo(op, domain.StateIdle, "cancel"); err != nil {
			return err
		}
		discarded := op.ProcessedRecords
		op.ProcessedRecords = 0
		op.StartedAt = nil
		op.ExecutedBy = ""
		t.fireCancel(op.ID)

		fx.actor = actor
		fx.audit = append(fx.audit, domain.AuditEntry{
			ActingUser:      actor,
			Action:          domain.ActionOperationCancelled,
			OperationID:     op.ID,
			AffectedRecords: domain.IntPtr(discarded),
			Details:         fmt.Sprintf("cancelled after %d of %d records; progress discarded", discarded, op.TotalRecords),
		})
		fx.events = append(fx.events, domain.EventOperationCancelled)
		return nil
	})
}

// CreateCompensating stores a completed compensating-rollback operation for
// source and audits its completion. The source operation is not touched.
func (t *OperationTracker) CreateCompensating(ctx context.Context, source *domain.Operation, impact domain.ImpactReport, actor string) (*domain.Operation, error) {
	now := t.now()
	op := &domain.Operation{
		ID:               domain.NewID("op"),
		Kind:             domain.KindCompensatingRollback,
		State:            domain.StateCompleted,
		TotalRecords:     impact.AffectedEmployees,
		ProcessedRecords: impact.AffectedEmployees,
		MonetaryImpact:   impact.PayoutReversion,
		Compensates:      source.ID,
		CreatedBy:        actor,
		ExecutedBy:       actor,
		CreatedAt:        now,
		UpdatedAt:        now,
		StartedAt:        &now,
		CompletedAt:      &now,
	}

	t.mu.Lock()
	if err := t.store.Create(ctx, op); err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("create compensating operation: %w", err)
	}
	t.appendAudit(ctx, domain.AuditEntry{
		ActingUser:      actor,
		Action:          domain.ActionOperationCompleted,
		OperationID:     op.ID,
		AffectedRecords: domain.IntPtr(op.ProcessedRecords),
		Status:          domain.AuditSuccess,
		Details:         fmt.Sprintf("compensates %s; payout reversion %s", source.ID, impact.PayoutReversion.StringFixed(2)),
	})
	snapshot := op.Clone()
	t.mu.Unlock()

	logger.ForOperation(snapshot.ID, string(snapshot.Kind)).Info("Compensating operation recorded",
		zap.String("compensates", source.ID),
		zap.Int("affected_employees", impact.AffectedEmployees),
	)
	t.publish(ctx, snapshot, actor, domain.EventOperationCompleted, nil)
	return snapshot, nil
}

// Get returns one operation.
func (t *OperationTracker) Get(ctx context.Context, id string) (*domain.Operation, error) {
	return t.store.Get(ctx, id)
}

// List returns operations newest first.
func (t *OperationTracker) List(ctx context.Context, filter OperationFilter) ([]*domain.Operation, error) {
	return t.store.List(ctx, filter)
}

// EstimateCompletion forecasts completion for one operation.
func (t *OperationTracker) EstimateCompletion(ctx context.Context, id string) (Estimate, error) {
	op, err := t.store.Get(ctx, id)
	if err != nil {
		return Estimate{}, err
	}
	return EstimateCompletion(op, t.now()), nil
}

// RegisterCancel associates the cancel func of a running executor with id.
// Cancel fires it; completion and failure drop it.
func (t *OperationTracker) RegisterCancel(id string, cancel context.CancelFunc) {
	t.cancelMu.Lock()
	defer t.cancelMu.Unlock()
	t.cancels[id] = cancel
}

// ReleaseCancel drops a registration without firing it.
func (t *OperationTracker) ReleaseCancel(id string) {
	t.releaseCancel(id)
}

func (t *OperationTracker) releaseCancel(id string) {
	t.cancelMu.Lock()
	defer t.cancelMu.Unlock()
	delete(t.cancels, id)
}

func (t *OperationTracker) fireCancel(id string) {
	t.cancelMu.Lock()
	cancel, ok := t.cancels[id]
	delete(t.cancels, id)
	t.cancelMu.Unlock()
	if ok {
		cancel()
	}
}
