// Package rollback implements the rollback window: completed operations stay
// eligible for compensation for a fixed period after they finish.
//
// A rollback never mutates the source operation. It runs impact analysis
// against the dependent systems and, unless an integrity check fails, records
// a new compensating operation.
package rollback

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

// RecordStore persists rollback records keyed by operation ID.
// Get returns a ROLLBACK_NOT_FOUND AppError for unknown IDs.
type RecordStore interface {
	Save(ctx context.Context, rec *domain.RollbackRecord) error
	Get(ctx context.Context, operationID string) (*domain.RollbackRecord, error)
	// List returns records with the given stored status ("" for all),
	// most recently executed first.
	List(ctx context.Context, status domain.RollbackStatus) ([]*domain.RollbackRecord, error)
}

// OperationSource reads source operations and records compensating ones.
type OperationSource interface {
	Get(ctx context.Context, id string) (*domain.Operation, error)
	CreateCompensating(ctx context.Context, source *domain.Operation, impact domain.ImpactReport, actor string) (*domain.Operation, error)
}

// ImpactAnalyzer evaluates what rolling back an operation would touch.
type ImpactAnalyzer interface {
	Analyze(ctx context.Context, operationID string) (domain.ImpactReport, error)
}

// AuditRecorder appends to the shared audit log.
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
}

// EventPublisher receives rollback events.
type EventPublisher interface {
	Dispatch(ctx context.Context, event *domain.DomainEvent) error
}

// View is a record as seen at a point in time.
type View struct {
	domain.RollbackRecord
	WindowDurationMs int64 `json:"window_duration_ms"`
	RemainingTimeMs  int64 `json:"remaining_time_ms"`
}

// Result describes a finished rollback.
type Result struct {
	Record       View                `json:"record"`
	Impact       domain.ImpactReport `json:"impact"`
	Compensating *domain.Operation   `json:"compensating_operation"`
	Warnings     []string            `json:"warnings,omitempty"`
}

// DefaultStaleRollbackAfter is how long a record may sit in rolling_back
// without a rollback in flight before the sweep returns it to available.
const DefaultStaleRollbackAfter = 15 * time.Minute

// Window owns rollback records.
type Window struct {
	records  RecordStore
	ops      OperationSource
	analyzer ImpactAnalyzer
	audit    AuditRecorder
	events   EventPublisher
	window   time.Duration
	stale    time.Duration
	now      func() time.Time

	// mu guards status changes and inflight; impact analysis runs outside it.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewWindow creates a rollback Window. A non-positive window falls back to
// domain.DefaultRollbackWindow.
func NewWindow(records RecordStore, ops OperationSource, analyzer ImpactAnalyzer, audit AuditRecorder, window time.Duration) *Window {
	if window <= 0 {
		window = domain.DefaultRollbackWindow
	}
	return &Window{
		records:  records,
		ops:      ops,
		analyzer: analyzer,
		audit:    audit,
		window:   window,
		stale:    DefaultStaleRollbackAfter,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// WithStaleAfter sets how long an abandoned rolling_back record is left
// alone before the sweep reclaims it.
func (w *Window) WithStaleAfter(d time.Duration) *Window {
	if d > 0 {
		w.stale = d
	}
	return w
}

// WithClock replaces the time source.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.now = now
	return w
}

// WithEventPublisher sets where rollback events go.
func (w *Window) WithEventPublisher(p EventPublisher) *Window {
	w.events = p
	return w
}

func (w *Window) view(rec *domain.RollbackRecord, now time.Time) View {
	remaining := time.Duration(0)
	if rec.Status == domain.RollbackAvailable {
		remaining = rec.RemainingTime(now)
	}
	return View{
		RollbackRecord:   *rec,
		WindowDurationMs: rec.Window.Milliseconds(),
		RemainingTimeMs:  remaining.Milliseconds(),
	}
}

// Track opens a rollback record for a completed operation. Tracking is
// idempotent; compensating operations are never tracked.
func (w *Window) Track(ctx context.Context, op *domain.Operation) (*View, error) {
	if op.Kind == domain.KindCompensatingRollback {
		return nil, nil
	}
	if op.State != domain.StateCompleted {
		return nil, apperrors.ErrInvalidState("operation", string(op.State), "open a rollback window")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	existing, err := w.records.Get(ctx, op.ID)
	if err == nil {
		v := w.view(existing, w.now())
		return &v, nil
	}
	if !apperrors.HasCode(err, apperrors.CodeRollbackNotFound) {
		return nil, err
	}

	executedAt := w.now()
	if op.CompletedAt != nil {
		executedAt = *op.CompletedAt
	}
	rec := &domain.RollbackRecord{
		OperationID:   op.ID,
		OperationKind: op.Kind,
		ExecutedAt:    executedAt,
		Window:        w.window,
		Status:        domain.RollbackAvailable,
	}
	if err := w.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save rollback record %s: %w", op.ID, err)
	}
	logger.ForOperation(op.ID, string(op.Kind)).Info("Rollback window opened",
		zap.Time("executed_at", executedAt),
		zap.Duration("window", w.window),
	)
	v := w.view(rec, w.now())
	return &v, nil
}

// HandleOperationCompleted is an EventHandler that tracks completed operations.
func (w *Window) HandleOperationCompleted(ctx context.Context, event *domain.DomainEvent) error {
	if event.Operation == nil {
		return nil
	}
	_, err := w.Track(ctx, event.Operation)
	return err
}

// Get returns one record, expiring it first if its window has run out.
func (w *Window) Get(ctx context.Context, operationID string) (*View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, err := w.records.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	now := w.now()
	if err := w.expireLocked(ctx, rec, now, "system"); err != nil {
		return nil, err
	}
	v := w.view(rec, now)
	return &v, nil
}

// List returns records whose effective status matches status ("" for all).
func (w *Window) List(ctx context.Context, status domain.RollbackStatus) ([]View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	recs, err := w.records.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list rollback records: %w", err)
	}
	now := w.now()
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		if err := w.expireLocked(ctx, rec, now, "system"); err != nil {
			return nil, err
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, w.view(rec, now))
	}
	return out, nil
}

// SweepExpired persists expiry for every available record whose window has
// run out and returns how many were expired. Records left in rolling_back by
// an interrupted rollback are returned to available first.
func (w *Window) SweepExpired(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if err := w.reclaimStaleLocked(ctx, now); err != nil {
		return 0, err
	}

	recs, err := w.records.List(ctx, domain.RollbackAvailable)
	if err != nil {
		return 0, fmt.Errorf("list available rollback records: %w", err)
	}
	expired := 0
	for _, rec := range recs {
		if rec.EffectiveStatus(now) != domain.RollbackExpired {
			continue
		}
		if err := w.expireLocked(ctx, rec, now, "system"); err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		logger.Info("Rollback sweep expired records", zap.Int("expired", expired))
	}
	return expired, nil
}

// reclaimStaleLocked reverts rolling_back records with no rollback in flight
// in this process once they are older than w.stale. Caller holds w.mu.
func (w *Window) reclaimStaleLocked(ctx context.Context, now time.Time) error {
	recs, err := w.records.List(ctx, domain.RollbackRollingBack)
	if err != nil {
		return fmt.Errorf("list rolling back records: %w", err)
	}
	for _, rec := range recs {
		if _, running := w.inflight[rec.OperationID]; running {
			continue
		}
		if rec.RollbackStartedAt != nil && now.Sub(*rec.RollbackStartedAt) < w.stale {
			continue
		}
		rec.Status = domain.RollbackAvailable
		rec.RollbackStartedAt = nil
		if err := w.records.Save(ctx, rec); err != nil {
			return fmt.Errorf("reclaim rollback record %s: %w", rec.OperationID, err)
		}
		logger.Warn("Reclaimed interrupted rollback", zap.String("operation_id", rec.OperationID))
	}
	return nil
}

// expireLocked persists lazy expiry. Caller holds w.mu.
func (w *Window) expireLocked(ctx context.Context, rec *domain.RollbackRecord, now time.Time, actor string) error {
	if rec.Status != domain.RollbackAvailable || rec.EffectiveStatus(now) != domain.RollbackExpired {
		return nil
	}
	rec.Status = domain.RollbackExpired
	if err := w.records.Save(ctx, rec); err != nil {
		return fmt.Errorf("expire rollback record %s: %w", rec.OperationID, err)
	}
	w.appendAudit(ctx, domain.AuditEntry{
		ActingUser:  actor,
		Action:      domain.ActionRollbackExpired,
		OperationID: rec.OperationID,
		Details:     fmt.Sprintf("rollback window of %s elapsed", rec.Window),
	})
	w.publish(ctx, rec, actor, domain.EventRollbackExpired)
	return nil
}

// RequestRollback compensates a completed operation. Any error-level
// integrity check blocks the rollback and leaves the record available.
func (w *Window) RequestRollback(ctx context.Context, operationID, reason, actor string) (*Result, error) {
	return w.rollback(ctx, operationID, reason, "", actor)
}

// Override compensates a completed operation even when integrity checks
// report errors. Both reasons are audited.
func (w *Window) Override(ctx context.Context, operationID, reason, overrideReason, actor string) (*Result, error) {
	if strings.TrimSpace(overrideReason) == "" {
		return nil, apperrors.ErrMissingReason().WithParams(map[string]interface{}{"field": "override_reason"})
	}
	return w.rollback(ctx, operationID, reason, overrideReason, actor)
}

func (w *Window) rollback(ctx context.Context, operationID, reason, overrideReason, actor string) (*Result, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.ErrMissingReason()
	}
	override := overrideReason != ""

	rec, err := w.begin(ctx, operationID, actor)
	if err != nil {
		return nil, err
	}
	defer w.release(operationID)
	log := logger.ForOperation(rec.OperationID, string(rec.OperationKind))

	// The caller may go away during analysis. Whatever happens after begin is
	// written without its cancellation so the record never rests in rolling_back.
	persist := context.WithoutCancel(ctx)

	source, err := w.ops.Get(ctx, operationID)
	if err != nil {
		w.revert(persist, rec)
		return nil, err
	}

	report, err := w.analyzer.Analyze(ctx, operationID)
	if err != nil {
		w.revert(persist, rec)
		log.Error("Impact analysis failed", zap.Error(err))
		w.appendAudit(persist, domain.AuditEntry{
			ActingUser:  actor,
			Action:      domain.ActionRollbackAnalysisError,
			OperationID: operationID,
			Status:      domain.AuditFailure,
			Details:     "reason: " + reason,
		})
		return nil, apperrors.Wrap(err, apperrors.CodeImpactAnalysisFailed, "impact analysis failed", http.StatusBadGateway)
	}

	blocking := report.SystemsWith(domain.IntegrityError)
	warnings := report.SystemsWith(domain.IntegrityWarning)
	if len(warnings) > 0 {
		log.Warn("Rollback integrity warnings", zap.Strings("systems", warnings))
	}

	if len(blocking) > 0 && !override {
		rec.LastImpact = &report
		w.revert(persist, rec)
		log.Warn("Rollback blocked by integrity checks", zap.Strings("systems", blocking))
		w.appendAudit(persist, domain.AuditEntry{
			ActingUser:      actor,
			Action:          domain.ActionRollbackBlocked,
			OperationID:     operationID,
			AffectedRecords: domain.IntPtr(report.AffectedEmployees),
			Status:          domain.AuditBlocked,
			Details:         auditDetails(reason, "", blocking, warnings),
		})
		w.publish(persist, rec, actor, domain.EventRollbackBlocked)
		return nil, apperrors.ErrIntegrityCheckBlocked(blocking)
	}

	compensating, err := w.ops.CreateCompensating(persist, source, report, actor)
	if err != nil {
		w.revert(persist, rec)
		return nil, err
	}

	w.mu.Lock()
	now := w.now()
	done := *rec
	done.Status = domain.RollbackCompleted
	done.Reason = reason
	done.OverrideReason = overrideReason
	done.RequestedBy = actor
	done.CompensatingOperation = compensating.ID
	done.LastImpact = &report
	done.RolledBackAt = &now
	done.RollbackStartedAt = nil
	saveErr := w.records.Save(persist, &done)
	if saveErr == nil {
		if override {
			w.appendAudit(persist, domain.AuditEntry{
				ActingUser:      actor,
				Action:          domain.ActionRollbackOverridden,
				OperationID:     operationID,
				AffectedRecords: domain.IntPtr(report.AffectedEmployees),
				Details:         auditDetails(reason, overrideReason, blocking, warnings),
			})
		}
		w.appendAudit(persist, domain.AuditEntry{
			ActingUser:      actor,
			Action:          domain.ActionRollbackCompleted,
			OperationID:     operationID,
			AffectedRecords: domain.IntPtr(report.AffectedEmployees),
			Details: auditDetails(reason, overrideReason, blocking, warnings) +
				fmt.Sprintf("; compensating operation %s", compensating.ID),
		})
	}
	v := w.view(&done, now)
	w.mu.Unlock()
	if saveErr != nil {
		log.Error("Failed to record completed rollback",
			zap.String("compensating_operation_id", compensating.ID),
			zap.Error(saveErr),
		)
		w.revert(persist, rec)
		return nil, fmt.Errorf("complete rollback record %s: %w", operationID, saveErr)
	}

	log.Info("Rollback completed",
		zap.String("compensating_operation_id", compensating.ID),
		zap.Bool("override", override),
		zap.Int("affected_employees", report.AffectedEmployees),
	)
	w.publish(persist, &done, actor, domain.EventRollbackCompleted)

	return &Result{
		Record:       v,
		Impact:       report,
		Compensating: compensating,
		Warnings:     warnings,
	}, nil
}

// begin moves an available record to rolling_back.
func (w *Window) begin(ctx context.Context, operationID, actor string) (*domain.RollbackRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, err := w.records.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if err := w.expireLocked(ctx, rec, w.now(), actor); err != nil {
		return nil, err
	}
	if rec.Status != domain.RollbackAvailable {
		return nil, apperrors.ErrInvalidState("rollback", string(rec.Status), "start")
	}
	started := w.now()
	rec.Status = domain.RollbackRollingBack
	rec.RollbackStartedAt = &started
	if err := w.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("start rollback %s: %w", operationID, err)
	}
	w.inflight[operationID] = struct{}{}
	return rec, nil
}

func (w *Window) release(operationID string) {
	w.mu.Lock()
	delete(w.inflight, operationID)
	w.mu.Unlock()
}

// revert returns a rolling_back record to available. If the write fails the
// sweep reclaims the record later.
func (w *Window) revert(ctx context.Context, rec *domain.RollbackRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec.Status = domain.RollbackAvailable
	rec.RollbackStartedAt = nil
	if err := w.records.Save(ctx, rec); err != nil {
		logger.Error("Failed to revert rollback record",
			zap.String("operation_id", rec.OperationID),
			zap.Error(err),
		)
	}
}

func (w *Window) appendAudit(ctx context.Context, entry domain.AuditEntry) {
	if w.audit == nil {
		return
	}
	if _, err := w.audit.Record(ctx, entry); err != nil {
		logger.Error("Failed to append rollback audit entry",
			zap.String("operation_id", entry.OperationID),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}

func (w *Window) publish(ctx context.Context, rec *domain.RollbackRecord, actor string, et domain.EventType) {
	if w.events == nil {
		return
	}
	snapshot := *rec
	_ = w.events.Dispatch(ctx, &domain.DomainEvent{
		EventID:     domain.NewID("evt"),
		EventType:   et,
		AggregateID: rec.OperationID,
		Actor:       actor,
		CreatedAt:   w.now(),
		Rollback:    &snapshot,
	})
}

func auditDetails(reason, overrideReason string, blocking, warnings []string) string {
	parts := []string{"reason: " + reason}
	if overrideReason != "" {
		parts = append(parts, "override: "+overrideReason)
	}
	if len(blocking) > 0 {
		parts = append(parts, "integrity errors: "+strings.Join(blocking, ","))
	}
	if len(warnings) > 0 {
		parts = append(parts, "integrity warnings: "+strings.Join(warnings, ","))
	}
	return strings.Join(parts, "; ")
}
