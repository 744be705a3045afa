package usecase

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/collaborator"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

// DefaultExecutionTimeout bounds a single execution run.
const DefaultExecutionTimeout = 30 * time.Minute

// ExecutionRunner drives one operation through the executor and feeds its
// progress back into the tracker.
type ExecutionRunner struct {
	tracker  *service.OperationTracker
	executor collaborator.Executor
	rows     RowStore
	timeout  time.Duration
}

// NewExecutionRunner creates a new ExecutionRunner. A non-positive timeout
// uses DefaultExecutionTimeout.
func NewExecutionRunner(tracker *service.OperationTracker, executor collaborator.Executor, rows RowStore, timeout time.Duration) *ExecutionRunner {
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	return &ExecutionRunner{tracker: tracker, executor: executor, rows: rows, timeout: timeout}
}

// Run executes an operation in processing. Operations in any other state are
// skipped, so a redelivered job is harmless. An operation found already past
// its commit step is never executed again: it is failed as interrupted.
//
// Once the executor has been invoked, every error Run returns carries
// EXECUTION_FAILURE so the job is not retried into a second run.
//
// Progress reports that race with a cancel or failure are dropped; the
// tracker refuses them with INVALID_STATE.
func (r *ExecutionRunner) Run(ctx context.Context, operationID string) error {
	op, err := r.tracker.Get(ctx, operationID)
	if err != nil {
		return err
	}
	log := logger.ForOperation(op.ID, string(op.Kind))
	if op.State != domain.StateProcessing {
		log.Info("Execution skipped", zap.String("state", string(op.State)))
		return nil
	}
	if op.Committing {
		log.Error("Execution interrupted after commit step, not re-running",
			zap.Int("processed", op.ProcessedRecords),
			zap.Int("total_records", op.TotalRecords),
		)
		r.failWith(ctx, op.ID, ReasonCommitInterrupted, log)
		return apperrors.New(apperrors.CodeExecutionFailure, "execution was interrupted after its commit step", http.StatusConflict)
	}

	rows, err := r.rows.Get(ctx, op.ID)
	if err != nil {
		r.fail(ctx, op.ID, log)
		return apperrors.Wrap(err, apperrors.CodeExecutionFailure, "could not load operation rows", http.StatusInternalServerError)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	r.tracker.RegisterCancel(op.ID, cancel)
	defer r.tracker.ReleaseCancel(op.ID)

	start := time.Now()
	log.Info("Execution started", zap.Int("total_records", op.TotalRecords))

	execErr := r.executor.Execute(runCtx, collaborator.ExecutionRequest{
		OperationID:  op.ID,
		Kind:         op.Kind,
		TotalRecords: op.TotalRecords,
		Rows:         rows,
	}, func(e collaborator.ProgressEvent) {
		if e.Committing {
			if _, err := r.tracker.MarkCommitting(ctx, op.ID); err != nil && !apperrors.HasCode(err, apperrors.CodeInvalidState) {
				log.Warn("Failed to record commit step", zap.Error(err))
			}
		}
		if _, err := r.tracker.ReportProgress(ctx, op.ID, e.Processed); err != nil && !apperrors.HasCode(err, apperrors.CodeInvalidState) {
			log.Warn("Failed to record progress", zap.Int("processed", e.Processed), zap.Error(err))
		}
	})

	current, err := r.tracker.Get(ctx, op.ID)
	if err != nil {
		log.Error("Failed to load operation after execution", zap.Bool("executor_succeeded", execErr == nil), zap.Error(err))
		return unrecorded(err)
	}
	if current.State != domain.StateProcessing {
		// Cancelled, or completed by the last progress report.
		log.Info("Execution finished",
			zap.String("state", string(current.State)),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}

	if execErr == nil {
		if _, err := r.tracker.ReportProgress(ctx, op.ID, current.TotalRecords); err != nil {
			log.Error("Failed to record completion", zap.Error(err))
			return unrecorded(err)
		}
		log.Info("Execution finished",
			zap.String("state", string(domain.StateCompleted)),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}

	log.Error("Execution failed", zap.Error(execErr), zap.Int("processed", current.ProcessedRecords))
	r.fail(ctx, op.ID, log)
	return apperrors.Wrap(execErr, apperrors.CodeExecutionFailure, "operation execution failed", http.StatusBadGateway)
}

func (r *ExecutionRunner) fail(ctx context.Context, operationID string, log *zap.Logger) {
	r.failWith(ctx, operationID, ReasonExecutionFailed, log)
}

func (r *ExecutionRunner) failWith(ctx context.Context, operationID, reason string, log *zap.Logger) {
	if _, err := r.tracker.Fail(ctx, operationID, reason); err != nil && !apperrors.HasCode(err, apperrors.CodeInvalidState) {
		log.Error("Failed to mark operation as failed", zap.Error(err))
	}
}

// unrecorded marks a bookkeeping error raised after the executor ran.
func unrecorded(err error) error {
	return apperrors.Wrap(err, apperrors.CodeExecutionFailure, "execution outcome could not be recorded", http.StatusInternalServerError)
}
