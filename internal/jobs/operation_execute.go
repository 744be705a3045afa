// Package jobs defines River Queue job types for async processing.
//
// Jobs carry only identifiers; workers load the current state from the
// stores when they run.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

// QueueOperations is the queue operation executions run on.
const QueueOperations = "operations"

// OperationExecuteArgs carries only the operation ID.
type OperationExecuteArgs struct {
	OperationID string `json:"operation_id"`
}

// Kind returns the job kind identifier for operation execution.
func (OperationExecuteArgs) Kind() string { return "operation_execute" }

// InsertOpts returns default insert options for execution jobs.
func (OperationExecuteArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueOperations,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// OperationRunner drives one processing operation through the executor.
type OperationRunner interface {
	Run(ctx context.Context, operationID string) error
}

// OperationExecuteWorker runs execution jobs.
//
// A failed execution has already moved the operation to error, so it is
// cancelled rather than retried. Other errors (store unavailable, ...) are
// retried; the runner skips operations that are no longer processing.
type OperationExecuteWorker struct {
	river.WorkerDefaults[OperationExecuteArgs]
	runner  OperationRunner
	timeout time.Duration
}

// NewOperationExecuteWorker creates a worker. timeout bounds one job and
// should exceed the runner's own execution timeout.
func NewOperationExecuteWorker(runner OperationRunner, timeout time.Duration) *OperationExecuteWorker {
	return &OperationExecuteWorker{runner: runner, timeout: timeout}
}

// Timeout overrides the client-wide job timeout.
func (w *OperationExecuteWorker) Timeout(*river.Job[OperationExecuteArgs]) time.Duration {
	if w.timeout <= 0 {
		return -1
	}
	return w.timeout
}

// Work executes the operation.
func (w *OperationExecuteWorker) Work(ctx context.Context, job *river.Job[OperationExecuteArgs]) error {
	if w == nil || w.runner == nil {
		return river.JobCancel(fmt.Errorf("operation execute worker is not initialized"))
	}
	opID := job.Args.OperationID

	logger.Info("Processing operation execution job",
		zap.String("operation_id", opID),
		zap.Int64("attempt", int64(job.Attempt)),
	)

	if err := w.runner.Run(ctx, opID); err != nil {
		if cancellable(err) {
			return river.JobCancel(err)
		}
		return fmt.Errorf("run operation %s: %w", opID, err)
	}
	return nil
}

// cancellable reports errors a retry cannot fix.
func cancellable(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeExecutionFailure) ||
		apperrors.HasCode(err, apperrors.CodeOperationNotFound)
}

// JobInserter is the part of the River client RiverQueue needs.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverQueue schedules executions as River jobs.
type RiverQueue struct {
	client JobInserter
}

// NewRiverQueue creates a RiverQueue.
func NewRiverQueue(client JobInserter) *RiverQueue {
	return &RiverQueue{client: client}
}

// Enqueue inserts an execution job. A duplicate insert for the same
// operation is skipped by River's uniqueness check.
func (q *RiverQueue) Enqueue(ctx context.Context, operationID string) error {
	res, err := q.client.Insert(ctx, OperationExecuteArgs{OperationID: operationID}, nil)
	if err != nil {
		return fmt.Errorf("insert execution job for %s: %w", operationID, err)
	}
	if res != nil && res.UniqueSkippedAsDuplicate {
		logger.Warn("Execution job already queued", zap.String("operation_id", operationID))
	}
	return nil
}
