package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/worker"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

// ExecutionQueue hands an operation in processing to whatever runs it.
type ExecutionQueue interface {
	Enqueue(ctx context.Context, operationID string) error
}

// ExecuteUseCase starts execution of validated operations.
type ExecuteUseCase struct {
	tracker *service.OperationTracker
	queue   ExecutionQueue
}

// NewExecuteUseCase creates a new ExecuteUseCase.
func NewExecuteUseCase(tracker *service.OperationTracker, queue ExecutionQueue) *ExecuteUseCase {
	return &ExecuteUseCase{tracker: tracker, queue: queue}
}

// Execute claims the per-kind processing slot and schedules the run. If the
// run cannot be scheduled the operation fails instead of holding the slot.
func (uc *ExecuteUseCase) Execute(ctx context.Context, operationID, actor string) (*domain.Operation, error) {
	op, err := uc.tracker.BeginProcessing(ctx, operationID, actor)
	if err != nil {
		return nil, err
	}

	if err := uc.queue.Enqueue(ctx, op.ID); err != nil {
		logger.ForOperation(op.ID, string(op.Kind)).Error("Failed to schedule execution", zap.Error(err))
		if _, failErr := uc.tracker.Fail(ctx, op.ID, "execution "+ReasonNotScheduled); failErr != nil {
			logger.Error("Failed to mark unscheduled execution as failed",
				zap.String("operation_id", op.ID),
				zap.Error(failErr),
			)
		}
		return nil, fmt.Errorf("schedule execution of %s: %w", op.ID, err)
	}
	return op, nil
}

// PoolQueue runs executions on the execution worker pool. It is used when no
// database is configured for the job queue.
type PoolQueue struct {
	pools  *worker.Pools
	runner *ExecutionRunner
}

// NewPoolQueue creates a new PoolQueue.
func NewPoolQueue(pools *worker.Pools, runner *ExecutionRunner) *PoolQueue {
	return &PoolQueue{pools: pools, runner: runner}
}

func (q *PoolQueue) Enqueue(_ context.Context, operationID string) error {
	return q.pools.SubmitDetached(worker.PoolExecution, func(ctx context.Context) {
		if err := q.runner.Run(ctx, operationID); err != nil {
			logger.Warn("Execution finished with error", zap.String("operation_id", operationID), zap.Error(err))
		}
	})
}
