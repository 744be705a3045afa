package local

import (
	"context"
	"time"

	"github.com/JustVic19/Payouts-sub000/internal/collaborator"
)

// BatchExecutor applies records in fixed-size batches. The final batch is
// the commit step: it is announced with Committing and is not interrupted.
type BatchExecutor struct {
	BatchSize  int
	BatchDelay time.Duration
}

// NewBatchExecutor creates a BatchExecutor. A non-positive batch size
// defaults to 100.
func NewBatchExecutor(batchSize int, batchDelay time.Duration) *BatchExecutor {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BatchExecutor{BatchSize: batchSize, BatchDelay: batchDelay}
}

func (e *BatchExecutor) Execute(ctx context.Context, req collaborator.ExecutionRequest, progress collaborator.ProgressFunc) error {
	total := req.TotalRecords
	if progress == nil {
		progress = func(collaborator.ProgressEvent) {}
	}

	staged := 0
	for total-staged > e.BatchSize {
		if err := e.wait(ctx); err != nil {
			return err
		}
		staged += e.BatchSize
		progress(collaborator.ProgressEvent{Processed: staged, Total: total})
	}

	if err := e.wait(ctx); err != nil {
		return err
	}
	progress(collaborator.ProgressEvent{Processed: staged, Total: total, Committing: true})
	progress(collaborator.ProgressEvent{Processed: total, Total: total, Committing: true})
	return nil
}

func (e *BatchExecutor) wait(ctx context.Context) error {
	if e.BatchDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.BatchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
