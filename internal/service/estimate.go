package service

import (
	"time"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
)

// Estimate is a completion forecast for one operation.
// Indeterminate is true when no throughput has been observed yet; the
// other forecast fields are then zero.
type Estimate struct {
	OperationID         string                `json:"operation_id"`
	State               domain.OperationState `json:"state"`
	ProcessedRecords    int                   `json:"processed_records"`
	TotalRecords        int                   `json:"total_records"`
	ProgressPercent     float64               `json:"progress_percent"`
	Indeterminate       bool                  `json:"indeterminate"`
	ThroughputPerSecond float64               `json:"throughput_per_second,omitempty"`
	Remaining           time.Duration         `json:"remaining_ns,omitempty"`
	EstimatedCompletion *time.Time            `json:"estimated_completion,omitempty"`
}

// EstimateCompletion forecasts when op will finish, as seen at now.
// throughput = processed / elapsed since startedAt;
// ETA = now + (total - processed) / throughput.
func EstimateCompletion(op *domain.Operation, now time.Time) Estimate {
	est := Estimate{
		OperationID:      op.ID,
		State:            op.State,
		ProcessedRecords: op.ProcessedRecords,
		TotalRecords:     op.TotalRecords,
		ProgressPercent:  op.ProgressPercent(),
		Indeterminate:    true,
	}

	if op.State == domain.StateCompleted && op.CompletedAt != nil {
		done := *op.CompletedAt
		est.Indeterminate = false
		est.EstimatedCompletion = &done
		return est
	}
	if op.State != domain.StateProcessing || op.StartedAt == nil {
		return est
	}

	elapsed := now.Sub(*op.StartedAt).Seconds()
	if elapsed <= 0 || op.ProcessedRecords <= 0 {
		return est
	}
	throughput := float64(op.ProcessedRecords) / elapsed
	if throughput <= 0 {
		return est
	}

	left := op.TotalRecords - op.ProcessedRecords
	if left < 0 {
		left = 0
	}
	remaining := time.Duration(float64(left) / throughput * float64(time.Second))
	eta := now.Add(remaining)

	est.Indeterminate = false
	est.ThroughputPerSecond = throughput
	est.Remaining = remaining
	est.EstimatedCompletion = &eta
	return est
}
