package local

import (
	"context"
	"fmt"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
)

// OperationReader loads the operation being analysed.
type OperationReader interface {
	Get(ctx context.Context, id string) (*domain.Operation, error)
}

// DefaultSystems are the dependent systems checked on every rollback.
var DefaultSystems = []string{"payroll", "commission-ledger", "quota-planning"}

// LargeRollbackEmployees marks a rollback as risky above this population.
const LargeRollbackEmployees = 500

// StaticImpactAnalyzer derives impact from the stored operation and reports
// fixed integrity results per system. Systems not listed in Checks report ok.
type StaticImpactAnalyzer struct {
	ops     OperationReader
	Systems []string
	Checks  map[string]domain.IntegrityStatus
}

// NewStaticImpactAnalyzer creates an analyzer over DefaultSystems.
func NewStaticImpactAnalyzer(ops OperationReader) *StaticImpactAnalyzer {
	return &StaticImpactAnalyzer{
		ops:     ops,
		Systems: DefaultSystems,
		Checks:  map[string]domain.IntegrityStatus{},
	}
}

func (a *StaticImpactAnalyzer) Analyze(ctx context.Context, operationID string) (domain.ImpactReport, error) {
	op, err := a.ops.Get(ctx, operationID)
	if err != nil {
		return domain.ImpactReport{}, fmt.Errorf("load operation %s: %w", operationID, err)
	}

	report := domain.ImpactReport{
		AffectedEmployees: op.ProcessedRecords,
		PayoutReversion:   op.MonetaryImpact,
		IntegrityChecks:   make(map[string]domain.IntegrityStatus, len(a.Systems)),
	}
	for _, system := range a.Systems {
		status, ok := a.Checks[system]
		if !ok {
			status = domain.IntegrityOK
		}
		report.IntegrityChecks[system] = status
	}
	if op.ProcessedRecords > LargeRollbackEmployees {
		report.Risks = append(report.Risks, fmt.Sprintf("%d employees will see payout changes", op.ProcessedRecords))
	}
	if op.ProcessedRecords < op.TotalRecords {
		report.Risks = append(report.Risks, "source operation did not process every record")
	}
	return report, nil
}
