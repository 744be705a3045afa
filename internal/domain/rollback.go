package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRollbackWindow is the eligibility period after completion.
const DefaultRollbackWindow = 24 * time.Hour

// RollbackStatus is the status of a rollback record.
type RollbackStatus string

const (
	RollbackAvailable   RollbackStatus = "available"
	RollbackExpired     RollbackStatus = "expired"
	RollbackRollingBack RollbackStatus = "rolling_back"
	RollbackCompleted   RollbackStatus = "completed"
)

// RollbackRecord tracks whether a completed operation can still be compensated.
// It references its source operation and never mutates it.
type RollbackRecord struct {
	OperationID   string         `json:"operation_id"`
	OperationKind OperationKind  `json:"operation_kind"`
	ExecutedAt    time.Time      `json:"executed_at"`
	Window        time.Duration  `json:"-"`
	Status        RollbackStatus `json:"status"`

	Reason                string        `json:"reason,omitempty"`
	OverrideReason        string        `json:"override_reason,omitempty"`
	RequestedBy           string        `json:"requested_by,omitempty"`
	CompensatingOperation string        `json:"compensating_operation_id,omitempty"`
	LastImpact            *ImpactReport `json:"last_impact,omitempty"`
	RolledBackAt          *time.Time    `json:"rolled_back_at,omitempty"`
	// RollbackStartedAt is set while the record is rolling_back.
	RollbackStartedAt *time.Time `json:"rollback_started_at,omitempty"`
}

// RemainingTime is max(0, window - (now - executedAt)).
func (r RollbackRecord) RemainingTime(now time.Time) time.Duration {
	remaining := r.Window - now.Sub(r.ExecutedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EffectiveStatus applies lazy expiry: an available record whose window has
// run out reads as expired.
func (r RollbackRecord) EffectiveStatus(now time.Time) RollbackStatus {
	if r.Status == RollbackAvailable && r.RemainingTime(now) == 0 {
		return RollbackExpired
	}
	return r.Status
}

// IntegrityStatus is one dependent system's integrity check result.
type IntegrityStatus string

const (
	IntegrityOK      IntegrityStatus = "ok"
	IntegrityWarning IntegrityStatus = "warning"
	IntegrityError   IntegrityStatus = "error"
)

// ImpactReport is the impact-analysis collaborator's answer for one operation.
type ImpactReport struct {
	AffectedEmployees int                        `json:"affected_employees"`
	PayoutReversion   decimal.Decimal            `json:"payout_reversion"`
	IntegrityChecks   map[string]IntegrityStatus `json:"integrity_checks"`
	Risks             []string                   `json:"risks,omitempty"`
}

// SystemsWith returns the system names whose check equals status, sorted.
func (r ImpactReport) SystemsWith(status IntegrityStatus) []string {
	var out []string
	for name, s := range r.IntegrityChecks {
		if s == status {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
