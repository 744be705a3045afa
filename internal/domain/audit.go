package domain

import "time"

// AuditAction names an auditable transition.
type AuditAction string

const (
	ActionOperationCompleted    AuditAction = "operation.completed"
	ActionOperationFailed       AuditAction = "operation.failed"
	ActionOperationCancelled    AuditAction = "operation.cancelled"
	ActionOperationApproved     AuditAction = "operation.approved"
	ActionWarningsAcknowledged  AuditAction = "operation.warnings_acknowledged"
	ActionRollbackCompleted     AuditAction = "rollback.completed"
	ActionRollbackBlocked       AuditAction = "rollback.blocked"
	ActionRollbackOverridden    AuditAction = "rollback.overridden"
	ActionRollbackExpired       AuditAction = "rollback.expired"
	ActionRollbackAnalysisError AuditAction = "rollback.analysis_failed"
)

// AuditStatus is the outcome recorded with an entry.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
	AuditBlocked AuditStatus = "blocked"
)

// AuditEntry is one immutable audit record. Seq is strictly increasing in
// append order.
type AuditEntry struct {
	ID              string      `json:"id" yaml:"id"`
	Seq             int64       `json:"seq" yaml:"seq"`
	Timestamp       time.Time   `json:"timestamp" yaml:"timestamp"`
	ActingUser      string      `json:"acting_user" yaml:"acting_user"`
	Action          AuditAction `json:"action" yaml:"action"`
	OperationID     string      `json:"operation_id,omitempty" yaml:"operation_id,omitempty"`
	AffectedRecords *int        `json:"affected_records,omitempty" yaml:"affected_records,omitempty"`
	Status          AuditStatus `json:"status" yaml:"status"`
	Details         string      `json:"details,omitempty" yaml:"details,omitempty"`
}

// IntPtr is a small helper for optional counts.
func IntPtr(v int) *int { return &v }
