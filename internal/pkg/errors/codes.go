package errors

import (
	"fmt"
	"net/http"
)

// Error code constants.
// Codes are stable and carry params; clients render their own copy.

// Upload error codes.
const (
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeNoFilesAccepted   = "NO_FILES_ACCEPTED"
	CodeIngestionFailed   = "INGESTION_FAILED"
)

// Operation lifecycle error codes.
const (
	CodeOperationNotFound        = "OPERATION_NOT_FOUND"
	CodeInvalidState             = "INVALID_STATE"
	CodeOperationSlotBusy        = "OPERATION_SLOT_BUSY"
	CodeUnresolvedCriticalErrors = "UNRESOLVED_CRITICAL_ERRORS"
	CodeExecutionFailure         = "EXECUTION_FAILURE"
	CodeInvalidOperationKind     = "INVALID_OPERATION_KIND"
)

// Approval error codes.
const (
	CodeApprovalRequired = "APPROVAL_REQUIRED"
	CodeSelfApproval     = "SELF_APPROVAL_FORBIDDEN"
)

// Rollback error codes.
const (
	CodeRollbackNotFound      = "ROLLBACK_NOT_FOUND"
	CodeMissingReason         = "MISSING_REASON"
	CodeIntegrityCheckBlocked = "INTEGRITY_CHECK_BLOCKED"
	CodeImpactAnalysisFailed  = "IMPACT_ANALYSIS_FAILED"
)

// Auth error codes.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
	CodeForbidden    = "FORBIDDEN"
)

// Validation error codes.
const (
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeUnsupportedExport   = "UNSUPPORTED_EXPORT_FORMAT"
)

// Convenience constructors using predefined codes.

// ErrUnsupportedFormat rejects a file whose extension is not accepted.
func ErrUnsupportedFormat(fileName, ext string) *AppError {
	return BadRequest(CodeUnsupportedFormat, "unsupported file format").
		WithParams(map[string]interface{}{"file_name": fileName, "extension": ext})
}

// ErrFileTooLarge rejects a file above the configured size limit.
func ErrFileTooLarge(fileName string, size, limit int64) *AppError {
	return New(CodeFileTooLarge, "file exceeds maximum upload size", http.StatusRequestEntityTooLarge).
		WithParams(map[string]interface{}{"file_name": fileName, "size_bytes": size, "max_bytes": limit})
}

// ErrOperationNotFound creates an operation not found error.
func ErrOperationNotFound(id string) *AppError {
	return NotFound(CodeOperationNotFound, "operation not found").
		WithParams(map[string]interface{}{"operation_id": id})
}

// ErrInvalidState rejects a transition the current state does not allow.
func ErrInvalidState(subject, current, action string) *AppError {
	return Conflict(CodeInvalidState, fmt.Sprintf("%s cannot %s while %s", subject, action, current)).
		WithParams(map[string]interface{}{"state": current, "action": action})
}

// ErrOperationSlotBusy rejects a second processing operation of the same kind.
func ErrOperationSlotBusy(kind, activeID string) *AppError {
	return Conflict(CodeOperationSlotBusy, "another operation of this kind is processing").
		WithParams(map[string]interface{}{"kind": kind, "active_operation_id": activeID})
}

// ErrUnresolvedCriticalErrors blocks processing while critical validation errors remain.
func ErrUnresolvedCriticalErrors(count int) *AppError {
	return Unprocessable(CodeUnresolvedCriticalErrors, "critical validation errors must be resolved").
		WithParams(map[string]interface{}{"critical_count": count})
}

// ErrApprovalRequired blocks execution of an operation that still needs approval.
func ErrApprovalRequired(id string) *AppError {
	return Forbidden(CodeApprovalRequired, "operation requires approval before execution").
		WithParams(map[string]interface{}{"operation_id": id})
}

// ErrRollbackNotFound creates a rollback record not found error.
func ErrRollbackNotFound(operationID string) *AppError {
	return NotFound(CodeRollbackNotFound, "rollback record not found").
		WithParams(map[string]interface{}{"operation_id": operationID})
}

// ErrMissingReason rejects a rollback request without a reason.
func ErrMissingReason() *AppError {
	return BadRequest(CodeMissingReason, "a rollback reason is required")
}

// ErrIntegrityCheckBlocked holds a rollback because a dependent system reported an error.
func ErrIntegrityCheckBlocked(systems []string) *AppError {
	return Conflict(CodeIntegrityCheckBlocked, "dependent system integrity check failed; operator override required").
		WithParams(map[string]interface{}{"systems": systems})
}
