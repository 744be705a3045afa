package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of domain event.
type EventType string

const (
	EventUploadStarted      EventType = "OPERATION_UPLOAD_STARTED"
	EventValidationRecorded EventType = "OPERATION_VALIDATION_RECORDED"
	EventProcessingStarted  EventType = "OPERATION_PROCESSING_STARTED"
	EventOperationCompleted EventType = "OPERATION_COMPLETED"
	EventOperationFailed    EventType = "OPERATION_FAILED"
	EventOperationCancelled EventType = "OPERATION_CANCELLED"
	EventRollbackCompleted  EventType = "ROLLBACK_COMPLETED"
	EventRollbackBlocked    EventType = "ROLLBACK_BLOCKED"
	EventRollbackExpired    EventType = "ROLLBACK_EXPIRED"
	EventAuditEntryAppended EventType = "AUDIT_ENTRY_APPENDED"
)

// DomainEvent is an immutable notification raised after a state change has
// been stored. Snapshot carries the aggregate as it was at that moment.
type DomainEvent struct {
	EventID     string    `json:"event_id"`
	EventType   EventType `json:"event_type"`
	AggregateID string    `json:"aggregate_id"`
	Actor       string    `json:"actor,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	Operation *Operation      `json:"operation,omitempty"`
	Rollback  *RollbackRecord `json:"rollback,omitempty"`
	Audit     *AuditEntry     `json:"audit,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// UploadRejectionPayload is the payload of EventUploadStarted.
type UploadRejectionPayload struct {
	Rejected []FileRejection `json:"rejected"`
}

// ToJSON converts payload to JSON bytes.
func (p UploadRejectionPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
