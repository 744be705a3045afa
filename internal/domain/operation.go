package domain

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OperationKind is the closed set of bulk operations the console can run.
type OperationKind string

const (
	KindMassScenarioApply OperationKind = "mass-scenario-apply"
	KindTierReassignment  OperationKind = "tier-reassignment"
	KindQuotaAdjustment   OperationKind = "quota-adjustment"
	KindCommissionRecalc  OperationKind = "commission-recalc"

	// KindCompensatingRollback is created by the rollback window, never by upload.
	KindCompensatingRollback OperationKind = "compensating-rollback"
)

// UploadableKinds lists the kinds a user may start through upload.
var UploadableKinds = []OperationKind{
	KindMassScenarioApply,
	KindTierReassignment,
	KindQuotaAdjustment,
	KindCommissionRecalc,
}

// Valid reports whether k may be started by upload.
func (k OperationKind) Valid() bool {
	for _, known := range UploadableKinds {
		if k == known {
			return true
		}
	}
	return false
}

// OperationState is a lifecycle state.
type OperationState string

const (
	StateIdle             OperationState = "idle"
	StateUploading        OperationState = "uploading"
	StateValidating       OperationState = "validating"
	StateValidationErrors OperationState = "validation_errors"
	StateValidated        OperationState = "validated"
	StateProcessing       OperationState = "processing"
	StateCompleted        OperationState = "completed"
	StateError            OperationState = "error"
)

// IsTerminal reports whether no further mutation is allowed.
func (s OperationState) IsTerminal() bool {
	return s == StateCompleted || s == StateError
}

// FileMetadata describes one uploaded file.
type FileMetadata struct {
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type,omitempty"`
}

// Extension returns the lower-case extension without the dot.
func (f FileMetadata) Extension() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(f.FileName), "."))
}

// FileRejection records a file refused at upload or ingestion.
type FileRejection struct {
	FileName string `json:"file_name"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Operation is one user-initiated bulk action.
type Operation struct {
	ID    string         `json:"id"`
	Kind  OperationKind  `json:"kind"`
	State OperationState `json:"state"`

	Files      []FileMetadata  `json:"files"`
	Rejections []FileRejection `json:"rejections,omitempty"`

	TotalRecords     int             `json:"total_records"`
	ProcessedRecords int             `json:"processed_records"`
	MonetaryImpact   decimal.Decimal `json:"monetary_impact"`

	RequiresApproval bool       `json:"requires_approval"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`

	ValidationErrors     []ValidationError `json:"validation_errors,omitempty"`
	WarningsAcknowledged bool              `json:"warnings_acknowledged"`

	// Committing is set once the executor enters its irreversible commit step.
	Committing bool `json:"committing"`

	FailureReason string `json:"failure_reason,omitempty"`
	// Compensates holds the source operation ID for compensating rollbacks.
	Compensates string `json:"compensates,omitempty"`

	CreatedBy   string     `json:"created_by"`
	ExecutedBy  string     `json:"executed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProgressPercent returns processed/total*100 clamped to [0,100].
func (o *Operation) ProgressPercent() float64 {
	if o.TotalRecords <= 0 {
		if o.State == StateCompleted {
			return 100
		}
		return 0
	}
	pct := float64(o.ProcessedRecords) / float64(o.TotalRecords) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// CriticalErrorCount counts unresolved critical validation errors.
func (o *Operation) CriticalErrorCount() int {
	n := 0
	for _, e := range o.ValidationErrors {
		if e.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	c.Files = append([]FileMetadata(nil), o.Files...)
	c.Rejections = append([]FileRejection(nil), o.Rejections...)
	c.ValidationErrors = append([]ValidationError(nil), o.ValidationErrors...)
	c.ApprovedAt = cloneTime(o.ApprovedAt)
	c.StartedAt = cloneTime(o.StartedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Row is one parsed input record. Number is 1-based in file order.
type Row struct {
	Number int               `json:"number"`
	Fields map[string]string `json:"fields"`
}

// CloneRows deep-copies rows.
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		fields := make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		out[i] = Row{Number: r.Number, Fields: fields}
	}
	return out
}
