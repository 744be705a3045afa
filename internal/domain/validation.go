package domain

// Severity of a classified validation error.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityCritical || s == SeverityWarning || s == SeverityInfo
}

// Category groups validation errors by the kind of field involved.
type Category string

const (
	CategoryIdentity  Category = "Identity"
	CategoryFinancial Category = "Financial"
	CategoryTemporal  Category = "Temporal"
	CategoryGeneral   Category = "General"
)

// RawValidationError is what the validation collaborator returns.
type RawValidationError struct {
	Row        int    `json:"row"`
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationError is a raw error plus its derived classification.
// ID is unique within one validation run.
type ValidationError struct {
	ID string `json:"id"`
	RawValidationError
	Severity    Severity `json:"severity"`
	AutoFixable bool     `json:"auto_fixable"`
	Category    Category `json:"category"`
}
