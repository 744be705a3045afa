package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		want    Classification
	}{
		{
			// "Invalid" wins over "format" for severity; "format" still marks it fixable.
			name:    "invalid employee id format",
			field:   "employee_id",
			message: "Invalid employee ID format",
			want:    Classification{domain.SeverityCritical, true, domain.CategoryIdentity},
		},
		{
			name:    "required amount",
			field:   "amount",
			message: "Payout amount is required",
			want:    Classification{domain.SeverityCritical, false, domain.CategoryFinancial},
		},
		{
			name:    "quota exceeds",
			field:   "quota",
			message: "Quota exceeds regional cap",
			want:    Classification{domain.SeverityWarning, false, domain.CategoryFinancial},
		},
		{
			name:    "date format",
			field:   "effective_date",
			message: "Date format should be YYYY-MM-DD",
			want:    Classification{domain.SeverityWarning, true, domain.CategoryTemporal},
		},
		{
			name:    "upper case only",
			field:   "region",
			message: "Region code should be upper case",
			want:    Classification{domain.SeverityInfo, true, domain.CategoryGeneral},
		},
		{
			name:    "plain info",
			field:   "notes",
			message: "Notes will be truncated",
			want:    Classification{domain.SeverityInfo, false, domain.CategoryGeneral},
		},
		{
			// Keyword matching is case-sensitive.
			name:    "lower case invalid is not critical",
			field:   "plan",
			message: "invalid looking plan",
			want:    Classification{domain.SeverityInfo, false, domain.CategoryGeneral},
		},
		{
			// "id" is checked before "amount".
			name:    "identity precedence",
			field:   "paid_amount",
			message: "Paid amount required",
			want:    Classification{domain.SeverityCritical, false, domain.CategoryIdentity},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.field, tt.message)
			require.Equal(t, tt.want, got)
			// idempotent
			require.Equal(t, got, Classify(tt.field, tt.message))
		})
	}
}

func TestBuild_OrdersByRowAndAssignsUniqueIDs(t *testing.T) {
	raw := []domain.RawValidationError{
		{Row: 3, Field: "amount", Message: "Invalid amount format"},
		{Row: 1, Field: "employee_id", Message: "Employee ID is required"},
		{Row: 3, Field: "amount", Message: "Amount exceeds limit"},
		{Row: 2, Field: "effective_date", Message: "Date format should be YYYY-MM-DD", Suggestion: "2026-03-01"},
	}

	got := Build(raw)
	require.Len(t, got, 4)
	require.Equal(t, []int{1, 2, 3, 3}, []int{got[0].Row, got[1].Row, got[2].Row, got[3].Row})
	require.Equal(t, "Invalid amount format", got[2].Message)
	require.Equal(t, "Amount exceeds limit", got[3].Message)
	require.Equal(t, "2026-03-01", got[1].Suggestion)

	seen := map[string]bool{}
	for _, e := range got {
		require.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
}

func TestFilterBySeverity_StableAndPure(t *testing.T) {
	errs := Build([]domain.RawValidationError{
		{Row: 1, Field: "employee_id", Message: "Invalid employee ID format"},
		{Row: 2, Field: "amount", Message: "Amount exceeds limit"},
		{Row: 3, Field: "region", Message: "Region name required"},
		{Row: 4, Field: "notes", Message: "Trailing whitespace"},
	})
	before := append([]domain.ValidationError(nil), errs...)

	critical := FilterBySeverity(errs, domain.SeverityCritical)
	require.Len(t, critical, 2)
	require.Equal(t, 1, critical[0].Row)
	require.Equal(t, 3, critical[1].Row)

	require.Len(t, FilterBySeverity(errs, domain.SeverityWarning), 1)
	require.Len(t, FilterBySeverity(errs, domain.SeverityInfo), 1)
	require.Equal(t, before, errs)
}

func TestApplyAutoFix(t *testing.T) {
	errs := Build([]domain.RawValidationError{
		{Row: 1, Field: "employee_id", Message: "Invalid employee ID format"},
		{Row: 2, Field: "amount", Message: "Amount is required"},
		{Row: 3, Field: "effective_date", Message: "Date format should be YYYY-MM-DD"},
		{Row: 4, Field: "region", Message: "Region should be upper case"},
	})
	before := append([]domain.ValidationError(nil), errs...)

	tests := []struct {
		name      string
		selected  []string
		wantFixed int
	}{
		{"nothing selected", nil, 0},
		{"non fixable selected only", []string{errs[1].ID}, 0},
		{"mixed selection", []string{errs[0].ID, errs[1].ID, errs[3].ID}, 2},
		{"all selected", []string{errs[0].ID, errs[1].ID, errs[2].ID, errs[3].ID}, 3},
		{"unknown ids ignored", []string{"nope"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remaining, fixed := ApplyAutoFix(errs, tt.selected)
			require.Len(t, fixed, tt.wantFixed)
			require.Len(t, remaining, len(errs)-tt.wantFixed)
			for _, f := range fixed {
				require.True(t, f.AutoFixable)
			}
			// the non-fixable error always survives
			var kept bool
			for _, r := range remaining {
				if r.ID == errs[1].ID {
					kept = true
				}
			}
			require.True(t, kept)
			require.Equal(t, before, errs)
		})
	}
}

func TestSummarize(t *testing.T) {
	errs := Build([]domain.RawValidationError{
		{Row: 1, Field: "employee_id", Message: "Invalid employee ID format"},
		{Row: 2, Field: "amount", Message: "Amount exceeds limit"},
		{Row: 3, Field: "notes", Message: "Notes should be lower case"},
	})
	require.Equal(t, Summary{Critical: 1, Warning: 1, Info: 1, AutoFixable: 2}, Summarize(errs))
}

func TestPatchRows(t *testing.T) {
	rows := []domain.Row{
		{Number: 1, Fields: map[string]string{"effective_date": "03/01/2026"}},
		{Number: 2, Fields: map[string]string{"region": "emea"}},
	}
	fixed := []domain.ValidationError{
		{RawValidationError: domain.RawValidationError{Row: 1, Field: "effective_date", Suggestion: "2026-03-01"}},
		{RawValidationError: domain.RawValidationError{Row: 2, Field: "region"}},
		{RawValidationError: domain.RawValidationError{Row: 9, Field: "region", Suggestion: "EMEA"}},
	}

	patched := PatchRows(rows, fixed)
	require.Equal(t, "2026-03-01", patched[0].Fields["effective_date"])
	require.Equal(t, "emea", patched[1].Fields["region"])
	require.Equal(t, "03/01/2026", rows[0].Fields["effective_date"])
}
