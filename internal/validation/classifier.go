// Package validation classifies the row-level errors returned by the
// validation collaborator and decides which of them can be fixed
// automatically.
//
// The keyword rules are deliberately literal and case-sensitive so that the
// console and the service always agree on a classification.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
)

var (
	criticalKeywords  = []string{"Invalid", "required"}
	warningKeywords   = []string{"exceeds", "format"}
	autoFixKeywords   = []string{"format", "case"}
	identityKeywords  = []string{"id"}
	financialKeywords = []string{"amount", "quota"}
	temporalKeywords  = []string{"date"}
)

// Classification is the derived part of a validation error.
type Classification struct {
	Severity    domain.Severity
	AutoFixable bool
	Category    domain.Category
}

// Classify derives severity, auto-fixability and category from field and
// message. Severity rules are checked in order and the first match wins.
func Classify(field, message string) Classification {
	return Classification{
		Severity:    severityOf(message),
		AutoFixable: containsAny(message, autoFixKeywords),
		Category:    categoryOf(field),
	}
}

func severityOf(message string) domain.Severity {
	switch {
	case containsAny(message, criticalKeywords):
		return domain.SeverityCritical
	case containsAny(message, warningKeywords):
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}

func categoryOf(field string) domain.Category {
	switch {
	case containsAny(field, identityKeywords):
		return domain.CategoryIdentity
	case containsAny(field, financialKeywords):
		return domain.CategoryFinancial
	case containsAny(field, temporalKeywords):
		return domain.CategoryTemporal
	default:
		return domain.CategoryGeneral
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Build classifies a collaborator result. Output is ordered by row
// ascending; errors on the same row keep their input order. IDs are unique
// within the returned slice.
func Build(raw []domain.RawValidationError) []domain.ValidationError {
	out := make([]domain.ValidationError, 0, len(raw))
	for i, r := range raw {
		c := Classify(r.Field, r.Message)
		out = append(out, domain.ValidationError{
			ID:                 fmt.Sprintf("%d:%s:%d", r.Row, r.Field, i),
			RawValidationError: r,
			Severity:           c.Severity,
			AutoFixable:        c.AutoFixable,
			Category:           c.Category,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}
