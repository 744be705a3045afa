package validation

import "github.com/JustVic19/Payouts-sub000/internal/domain"

// FilterBySeverity returns the errors with the given severity in their
// original order. The input is not modified.
func FilterBySeverity(errs []domain.ValidationError, severity domain.Severity) []domain.ValidationError {
	out := make([]domain.ValidationError, 0, len(errs))
	for _, e := range errs {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}

// ApplyAutoFix returns errs without the auto-fixable errors whose IDs are in
// selectedIDs, plus the removed ones. Non-auto-fixable selections are kept.
// The input is not modified; callers re-run validation afterwards.
func ApplyAutoFix(errs []domain.ValidationError, selectedIDs []string) (remaining, fixed []domain.ValidationError) {
	selected := make(map[string]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = struct{}{}
	}

	remaining = make([]domain.ValidationError, 0, len(errs))
	for _, e := range errs {
		if _, ok := selected[e.ID]; ok && e.AutoFixable {
			fixed = append(fixed, e)
			continue
		}
		remaining = append(remaining, e)
	}
	return remaining, fixed
}

// Summary counts errors per severity.
type Summary struct {
	Critical    int `json:"critical"`
	Warning     int `json:"warning"`
	Info        int `json:"info"`
	AutoFixable int `json:"auto_fixable"`
}

// Summarize counts errs by severity.
func Summarize(errs []domain.ValidationError) Summary {
	var s Summary
	for _, e := range errs {
		switch e.Severity {
		case domain.SeverityCritical:
			s.Critical++
		case domain.SeverityWarning:
			s.Warning++
		default:
			s.Info++
		}
		if e.AutoFixable {
			s.AutoFixable++
		}
	}
	return s
}

// PatchRows applies the suggestion of each fixed error to a copy of rows.
// Errors without a suggestion or pointing at an unknown row are skipped.
func PatchRows(rows []domain.Row, fixed []domain.ValidationError) []domain.Row {
	patched := domain.CloneRows(rows)
	index := make(map[int]int, len(patched))
	for i, r := range patched {
		index[r.Number] = i
	}
	for _, e := range fixed {
		if e.Suggestion == "" {
			continue
		}
		i, ok := index[e.Row]
		if !ok {
			continue
		}
		patched[i].Fields[e.Field] = e.Suggestion
	}
	return patched
}
