package local

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
)

// Columns checked by RuleValidator.
const (
	EmployeeIDColumn    = "employee_id"
	EffectiveDateColumn = "effective_date"
	TierColumn          = "tier"
)

const isoDate = "2006-01-02"

var (
	employeeIDPattern = regexp.MustCompile(`^[A-Z]{2,4}-\d{3,8}$`)
	currencyNoise     = strings.NewReplacer("$", "", ",", "", "€", "", "£", "", " ", "")
	altDateLayouts    = []string{"01/02/2006", "2006/01/02", "02.01.2006", "Jan 2 2006", "2 Jan 2006"}
)

// RuleValidator checks rows against the payout file conventions. Columns
// that are absent from a row are not checked, except employee_id.
type RuleValidator struct {
	// SinglePayoutLimit flags larger amounts. Zero disables the check.
	SinglePayoutLimit decimal.Decimal
	// Tiers lists canonical tier names. Empty disables the check.
	Tiers []string
}

// NewRuleValidator creates a RuleValidator.
func NewRuleValidator(singlePayoutLimit decimal.Decimal, tiers []string) *RuleValidator {
	return &RuleValidator{SinglePayoutLimit: singlePayoutLimit, Tiers: tiers}
}

func (v *RuleValidator) Validate(ctx context.Context, rows []domain.Row) ([]domain.RawValidationError, error) {
	var out []domain.RawValidationError
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, v.checkEmployeeID(row)...)
		out = append(out, v.checkAmount(row)...)
		out = append(out, v.checkDate(row)...)
		out = append(out, v.checkTier(row)...)
	}
	return out, nil
}

func (v *RuleValidator) checkEmployeeID(row domain.Row) []domain.RawValidationError {
	id := row.Fields[EmployeeIDColumn]
	if id == "" {
		return []domain.RawValidationError{{Row: row.Number, Field: EmployeeIDColumn, Message: "Employee ID is required"}}
	}
	if employeeIDPattern.MatchString(id) {
		return nil
	}
	e := domain.RawValidationError{Row: row.Number, Field: EmployeeIDColumn, Message: "Invalid employee ID format"}
	if fixed := strings.ToUpper(strings.TrimSpace(id)); employeeIDPattern.MatchString(fixed) {
		e.Suggestion = fixed
	}
	return []domain.RawValidationError{e}
}

func (v *RuleValidator) checkAmount(row domain.Row) []domain.RawValidationError {
	raw, ok := row.Fields[AmountColumn]
	if !ok || raw == "" {
		return nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		e := domain.RawValidationError{Row: row.Number, Field: AmountColumn, Message: "Invalid amount format"}
		if cleaned, err := decimal.NewFromString(currencyNoise.Replace(raw)); err == nil {
			e.Suggestion = cleaned.String()
		}
		return []domain.RawValidationError{e}
	}
	if v.SinglePayoutLimit.IsPositive() && amount.GreaterThan(v.SinglePayoutLimit) {
		return []domain.RawValidationError{{
			Row:     row.Number,
			Field:   AmountColumn,
			Message: "Amount exceeds single-payout limit of " + v.SinglePayoutLimit.String(),
		}}
	}
	return nil
}

func (v *RuleValidator) checkDate(row domain.Row) []domain.RawValidationError {
	raw, ok := row.Fields[EffectiveDateColumn]
	if !ok || raw == "" {
		return nil
	}
	if _, err := time.Parse(isoDate, raw); err == nil {
		return nil
	}
	e := domain.RawValidationError{Row: row.Number, Field: EffectiveDateColumn, Message: "Date format should be YYYY-MM-DD"}
	for _, layout := range altDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			e.Suggestion = t.Format(isoDate)
			break
		}
	}
	return []domain.RawValidationError{e}
}

func (v *RuleValidator) checkTier(row domain.Row) []domain.RawValidationError {
	raw, ok := row.Fields[TierColumn]
	if !ok || raw == "" || len(v.Tiers) == 0 {
		return nil
	}
	for _, tier := range v.Tiers {
		if raw == tier {
			return nil
		}
	}
	for _, tier := range v.Tiers {
		if strings.EqualFold(raw, tier) {
			return []domain.RawValidationError{{
				Row:        row.Number,
				Field:      TierColumn,
				Message:    "Tier name case does not match " + tier,
				Suggestion: tier,
			}}
		}
	}
	return []domain.RawValidationError{{Row: row.Number, Field: TierColumn, Message: "Unknown tier " + raw}}
}
