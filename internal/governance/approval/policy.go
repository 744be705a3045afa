package approval

import "github.com/shopspring/decimal"

// Policy flags uploads that need sign-off before execution. A zero limit
// disables that check.
type Policy struct {
	MaxRecords        int
	MaxMonetaryImpact decimal.Decimal
}

// NewPolicy creates a Policy.
func NewPolicy(maxRecords int, maxMonetaryImpact decimal.Decimal) Policy {
	return Policy{MaxRecords: maxRecords, MaxMonetaryImpact: maxMonetaryImpact}
}

// RequiresApproval reports whether records or monetaryImpact strictly exceed
// the configured limits.
func (p Policy) RequiresApproval(records int, monetaryImpact decimal.Decimal) bool {
	if p.MaxRecords > 0 && records > p.MaxRecords {
		return true
	}
	if p.MaxMonetaryImpact.IsPositive() && monetaryImpact.Abs().GreaterThan(p.MaxMonetaryImpact) {
		return true
	}
	return false
}
