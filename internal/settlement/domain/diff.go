package domain

import "github.com/shopspring/decimal"

// Epsilon under which two money amounts are considered equal. Settlement
// figures pass through float-based upstream systems; cent-level noise is
// not a real change.
var Epsilon = decimal.NewFromFloat(0.01)

// Change classifies a metric's movement between two revisions.
type Change string

const (
	ChangeIncreased Change = "increased"
	ChangeDecreased Change = "decreased"
	ChangeUnchanged Change = "unchanged"
)

// RevisionDiff compares one revision against its successor.
type RevisionDiff struct {
	Revision   int    `json:"revision"`
	Gross      Change `json:"gross"`
	Net        Change `json:"net"`
	Deductions Change `json:"deductions"`
}

// Classify compares two amounts within Epsilon.
func Classify(prev, curr decimal.Decimal) Change {
	diff := curr.Sub(prev)
	if diff.Abs().LessThanOrEqual(Epsilon) {
		return ChangeUnchanged
	}
	if diff.IsPositive() {
		return ChangeIncreased
	}
	return ChangeDecreased
}
