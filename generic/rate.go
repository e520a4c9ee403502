package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// RATES - Percentages and averages on decimal.Decimal
// =============================================================================

// Hundred is 100.00, the rate of a population with nothing outstanding.
var Hundred = decimal.RequireFromString("100.00")

// RoundHalfUp rounds to the given number of places, halves away from zero.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// Percentage returns part*100/whole rounded half-up to 2 places, or zero when
// whole is not positive. There is no upper cap: 150.00 is a valid result.
func Percentage(part, whole int64) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return RoundHalfUp(decimal.NewFromInt(part*100).Div(decimal.NewFromInt(whole)), 2)
}

// Average returns the mean rounded half-up to `places`, and false when there
// is nothing to average.
func Average(values []decimal.Decimal, places int32) (decimal.Decimal, bool) {
	if len(values) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return RoundHalfUp(sum.Div(decimal.NewFromInt(int64(len(values)))), places), true
}

// RoundToInt rounds half-up to a whole number.
func RoundToInt(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
