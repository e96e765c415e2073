package money

import "math"

// ToMinorUnits converts a major-unit decimal amount into the provider's integer
// minor-unit representation. The amount is rounded to two decimal places before
// scaling so that the same conversion applied to an outbound invoice amount and
// to an inbound comparison amount can never disagree through float drift.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(Round2(amount) * 100))
}

// Round2 rounds a decimal amount to the currency's implied two-decimal precision.
func Round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}
