package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// BuyAmount sizes a position: min(maximumDollarAmount, balance × allocationPercentage / 100).
// Non-positive inputs size to zero.
func BuyAmount(balance float64, sizing PositionSizing) float64 {
	if balance <= 0 || sizing.AllocationPercentage <= 0 || sizing.MaximumDollarAmount <= 0 {
		return 0
	}

	byAllocation := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(sizing.AllocationPercentage)).
		Div(hundred)
	maximum := decimal.NewFromFloat(sizing.MaximumDollarAmount)

	return decimal.Min(maximum, byAllocation).InexactFloat64()
}
