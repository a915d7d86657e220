// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// CostScale is the number of fractional digits persisted for unit and average costs.
// Matches the NUMERIC(18,4) columns of batches and sale_allocations.
const CostScale int32 = 4

// NewMoneyFromInt creates a Money value from a whole number.
func NewMoneyFromInt(v int64) Money {
	return decimal.NewFromInt(v)
}

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// FitsCostScale reports whether m can be stored without losing digits.
func FitsCostScale(m Money) bool {
	return m.Equal(m.Round(CostScale))
}

// WeightedAverage returns total / quantity rounded half away from zero to CostScale.
// A non-positive quantity yields zero.
func WeightedAverage(total Money, quantity int64) Money {
	if quantity <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(quantity)).Round(CostScale)
}

// LineCost returns quantity × unitCost.
func LineCost(quantity int64, unitCost Money) Money {
	return unitCost.Mul(decimal.NewFromInt(quantity))
}
