package utils

import (
	"github.com/shopspring/decimal"
)

// Cents rounds an amount to two decimal places, half away from zero.
// Negative amounts are clamped to zero; prices are never negative.
//
// Go Learning Note — "github.com/shopspring/decimal":
// float64 cannot represent most cent values exactly (0.1+0.2 != 0.3), so
// sums of rounded floats drift. decimal.Decimal stores an arbitrary
// precision integer plus an exponent, which keeps money arithmetic exact.
// Convert back to float64 only at the JSON boundary.
func Cents(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}

// Money converts a float64 configuration value into a decimal amount.
func Money(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// ToFloat converts a decimal amount back to float64 for JSON responses.
func ToFloat(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
