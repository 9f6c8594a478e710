package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

const minorDigits = 2

const (
	// MaxAmount bounds every price, settings amount and subtotal the engine accepts. At
	// this size amount*10000 still fits in an int64, so basis-point math cannot overflow.
	MaxAmount Money = 900_000_000_000_000
	// MaxQuantity bounds the quantity of a single line.
	MaxQuantity = 100_000
	// MaxBps is 100% in basis points.
	MaxBps int64 = 10_000
)

var (
	maxMoney = decimal.NewFromInt(math.MaxInt64)
	minMoney = decimal.NewFromInt(math.MinInt64)
)

// FromMajor converts a major-unit decimal (e.g. 499.99) into minor units, rounding half
// away from zero. Values outside the int64 range saturate instead of wrapping, so range
// checks downstream still see them as too large.
func FromMajor(d decimal.Decimal) Money {
	minor := d.Shift(minorDigits).Round(0)
	switch {
	case minor.GreaterThan(maxMoney):
		return math.MaxInt64
	case minor.LessThan(minMoney):
		return math.MinInt64
	}
	return minor.IntPart()
}

// MulQuantity returns price*quantity for display totals, saturating at the largest Money.
func MulQuantity(price Money, quantity int) Money {
	if price <= 0 || quantity <= 0 {
		return 0
	}
	if price > math.MaxInt64/Money(quantity) {
		return math.MaxInt64
	}
	return price * Money(quantity)
}

// ToMajor converts minor units into a major-unit number suitable for JSON responses.
func ToMajor(m Money) float64 {
	return decimal.New(m, -minorDigits).InexactFloat64()
}

// FormatMajor renders minor units as a fixed two-decimal string.
func FormatMajor(m Money) string {
	return decimal.New(m, -minorDigits).StringFixed(minorDigits)
}

// PercentToBps converts a percentage such as 18 or 12.5 into basis points.
func PercentToBps(percent decimal.Decimal) int64 {
	return percent.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// ApplyBps returns amount*bps/10000 rounded half-up to the minor unit. Products too large
// for int64 are computed exactly in decimal and saturate at the largest Money.
func ApplyBps(amount Money, bps int64) Money {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	if amount <= (math.MaxInt64-5000)/bps {
		return (amount*bps + 5000) / 10000
	}
	return FromMajor(decimal.NewFromInt(amount).Mul(decimal.NewFromInt(bps)).Shift(-4 - minorDigits))
}

// BpsToPercent is the inverse of PercentToBps.
func BpsToPercent(bps int64) decimal.Decimal {
	return decimal.New(bps, -2)
}
