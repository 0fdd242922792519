// Package money does 2-decimal currency arithmetic on float64 amounts through
// shopspring/decimal, so sums of prices never drift by binary fractions.
package money

import "github.com/shopspring/decimal"

// Places is the number of decimals kept for every amount.
const Places = 2

func D(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// Float rounds d half away from zero to Places and converts it back.
func Float(d decimal.Decimal) float64 {
	return d.Round(Places).InexactFloat64()
}

func Round(v float64) float64 {
	return Float(D(v))
}

// Sum adds amounts.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(D(v))
	}
	return Float(total)
}

func Sub(a, b float64) float64 {
	return Float(D(a).Sub(D(b)))
}

// Mul multiplies a unit price by a quantity.
func Mul(price float64, qty int) float64 {
	return Float(D(price).Mul(decimal.NewFromInt(int64(qty))))
}

// Cmp compares a and b after rounding both: -1, 0 or +1.
func Cmp(a, b float64) int {
	return D(a).Round(Places).Cmp(D(b).Round(Places))
}

func Min(a, b float64) float64 {
	if Cmp(a, b) <= 0 {
		return Round(a)
	}
	return Round(b)
}

// NonNegative returns v, or 0 when v is negative.
func NonNegative(v float64) float64 {
	if Cmp(v, 0) < 0 {
		return 0
	}
	return Round(v)
}

// Positive reports whether v rounds to more than zero.
func Positive(v float64) bool {
	return Cmp(v, 0) > 0
}
