package footprint

import (
	"math"

	"github.com/shopspring/decimal"
)

// Bucket rounds price down to a multiple of width. Decimal arithmetic keeps the
// result an exact multiple, so buckets are stable map keys for fractional widths.
// Non-positive widths fall back to 1.
func Bucket(price, width float64) float64 {
	if width <= 0 {
		width = 1
	}
	w := decimal.NewFromFloat(width)
	b, _ := decimal.NewFromFloat(price).Div(w).Floor().Mul(w).Float64()
	return b
}

// Adjacent reports whether lower sits exactly one width below upper.
func Adjacent(upper, lower, width float64) bool {
	if width <= 0 {
		width = 1
	}
	return math.Abs((upper-lower)-width) <= width*1e-9
}
