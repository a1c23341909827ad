package shipping

import "github.com/shopspring/decimal"

// Overlaps reports whether the weight ranges [minA, maxA) and [minB, maxB)
// intersect. Ranges are treated as half-open so adjacent tiers
// (e.g. 0-10 and 10-20) do not conflict.
func Overlaps(minA, maxA, minB, maxB decimal.Decimal) bool {
    return minA.LessThan(maxB) && minB.LessThan(maxA)
}

// RatesOverlap applies Overlaps to two rate rows.
func RatesOverlap(a, b Rate) bool {
    return Overlaps(a.MinRangeLbs, a.MaxRangeLbs, b.MinRangeLbs, b.MaxRangeLbs)
}

// CoversZero reports whether the rate set contains its zero-based first
// tier. Every non-empty location key must have exactly one such tier.
func CoversZero(rates []Rate) bool {
    for i := range rates {
        if rates[i].MinRangeLbs.IsZero() {
            return true
        }
    }
    return false
}
