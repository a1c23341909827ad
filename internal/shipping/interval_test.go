package shipping

import (
    "testing"

    "github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOverlaps(t *testing.T) {
    cases := []struct {
        name                   string
        minA, maxA, minB, maxB string
        want                   bool
    }{
        {"identical", "0", "10", "0", "10", true},
        {"contained", "0", "10", "2", "5", true},
        {"partial", "0", "10", "5", "15", true},
        {"adjacent ranges do not overlap", "0", "10", "10", "20", false},
        {"disjoint", "0", "10", "20", "30", false},
        {"fractional boundary", "0", "9.9999", "9.9999", "20", false},
        {"fractional crossing", "0", "10.0001", "10", "20", true},
    }
    for _, tc := range cases {
        got := Overlaps(d(tc.minA), d(tc.maxA), d(tc.minB), d(tc.maxB))
        if got != tc.want {
            t.Fatalf("%s: Overlaps(%s,%s,%s,%s) = %v, want %v",
                tc.name, tc.minA, tc.maxA, tc.minB, tc.maxB, got, tc.want)
        }
        // overlap is symmetric
        if rev := Overlaps(d(tc.minB), d(tc.maxB), d(tc.minA), d(tc.maxA)); rev != got {
            t.Fatalf("%s: overlap not symmetric", tc.name)
        }
    }
}

func TestRatesOverlap(t *testing.T) {
    a := Rate{MinRangeLbs: d("0"), MaxRangeLbs: d("10")}
    b := Rate{MinRangeLbs: d("9.5"), MaxRangeLbs: d("12")}
    c := Rate{MinRangeLbs: d("10"), MaxRangeLbs: d("12")}
    if !RatesOverlap(a, b) {
        t.Fatalf("expected 0-10 and 9.5-12 to overlap")
    }
    if RatesOverlap(a, c) {
        t.Fatalf("expected 0-10 and 10-12 not to overlap")
    }
}

func TestCoversZero(t *testing.T) {
    if CoversZero(nil) {
        t.Fatalf("empty set should not cover zero")
    }
    set := []Rate{
        {MinRangeLbs: d("5"), MaxRangeLbs: d("10")},
        {MinRangeLbs: d("10"), MaxRangeLbs: d("20")},
    }
    if CoversZero(set) {
        t.Fatalf("set without a zero-based tier should not cover zero")
    }
    set = append(set, Rate{MinRangeLbs: d("0"), MaxRangeLbs: d("5")})
    if !CoversZero(set) {
        t.Fatalf("set with a zero-based tier should cover zero")
    }
}
