package shipping

import (
    "testing"

    "github.com/google/uuid"
)

func TestSortOptionsForCountry(t *testing.T) {
    a := ShippingOption{ID: uuid.New(), Name: "A", CountrySortPositions: map[string]int{"US": 2}}
    b := ShippingOption{ID: uuid.New(), Name: "B", CountrySortPositions: map[string]int{"US": 1}}
    c := ShippingOption{ID: uuid.New(), Name: "C"} // no position, sorts last
    opts := []ShippingOption{a, c, b}
    SortOptionsForCountry(opts, "US")
    got := []string{opts[0].Name, opts[1].Name, opts[2].Name}
    want := []string{"B", "A", "C"}
    for i := range want {
        if got[i] != want[i] {
            t.Fatalf("order = %v, want %v", got, want)
        }
    }
}

func TestSortOptionsForCountry_TiesBreakByID(t *testing.T) {
    x := ShippingOption{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Name: "X"}
    y := ShippingOption{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "Y"}
    opts := []ShippingOption{x, y}
    SortOptionsForCountry(opts, "US")
    if opts[0].Name != "Y" || opts[1].Name != "X" {
        t.Fatalf("unpositioned ties must order by id, got %s, %s", opts[0].Name, opts[1].Name)
    }
}

func TestNextSortPositions(t *testing.T) {
    existing := []ShippingOption{
        {CountrySortPositions: map[string]int{"US": 3, "CA": 1}},
        {CountrySortPositions: map[string]int{"US": 1}},
    }
    got := NextSortPositions(existing, map[string]int{"US": 3}, []string{"US", "CA", "MX"})
    if got["US"] != 3 {
        t.Fatalf("existing position must be preserved, got %d", got["US"])
    }
    if got["CA"] != 2 {
        t.Fatalf("CA should append after current max 1, got %d", got["CA"])
    }
    if got["MX"] != 1 {
        t.Fatalf("first option for MX should take position 1, got %d", got["MX"])
    }
}

func TestRateAmount(t *testing.T) {
    r := Rate{FlatRate: d("3"), MinCharge: d("7")}
    if !r.Amount().Equal(d("7")) {
        t.Fatalf("minimum charge should floor the price, got %s", r.Amount())
    }
    r = Rate{FlatRate: d("12.50"), MinCharge: d("5")}
    if !r.Amount().Equal(d("12.5")) {
        t.Fatalf("flat rate should win when above the minimum charge, got %s", r.Amount())
    }
}

func TestFormatDeliveryEstimate(t *testing.T) {
    cases := map[int]string{
        0: "Available same day",
        1: "1 day",
        2: "2 days",
        5: "5 days",
    }
    for days, want := range cases {
        if got := FormatDeliveryEstimate(days); got != want {
            t.Fatalf("FormatDeliveryEstimate(%d) = %q, want %q", days, got, want)
        }
    }
}

func TestServesCountry(t *testing.T) {
    opt := ShippingOption{Countries: []string{"US", "CA"}}
    if !opt.ServesCountry("CA") {
        t.Fatalf("expected CA to be served")
    }
    if opt.ServesCountry("MX") {
        t.Fatalf("did not expect MX to be served")
    }
}
