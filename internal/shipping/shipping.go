package shipping

import (
    "fmt"
    "sort"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

// Shipping option statuses.
const (
    StatusActive   = "active"
    StatusInactive = "inactive"
    StatusDraft    = "draft"
)

// Storage bounds. Weights persist as decimal(8,4), prices as decimal(10,2).
var (
    MaxWeightLbs = decimal.RequireFromString("9999.9999")
    MinWeightLbs = MaxWeightLbs.Neg()
    MaxPrice     = decimal.RequireFromString("99999999.99")
    MinPrice     = MaxPrice.Neg()
)

// Company is a merchant on the host e-commerce platform.
// SubscriberShippingEnabled gates the subscriber free-shipping program:
// when false, subscription state is never consulted.
type Company struct {
    ID                        uuid.UUID
    Name                      string
    SubscriberShippingEnabled bool
}

// ShippingOption is a named shipping method offered by a company, scoped to
// a set of destination countries. CountrySortPositions holds the manually
// configured display order per country; countries without an entry sort
// after positioned ones.
type ShippingOption struct {
    ID                   uuid.UUID
    CompanyID            uuid.UUID
    Name                 string
    DeliveryTimeDays     int
    StartingRate         decimal.Decimal
    Status               string
    Countries            []string
    FreeForSubscribers   bool
    CountrySortPositions map[string]int
    Rates                []Rate
}

func (o *ShippingOption) Active() bool { return o.Status == StatusActive }

func (o *ShippingOption) ServesCountry(country string) bool {
    for _, c := range o.Countries {
        if c == country {
            return true
        }
    }
    return false
}

// Rate is one weight-tiered price entry for a shipping option at one
// (country, optional region) location. An empty Region means the rate
// applies to the whole country.
type Rate struct {
    ID               uuid.UUID
    ShippingOptionID uuid.UUID
    Country          string
    Region           string
    MinRangeLbs      decimal.Decimal
    MaxRangeLbs      decimal.Decimal
    FlatRate         decimal.Decimal
    MinCharge        decimal.Decimal
}

func (r *Rate) CountryLevel() bool { return r.Region == "" }

// Amount is the price for a matched tier: the flat rate, floored by the
// minimum charge.
func (r *Rate) Amount() decimal.Decimal {
    if r.MinCharge.GreaterThan(r.FlatRate) {
        return r.MinCharge
    }
    return r.FlatRate
}

func (r *Rate) Location() LocationKey {
    return LocationKey{ShippingOptionID: r.ShippingOptionID, Country: r.Country, Region: r.Region}
}

// LocationKey identifies the rate set a tier belongs to. The non-overlap
// and zero-based-first-tier invariants hold per key.
type LocationKey struct {
    ShippingOptionID uuid.UUID
    Country          string
    Region           string
}

// SortOptionsForCountry orders options in place by their manual sort
// position for the given country. Options without a position for that
// country sort last; ties break by option id so the order is stable across
// requests.
func SortOptionsForCountry(options []ShippingOption, country string) {
    sort.SliceStable(options, func(i, j int) bool {
        pi, iok := options[i].CountrySortPositions[country]
        pj, jok := options[j].CountrySortPositions[country]
        if iok && jok && pi != pj {
            return pi < pj
        }
        if iok != jok {
            return iok
        }
        return options[i].ID.String() < options[j].ID.String()
    })
}

// NextSortPositions extends current with positions for newly added
// countries: each new country is appended after the current max position
// held by any of the company's options for that country.
func NextSortPositions(all []ShippingOption, current map[string]int, countries []string) map[string]int {
    out := make(map[string]int, len(current)+len(countries))
    for k, v := range current {
        out[k] = v
    }
    for _, c := range countries {
        if _, ok := out[c]; ok {
            continue
        }
        max := 0
        for i := range all {
            if p, ok := all[i].CountrySortPositions[c]; ok && p > max {
                max = p
            }
        }
        out[c] = max + 1
    }
    return out
}

// FormatDeliveryEstimate renders a delivery time in days for display.
// Zero is reserved for same-day delivery.
func FormatDeliveryEstimate(days int) string {
    switch days {
    case 0:
        return "Available same day"
    case 1:
        return "1 day"
    default:
        return fmt.Sprintf("%d days", days)
    }
}
