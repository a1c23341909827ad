package shipping

import (
    "log"
    "strings"

    "github.com/shopspring/decimal"
)

// Pounds per source unit.
var (
    lbsPerKilogram = decimal.RequireFromString("2.20462")
    lbsPerGram     = decimal.RequireFromString("0.00220462")
    lbsPerOunce    = decimal.RequireFromString("0.0625")
)

// CartItem is one line item from the platform's cart callback. Weight and
// Quantity are pointers because the platform omits them for some products;
// such items are skipped during weight calculation.
type CartItem struct {
    ID        string
    VariantID string
    Quantity  *int
    Weight    *float64
    Unit      string
}

// TotalWeightLbs sums quantity × unit weight across items, normalized to
// pounds and rounded to 2 decimal places. Items missing weight or quantity
// contribute nothing; they are logged and skipped rather than failing the
// quote.
func TotalWeightLbs(items []CartItem) decimal.Decimal {
    total := decimal.Zero
    for _, item := range items {
        if item.Weight == nil {
            log.Printf("[ShippingCalc] item %s (variant %s): skipped, weight missing", item.ID, item.VariantID)
            continue
        }
        if item.Quantity == nil {
            log.Printf("[ShippingCalc] item %s (variant %s): skipped, quantity missing", item.ID, item.VariantID)
            continue
        }
        lbs := ToPounds(decimal.NewFromFloat(*item.Weight), item.Unit)
        total = total.Add(lbs.Mul(decimal.NewFromInt(int64(*item.Quantity))))
    }
    return total.Round(2)
}

// ToPounds converts a weight in the given unit to pounds. Unrecognized or
// empty units are treated as pounds already.
func ToPounds(w decimal.Decimal, unit string) decimal.Decimal {
    switch strings.ToLower(strings.TrimSpace(unit)) {
    case "kg", "kgs", "kilogram", "kilograms":
        return w.Mul(lbsPerKilogram)
    case "g", "gram", "grams":
        return w.Mul(lbsPerGram)
    case "oz", "ounce", "ounces":
        return w.Mul(lbsPerOunce)
    default:
        return w
    }
}
