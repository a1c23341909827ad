package server

import (
    "encoding/json"
    "strconv"
    "strings"

    "shiprates/internal/shipping"
)

// CartPayload is the subset of the platform's cart callback body the quote
// path needs.
type CartPayload struct {
    CompanyID     string
    CartID        string
    CartEmail     string
    ShipToCountry string
    ShipToState   string
    Items         []shipping.CartItem
}

// ParseCartPayload extracts quote fields from a cart callback body. The
// platform has shipped the same data under a few different key paths, so
// each field tolerates several candidates.
func ParseCartPayload(body []byte) (CartPayload, error) {
    var payload map[string]any
    if err := json.Unmarshal(body, &payload); err != nil {
        return CartPayload{}, err
    }
    p := CartPayload{
        CompanyID:     getScalar(payload, []string{"cart.company.id", "company_id"}),
        CartID:        getScalar(payload, []string{"cart.id", "cart_id"}),
        CartEmail:     getString(payload, []string{"cart.email", "email"}),
        ShipToCountry: getString(payload, []string{"cart.ship_to.country", "ship_to.country", "ship_to_country"}),
        ShipToState:   getString(payload, []string{"cart.ship_to.state", "ship_to.state", "ship_to_state"}),
    }

    items, _ := getAny(payload, []string{"cart.items", "items"}).([]any)
    for _, raw := range items {
        m, ok := raw.(map[string]any)
        if !ok {
            continue
        }
        item := shipping.CartItem{ID: getScalar(m, []string{"id"})}
        if q, ok := toFloat(m["quantity"]); ok {
            n := int(q)
            item.Quantity = &n
        }
        if variant, ok := getAny(m, []string{"variant"}).(map[string]any); ok {
            item.VariantID = getScalar(variant, []string{"id"})
            item.Unit = getString(variant, []string{"unit_of_weight", "weight_unit"})
            if wgt, ok := toFloat(variant["weight"]); ok {
                item.Weight = &wgt
            }
        }
        p.Items = append(p.Items, item)
    }
    return p, nil
}

// getString returns the first non-empty string from the candidate keys.
// Supports dot-path navigation for nested maps.
func getString(m map[string]any, keys []string) string {
    for _, k := range keys {
        if v := getPath(m, k); v != nil {
            if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
                return strings.TrimSpace(s)
            }
        }
    }
    return ""
}

// getScalar is getString plus tolerance for numeric ids, which some
// payloads send unquoted.
func getScalar(m map[string]any, keys []string) string {
    switch v := getAny(m, keys).(type) {
    case string:
        return strings.TrimSpace(v)
    case float64:
        return strconv.FormatFloat(v, 'f', -1, 64)
    case json.Number:
        return v.String()
    }
    return ""
}

// getAny returns the first non-nil value from the candidate keys.
func getAny(m map[string]any, keys []string) any {
    for _, k := range keys {
        if v := getPath(m, k); v != nil {
            return v
        }
    }
    return nil
}

// getPath navigates a dot-separated key into nested maps.
func getPath(m map[string]any, path string) any {
    parts := strings.Split(path, ".")
    var cur any = m
    for _, p := range parts {
        mm, ok := cur.(map[string]any)
        if !ok {
            return nil
        }
        v, ok := mm[p]
        if !ok {
            return nil
        }
        cur = v
    }
    return cur
}

func toFloat(v any) (float64, bool) {
    switch t := v.(type) {
    case float64:
        return t, true
    case float32:
        return float64(t), true
    case int:
        return float64(t), true
    case int64:
        return float64(t), true
    case json.Number:
        f, err := t.Float64()
        if err == nil {
            return f, true
        }
        return 0, false
    default:
        return 0, false
    }
}
