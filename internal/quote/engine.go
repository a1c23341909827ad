package quote

import (
    "context"
    "errors"
    "log"
    "strings"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "shiprates/internal/shipping"
    "shiprates/internal/store"
)

// DefaultShippingTitle is the sentinel option returned when no configured
// shipping option serves the destination.
const DefaultShippingTitle = "Coordinate with the shop"

// OptionSource yields the candidate shipping options for a destination
// country, normally the TTL cache in front of the store.
type OptionSource interface {
    ActiveOptionsForCountry(ctx context.Context, companyID uuid.UUID, country string) ([]shipping.ShippingOption, error)
}

// SessionReader looks up the cached login state for a cart. The quote path
// only ever reads subscription state; it is written elsewhere by the
// platform's login callbacks.
type SessionReader interface {
    CartSession(ctx context.Context, cartID string) (store.CartSession, error)
}

// Request carries everything the platform's cart sends for one quote.
type Request struct {
    Company       shipping.Company
    ShipToCountry string
    ShipToState   string
    Items         []shipping.CartItem
    CartID        string
    CartEmail     string
}

// Option is one priced shipping choice in a quote response.
type Option struct {
    ShippingTotal                decimal.Decimal
    ShippingTitle                string
    ShippingDeliveryTimeEstimate string
}

// Result is the quote outcome. Quote never returns a Go error: invalid
// input yields Success=false and an empty option list, and a destination
// with no configured options yields the synthetic default option.
type Result struct {
    Success         bool
    Error           string
    ShippingOptions []Option
}

type Engine struct {
    options  OptionSource
    sessions SessionReader
}

func New(options OptionSource, sessions SessionReader) *Engine {
    return &Engine{options: options, sessions: sessions}
}

func (e *Engine) Quote(ctx context.Context, req Request) Result {
    if req.Company.ID == uuid.Nil ||
        strings.TrimSpace(req.ShipToCountry) == "" ||
        strings.TrimSpace(req.ShipToState) == "" {
        return failure("Invalid parameters")
    }

    candidates, err := e.options.ActiveOptionsForCountry(ctx, req.Company.ID, req.ShipToCountry)
    if err != nil {
        log.Printf("[ShippingCalc] option lookup failed for company %s: %v", req.Company.ID, err)
        return failure("Unable to calculate shipping")
    }

    totalWeight := shipping.TotalWeightLbs(req.Items)
    log.Printf("[ShippingCalc] total weight for cart %s: %s lbs", req.CartID, totalWeight)

    subscribed := e.subscriberStatus(ctx, req)

    candidates = dedupeByID(candidates)
    shipping.SortOptionsForCountry(candidates, req.ShipToCountry)

    options := make([]Option, 0, len(candidates))
    for i := range candidates {
        opt := &candidates[i]
        if opt.FreeForSubscribers && !subscribed {
            log.Printf("[ShippingCalc] excluding subscriber-only option %q (not subscribed)", opt.Name)
            continue
        }
        total := priceFor(opt, req.ShipToCountry, req.ShipToState, totalWeight)
        if opt.FreeForSubscribers && subscribed {
            total = decimal.Zero
        }
        options = append(options, Option{
            ShippingTotal:                total,
            ShippingTitle:                opt.Name,
            ShippingDeliveryTimeEstimate: shipping.FormatDeliveryEstimate(opt.DeliveryTimeDays),
        })
    }

    if len(options) == 0 {
        options = append(options, Option{
            ShippingTotal:                decimal.Zero,
            ShippingTitle:                DefaultShippingTitle,
            ShippingDeliveryTimeEstimate: "0",
        })
    }
    return Result{Success: true, ShippingOptions: options}
}

// priceFor resolves the best matching rate for one option: a
// region-specific tier wins over a country-level tier, and if neither
// matches the weight the option's flat starting rate applies.
func priceFor(opt *shipping.ShippingOption, country, state string, weight decimal.Decimal) decimal.Decimal {
    if rate := resolveRate(opt, country, state, weight); rate != nil {
        return rate.Amount()
    }
    return opt.StartingRate
}

func resolveRate(opt *shipping.ShippingOption, country, state string, weight decimal.Decimal) *shipping.Rate {
    for i := range opt.Rates {
        r := &opt.Rates[i]
        if r.Country == country && r.Region != "" && r.Region == state && weightWithin(r, weight) {
            return r
        }
    }
    for i := range opt.Rates {
        r := &opt.Rates[i]
        if r.Country == country && r.CountryLevel() && weightWithin(r, weight) {
            return r
        }
    }
    return nil
}

func weightWithin(r *shipping.Rate, weight decimal.Decimal) bool {
    return weight.GreaterThanOrEqual(r.MinRangeLbs) && weight.LessThanOrEqual(r.MaxRangeLbs)
}

// subscriberStatus reports whether the cart belongs to a logged-in customer
// with an active subscription. It fails closed: any lookup error, missing
// session, or email mismatch means "no subscription". The cart email must
// match the cached login email so stale session state can never grant free
// shipping to a different customer.
func (e *Engine) subscriberStatus(ctx context.Context, req Request) bool {
    if req.CartID == "" || !req.Company.SubscriberShippingEnabled {
        return false
    }
    sess, err := e.sessions.CartSession(ctx, req.CartID)
    if err != nil {
        if !errors.Is(err, store.ErrNotFound) {
            log.Printf("[ShippingCalc] session lookup failed for cart %s: %v", req.CartID, err)
        }
        return false
    }
    if sess.Email == "" {
        return false
    }
    cartEmail := strings.TrimSpace(req.CartEmail)
    if cartEmail != "" && !strings.EqualFold(cartEmail, sess.Email) {
        log.Printf("[ShippingCalc] email mismatch for cart %s, ignoring cached subscription", req.CartID)
        return false
    }
    return sess.HasActiveSubscription
}

// dedupeByID copies the list, dropping duplicate option ids. The copy also
// keeps the sort below from mutating the cached slice shared across
// requests.
func dedupeByID(options []shipping.ShippingOption) []shipping.ShippingOption {
    seen := make(map[uuid.UUID]bool, len(options))
    out := make([]shipping.ShippingOption, 0, len(options))
    for _, opt := range options {
        if seen[opt.ID] {
            continue
        }
        seen[opt.ID] = true
        out = append(out, opt)
    }
    return out
}

func failure(msg string) Result {
    return Result{Success: false, Error: msg, ShippingOptions: []Option{}}
}
