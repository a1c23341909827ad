package store

import (
    "context"
    "errors"

    "github.com/google/uuid"

    "shiprates/internal/shipping"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// CartSession is the cached login state for a platform cart. It is written
// by the platform's login/email callbacks (outside this service's core) and
// only ever read by the quote path.
type CartSession struct {
    CartID                string
    Email                 string
    HasActiveSubscription bool
}

// RateRow is a rate joined with its shipping option's name, for listings.
type RateRow struct {
    shipping.Rate
    ShippingOptionName string
}

// RateFilter narrows RatesByCompany. Zero values mean "no filter";
// Limit <= 0 means no limit.
type RateFilter struct {
    ShippingOptionID uuid.UUID
    Country          string
    Limit            int
    Offset           int
}

// Store is the persistence surface shared by the quote and import engines.
// ActiveOptionsForCountry returns options with their rates preloaded.
// WithTx runs fn against a transactional view of the store; if fn returns
// an error every write made inside it is rolled back.
type Store interface {
    CompanyByID(ctx context.Context, id uuid.UUID) (shipping.Company, error)

    OptionsByCompany(ctx context.Context, companyID uuid.UUID) ([]shipping.ShippingOption, error)
    ActiveOptionsForCountry(ctx context.Context, companyID uuid.UUID, country string) ([]shipping.ShippingOption, error)
    CreateOption(ctx context.Context, opt *shipping.ShippingOption) error
    UpdateOption(ctx context.Context, opt *shipping.ShippingOption) error

    RatesForLocation(ctx context.Context, key shipping.LocationKey) ([]shipping.Rate, error)
    RatesByCompany(ctx context.Context, companyID uuid.UUID, filter RateFilter) ([]RateRow, int, error)
    DeleteRatesByLocations(ctx context.Context, keys []shipping.LocationKey) (int64, error)
    CreateRate(ctx context.Context, rate *shipping.Rate) error

    CartSession(ctx context.Context, cartID string) (CartSession, error)

    WithTx(ctx context.Context, fn func(Store) error) error
}
