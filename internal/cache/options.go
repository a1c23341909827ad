package cache

import (
    "context"
    "log"
    "sync"
    "time"

    "github.com/google/uuid"

    "shiprates/internal/shipping"
)

// Source loads the active shipping options (rates preloaded) for a company
// and destination country.
type Source interface {
    ActiveOptionsForCountry(ctx context.Context, companyID uuid.UUID, country string) ([]shipping.ShippingOption, error)
}

type key struct {
    companyID uuid.UUID
    country   string
}

type entry struct {
    options   []shipping.ShippingOption
    expiresAt time.Time
}

// Options memoizes per-(company, country) candidate option lists for a
// bounded window. The key deliberately excludes region so one entry serves
// every region within a country; region-level filtering happens after the
// cache read.
type Options struct {
    src Source
    ttl time.Duration
    now func() time.Time

    mu      sync.Mutex
    entries map[key]entry
}

func New(src Source, ttl time.Duration) *Options {
    return &Options{
        src:     src,
        ttl:     ttl,
        now:     time.Now,
        entries: make(map[key]entry),
    }
}

// ActiveOptionsForCountry returns the cached option list when fresh,
// otherwise loads it from the source and caches the result.
func (c *Options) ActiveOptionsForCountry(ctx context.Context, companyID uuid.UUID, country string) ([]shipping.ShippingOption, error) {
    k := key{companyID: companyID, country: country}

    c.mu.Lock()
    e, ok := c.entries[k]
    c.mu.Unlock()
    if ok && c.now().Before(e.expiresAt) {
        return e.options, nil
    }

    log.Printf("[ShippingCalc] cache miss for %s:%s, querying database", companyID, country)
    options, err := c.src.ActiveOptionsForCountry(ctx, companyID, country)
    if err != nil {
        return nil, err
    }

    c.mu.Lock()
    c.entries[k] = entry{options: options, expiresAt: c.now().Add(c.ttl)}
    c.mu.Unlock()
    return options, nil
}

// Invalidate drops the cached entry for one (company, country) pair. Any
// shipping-option or bulk rate write that touches a country must call this
// for it.
func (c *Options) Invalidate(companyID uuid.UUID, country string) {
    c.mu.Lock()
    delete(c.entries, key{companyID: companyID, country: country})
    c.mu.Unlock()
}

// SetClock overrides the cache's time source. Tests use it to force expiry.
func (c *Options) SetClock(now func() time.Time) { c.now = now }
