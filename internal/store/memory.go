package store

import (
    "context"
    "sort"
    "strings"
    "sync"

    "github.com/google/uuid"

    "shiprates/internal/shipping"
)

// Memory is an in-process Store with snapshot-based transactions. It backs
// the engine tests and documents the reference semantics the Postgres store
// implements.
type Memory struct {
    mu        sync.Mutex
    companies map[uuid.UUID]shipping.Company
    options   map[uuid.UUID]shipping.ShippingOption
    rates     map[uuid.UUID]shipping.Rate
    sessions  map[string]CartSession
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
    return &Memory{
        companies: make(map[uuid.UUID]shipping.Company),
        options:   make(map[uuid.UUID]shipping.ShippingOption),
        rates:     make(map[uuid.UUID]shipping.Rate),
        sessions:  make(map[string]CartSession),
    }
}

// AddCompany seeds a company. Companies are managed by the installation
// lifecycle, not by this service's core, so there is no Store method.
func (m *Memory) AddCompany(c shipping.Company) {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.companies[c.ID] = c
}

// AddSession seeds a cart session, normally written by platform callbacks.
func (m *Memory) AddSession(sess CartSession) {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.sessions[sess.CartID] = sess
}

func (m *Memory) CompanyByID(_ context.Context, id uuid.UUID) (shipping.Company, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    c, ok := m.companies[id]
    if !ok {
        return shipping.Company{}, ErrNotFound
    }
    return c, nil
}

func (m *Memory) OptionsByCompany(_ context.Context, companyID uuid.UUID) ([]shipping.ShippingOption, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    var out []shipping.ShippingOption
    for _, opt := range m.options {
        if opt.CompanyID == companyID {
            out = append(out, cloneOption(opt))
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out, nil
}

func (m *Memory) ActiveOptionsForCountry(_ context.Context, companyID uuid.UUID, country string) ([]shipping.ShippingOption, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    var out []shipping.ShippingOption
    for _, opt := range m.options {
        if opt.CompanyID != companyID || !opt.Active() || !opt.ServesCountry(country) {
            continue
        }
        c := cloneOption(opt)
        c.Rates = m.ratesOfOption(opt.ID)
        out = append(out, c)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out, nil
}

func (m *Memory) ratesOfOption(optionID uuid.UUID) []shipping.Rate {
    var out []shipping.Rate
    for _, r := range m.rates {
        if r.ShippingOptionID == optionID {
            out = append(out, r)
        }
    }
    sort.Slice(out, func(i, j int) bool {
        a, b := out[i], out[j]
        if a.Country != b.Country {
            return a.Country < b.Country
        }
        if a.Region != b.Region {
            return a.Region < b.Region
        }
        return a.MinRangeLbs.LessThan(b.MinRangeLbs)
    })
    return out
}

func (m *Memory) CreateOption(_ context.Context, opt *shipping.ShippingOption) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if opt.ID == uuid.Nil {
        opt.ID = uuid.New()
    }
    m.options[opt.ID] = cloneOption(*opt)
    return nil
}

func (m *Memory) UpdateOption(_ context.Context, opt *shipping.ShippingOption) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.options[opt.ID]; !ok {
        return ErrNotFound
    }
    m.options[opt.ID] = cloneOption(*opt)
    return nil
}

func (m *Memory) RatesForLocation(_ context.Context, key shipping.LocationKey) ([]shipping.Rate, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    var out []shipping.Rate
    for _, r := range m.rates {
        if r.Location() == key {
            out = append(out, r)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].MinRangeLbs.LessThan(out[j].MinRangeLbs) })
    return out, nil
}

func (m *Memory) RatesByCompany(_ context.Context, companyID uuid.UUID, filter RateFilter) ([]RateRow, int, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    var out []RateRow
    for _, r := range m.rates {
        opt, ok := m.options[r.ShippingOptionID]
        if !ok || opt.CompanyID != companyID {
            continue
        }
        if filter.ShippingOptionID != uuid.Nil && r.ShippingOptionID != filter.ShippingOptionID {
            continue
        }
        if filter.Country != "" && r.Country != filter.Country {
            continue
        }
        out = append(out, RateRow{Rate: r, ShippingOptionName: opt.Name})
    }
    sort.Slice(out, func(i, j int) bool {
        a, b := out[i], out[j]
        if a.ShippingOptionName != b.ShippingOptionName {
            return a.ShippingOptionName < b.ShippingOptionName
        }
        if a.Country != b.Country {
            return a.Country < b.Country
        }
        if a.Region != b.Region {
            return a.Region < b.Region
        }
        return a.MinRangeLbs.LessThan(b.MinRangeLbs)
    })
    total := len(out)
    if filter.Offset > 0 {
        if filter.Offset >= len(out) {
            out = nil
        } else {
            out = out[filter.Offset:]
        }
    }
    if filter.Limit > 0 && len(out) > filter.Limit {
        out = out[:filter.Limit]
    }
    return out, total, nil
}

func (m *Memory) DeleteRatesByLocations(_ context.Context, keys []shipping.LocationKey) (int64, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    want := make(map[shipping.LocationKey]bool, len(keys))
    for _, k := range keys {
        want[k] = true
    }
    var deleted int64
    for id, r := range m.rates {
        if want[r.Location()] {
            delete(m.rates, id)
            deleted++
        }
    }
    return deleted, nil
}

func (m *Memory) CreateRate(_ context.Context, rate *shipping.Rate) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if rate.ID == uuid.Nil {
        rate.ID = uuid.New()
    }
    m.rates[rate.ID] = *rate
    return nil
}

func (m *Memory) CartSession(_ context.Context, cartID string) (CartSession, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    sess, ok := m.sessions[strings.TrimSpace(cartID)]
    if !ok {
        return CartSession{}, ErrNotFound
    }
    return sess, nil
}

// WithTx snapshots the store, runs fn against the snapshot, and swaps it in
// only if fn succeeds. Mirrors the all-or-nothing semantics of the
// Postgres transaction.
func (m *Memory) WithTx(_ context.Context, fn func(Store) error) error {
    m.mu.Lock()
    tx := &Memory{
        companies: cloneCompanies(m.companies),
        options:   cloneOptions(m.options),
        rates:     cloneRates(m.rates),
        sessions:  cloneSessions(m.sessions),
    }
    m.mu.Unlock()

    if err := fn(tx); err != nil {
        return err
    }

    m.mu.Lock()
    m.companies = tx.companies
    m.options = tx.options
    m.rates = tx.rates
    m.sessions = tx.sessions
    m.mu.Unlock()
    return nil
}

func cloneOption(opt shipping.ShippingOption) shipping.ShippingOption {
    c := opt
    c.Countries = append([]string(nil), opt.Countries...)
    if opt.CountrySortPositions != nil {
        c.CountrySortPositions = make(map[string]int, len(opt.CountrySortPositions))
        for k, v := range opt.CountrySortPositions {
            c.CountrySortPositions[k] = v
        }
    }
    c.Rates = append([]shipping.Rate(nil), opt.Rates...)
    return c
}

func cloneCompanies(in map[uuid.UUID]shipping.Company) map[uuid.UUID]shipping.Company {
    out := make(map[uuid.UUID]shipping.Company, len(in))
    for k, v := range in {
        out[k] = v
    }
    return out
}

func cloneOptions(in map[uuid.UUID]shipping.ShippingOption) map[uuid.UUID]shipping.ShippingOption {
    out := make(map[uuid.UUID]shipping.ShippingOption, len(in))
    for k, v := range in {
        out[k] = cloneOption(v)
    }
    return out
}

func cloneRates(in map[uuid.UUID]shipping.Rate) map[uuid.UUID]shipping.Rate {
    out := make(map[uuid.UUID]shipping.Rate, len(in))
    for k, v := range in {
        out[k] = v
    }
    return out
}

func cloneSessions(in map[string]CartSession) map[string]CartSession {
    out := make(map[string]CartSession, len(in))
    for k, v := range in {
        out[k] = v
    }
    return out
}
