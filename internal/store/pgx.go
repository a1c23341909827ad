package store

import (
    "context"
    "encoding/json"
    "errors"
    "time"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgconn"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/shopspring/decimal"

    "shiprates/internal/shipping"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the store needs, so the
// same methods serve both pooled and transactional access.
type querier interface {
    Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
    Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
    QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pgx is the Postgres-backed Store.
type Pgx struct {
    db   querier
    pool *pgxpool.Pool
}

func NewPgx(pool *pgxpool.Pool) *Pgx {
    return &Pgx{db: pool, pool: pool}
}

// WithTx runs fn inside one transaction. Called on an already
// transactional store it just runs fn in the same transaction.
func (s *Pgx) WithTx(ctx context.Context, fn func(Store) error) error {
    if s.pool == nil {
        return fn(s)
    }
    tx, err := s.pool.Begin(ctx)
    if err != nil {
        return err
    }
    defer func() { _ = tx.Rollback(ctx) }()
    if err := fn(&Pgx{db: tx}); err != nil {
        return err
    }
    return tx.Commit(ctx)
}

func (s *Pgx) CompanyByID(ctx context.Context, id uuid.UUID) (shipping.Company, error) {
    var c shipping.Company
    err := s.db.QueryRow(ctx, `
        SELECT id, name, subscriber_shipping_enabled
        FROM companies
        WHERE id = $1
    `, id).Scan(&c.ID, &c.Name, &c.SubscriberShippingEnabled)
    if errors.Is(err, pgx.ErrNoRows) {
        return shipping.Company{}, ErrNotFound
    }
    return c, err
}

const optionColumns = `
    id, company_id, name, delivery_time, starting_rate::text, status,
    countries, free_for_subscribers, country_sort_positions
`

func scanOption(row pgx.Row) (shipping.ShippingOption, error) {
    var (
        opt          shipping.ShippingOption
        startingRate string
        countries    []byte
        positions    []byte
    )
    err := row.Scan(&opt.ID, &opt.CompanyID, &opt.Name, &opt.DeliveryTimeDays,
        &startingRate, &opt.Status, &countries, &opt.FreeForSubscribers, &positions)
    if err != nil {
        return opt, err
    }
    if opt.StartingRate, err = decimal.NewFromString(startingRate); err != nil {
        return opt, err
    }
    if countries != nil {
        if err := json.Unmarshal(countries, &opt.Countries); err != nil {
            return opt, err
        }
    }
    if positions != nil {
        if err := json.Unmarshal(positions, &opt.CountrySortPositions); err != nil {
            return opt, err
        }
    }
    return opt, nil
}

func (s *Pgx) OptionsByCompany(ctx context.Context, companyID uuid.UUID) ([]shipping.ShippingOption, error) {
    rows, err := s.db.Query(ctx, `
        SELECT `+optionColumns+`
        FROM shipping_options
        WHERE company_id = $1
        ORDER BY name
    `, companyID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var opts []shipping.ShippingOption
    for rows.Next() {
        opt, err := scanOption(rows)
        if err != nil {
            return nil, err
        }
        opts = append(opts, opt)
    }
    return opts, rows.Err()
}

func (s *Pgx) ActiveOptionsForCountry(ctx context.Context, companyID uuid.UUID, country string) ([]shipping.ShippingOption, error) {
    rows, err := s.db.Query(ctx, `
        SELECT `+optionColumns+`
        FROM shipping_options
        WHERE company_id = $1
          AND status = 'active'
          AND countries @> to_jsonb($2::text)
    `, companyID, country)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var opts []shipping.ShippingOption
    ids := make([]uuid.UUID, 0, 4)
    for rows.Next() {
        opt, err := scanOption(rows)
        if err != nil {
            return nil, err
        }
        opts = append(opts, opt)
        ids = append(ids, opt.ID)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    if len(opts) == 0 {
        return opts, nil
    }
    byOption, err := s.ratesByOption(ctx, ids)
    if err != nil {
        return nil, err
    }
    for i := range opts {
        opts[i].Rates = byOption[opts[i].ID]
    }
    return opts, nil
}

// ratesByOption preloads rates for a set of options, ordered so the
// resolver scans tiers min-ascending.
func (s *Pgx) ratesByOption(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]shipping.Rate, error) {
    rows, err := s.db.Query(ctx, `
        SELECT `+rateColumns+`
        FROM rates
        WHERE shipping_option_id = ANY($1)
        ORDER BY country, region NULLS FIRST, min_range_lbs
    `, ids)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make(map[uuid.UUID][]shipping.Rate)
    for rows.Next() {
        rate, err := scanRate(rows)
        if err != nil {
            return nil, err
        }
        out[rate.ShippingOptionID] = append(out[rate.ShippingOptionID], rate)
    }
    return out, rows.Err()
}

func (s *Pgx) CreateOption(ctx context.Context, opt *shipping.ShippingOption) error {
    if opt.ID == uuid.Nil {
        opt.ID = uuid.New()
    }
    countries, err := json.Marshal(opt.Countries)
    if err != nil {
        return err
    }
    positions, err := json.Marshal(opt.CountrySortPositions)
    if err != nil {
        return err
    }
    now := time.Now().UTC()
    _, err = s.db.Exec(ctx, `
        INSERT INTO shipping_options (
            id, company_id, name, delivery_time, starting_rate, status,
            countries, free_for_subscribers, country_sort_positions,
            created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9::jsonb, $10, $10)
    `, opt.ID, opt.CompanyID, opt.Name, opt.DeliveryTimeDays, opt.StartingRate.String(),
        opt.Status, countries, opt.FreeForSubscribers, positions, now)
    return err
}

func (s *Pgx) UpdateOption(ctx context.Context, opt *shipping.ShippingOption) error {
    countries, err := json.Marshal(opt.Countries)
    if err != nil {
        return err
    }
    positions, err := json.Marshal(opt.CountrySortPositions)
    if err != nil {
        return err
    }
    tag, err := s.db.Exec(ctx, `
        UPDATE shipping_options
        SET name = $2, delivery_time = $3, starting_rate = $4, status = $5,
            countries = $6::jsonb, free_for_subscribers = $7,
            country_sort_positions = $8::jsonb, updated_at = $9
        WHERE id = $1
    `, opt.ID, opt.Name, opt.DeliveryTimeDays, opt.StartingRate.String(), opt.Status,
        countries, opt.FreeForSubscribers, positions, time.Now().UTC())
    if err != nil {
        return err
    }
    if tag.RowsAffected() == 0 {
        return ErrNotFound
    }
    return nil
}

const rateColumns = `
    id, shipping_option_id, country, COALESCE(region, ''),
    min_range_lbs::text, max_range_lbs::text, flat_rate::text, min_charge::text
`

func scanRate(row pgx.Row) (shipping.Rate, error) {
    var (
        r                      shipping.Rate
        minW, maxW, flat, minC string
    )
    err := row.Scan(&r.ID, &r.ShippingOptionID, &r.Country, &r.Region,
        &minW, &maxW, &flat, &minC)
    if err != nil {
        return r, err
    }
    if r.MinRangeLbs, err = decimal.NewFromString(minW); err != nil {
        return r, err
    }
    if r.MaxRangeLbs, err = decimal.NewFromString(maxW); err != nil {
        return r, err
    }
    if r.FlatRate, err = decimal.NewFromString(flat); err != nil {
        return r, err
    }
    if r.MinCharge, err = decimal.NewFromString(minC); err != nil {
        return r, err
    }
    return r, nil
}

func (s *Pgx) RatesForLocation(ctx context.Context, key shipping.LocationKey) ([]shipping.Rate, error) {
    rows, err := s.db.Query(ctx, `
        SELECT `+rateColumns+`
        FROM rates
        WHERE shipping_option_id = $1
          AND country = $2
          AND region IS NOT DISTINCT FROM NULLIF($3, '')
        ORDER BY min_range_lbs
    `, key.ShippingOptionID, key.Country, key.Region)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []shipping.Rate
    for rows.Next() {
        r, err := scanRate(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, r)
    }
    return out, rows.Err()
}

func (s *Pgx) RatesByCompany(ctx context.Context, companyID uuid.UUID, filter RateFilter) ([]RateRow, int, error) {
    where := `
        FROM rates r
        JOIN shipping_options o ON o.id = r.shipping_option_id
        WHERE o.company_id = $1
          AND ($2::uuid IS NULL OR r.shipping_option_id = $2)
          AND ($3 = '' OR r.country = $3)
    `
    var optionID *uuid.UUID
    if filter.ShippingOptionID != uuid.Nil {
        optionID = &filter.ShippingOptionID
    }

    var total int
    if err := s.db.QueryRow(ctx, `SELECT count(*) `+where, companyID, optionID, filter.Country).Scan(&total); err != nil {
        return nil, 0, err
    }

    limit := filter.Limit
    if limit <= 0 {
        limit = total
    }
    rows, err := s.db.Query(ctx, `
        SELECT r.id, r.shipping_option_id, r.country, COALESCE(r.region, ''),
               r.min_range_lbs::text, r.max_range_lbs::text, r.flat_rate::text, r.min_charge::text,
               o.name
        `+where+`
        ORDER BY r.shipping_option_id, r.country, r.region NULLS FIRST, r.min_range_lbs
        LIMIT $4 OFFSET $5
    `, companyID, optionID, filter.Country, limit, filter.Offset)
    if err != nil {
        return nil, 0, err
    }
    defer rows.Close()
    var out []RateRow
    for rows.Next() {
        var (
            rr                     RateRow
            minW, maxW, flat, minC string
        )
        err := rows.Scan(&rr.ID, &rr.ShippingOptionID, &rr.Country, &rr.Region,
            &minW, &maxW, &flat, &minC, &rr.ShippingOptionName)
        if err != nil {
            return nil, 0, err
        }
        if rr.MinRangeLbs, err = decimal.NewFromString(minW); err != nil {
            return nil, 0, err
        }
        if rr.MaxRangeLbs, err = decimal.NewFromString(maxW); err != nil {
            return nil, 0, err
        }
        if rr.FlatRate, err = decimal.NewFromString(flat); err != nil {
            return nil, 0, err
        }
        if rr.MinCharge, err = decimal.NewFromString(minC); err != nil {
            return nil, 0, err
        }
        out = append(out, rr)
    }
    return out, total, rows.Err()
}

// DeleteRatesByLocations removes every stored rate under the given location
// keys in one statement and reports how many rows were deleted.
func (s *Pgx) DeleteRatesByLocations(ctx context.Context, keys []shipping.LocationKey) (int64, error) {
    if len(keys) == 0 {
        return 0, nil
    }
    ids := make([]uuid.UUID, len(keys))
    countries := make([]string, len(keys))
    regions := make([]string, len(keys))
    for i, k := range keys {
        ids[i] = k.ShippingOptionID
        countries[i] = k.Country
        regions[i] = k.Region
    }
    tag, err := s.db.Exec(ctx, `
        DELETE FROM rates r
        USING (
            SELECT unnest($1::uuid[]) AS shipping_option_id,
                   unnest($2::text[]) AS country,
                   unnest($3::text[]) AS region
        ) k
        WHERE r.shipping_option_id = k.shipping_option_id
          AND r.country = k.country
          AND r.region IS NOT DISTINCT FROM NULLIF(k.region, '')
    `, ids, countries, regions)
    if err != nil {
        return 0, err
    }
    return tag.RowsAffected(), nil
}

func (s *Pgx) CreateRate(ctx context.Context, rate *shipping.Rate) error {
    if rate.ID == uuid.Nil {
        rate.ID = uuid.New()
    }
    now := time.Now().UTC()
    _, err := s.db.Exec(ctx, `
        INSERT INTO rates (
            id, shipping_option_id, country, region,
            min_range_lbs, max_range_lbs, flat_rate, min_charge,
            created_at, updated_at
        ) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $9)
    `, rate.ID, rate.ShippingOptionID, rate.Country, rate.Region,
        rate.MinRangeLbs.String(), rate.MaxRangeLbs.String(),
        rate.FlatRate.String(), rate.MinCharge.String(), now)
    return err
}

func (s *Pgx) CartSession(ctx context.Context, cartID string) (CartSession, error) {
    var sess CartSession
    err := s.db.QueryRow(ctx, `
        SELECT cart_id, COALESCE(email, ''), has_active_subscription
        FROM cart_sessions
        WHERE cart_id = $1
    `, cartID).Scan(&sess.CartID, &sess.Email, &sess.HasActiveSubscription)
    if errors.Is(err, pgx.ErrNoRows) {
        return CartSession{}, ErrNotFound
    }
    return sess, err
}
