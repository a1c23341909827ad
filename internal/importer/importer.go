package importer

import (
    "context"
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "log"
    "sort"
    "strconv"
    "strings"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "shiprates/internal/shipping"
    "shiprates/internal/store"
)

// Required CSV columns, in canonical order.
var requiredHeaders = []string{
    "shipping_method", "country", "region",
    "min_range_lbs", "max_range_lbs", "flat_rate", "min_charge",
}

const defaultDeliveryTimeDays = 5

// RowError describes why one CSV row was rejected. Row numbers are 1-based
// counting the header row, so the first data row is row 2. When the only
// problems are over-bound numerics, AutoCorrectable is true and Corrections
// maps each field to the clamped value a corrections run would store.
type RowError struct {
    Row             int               `json:"row"`
    Errors          []string          `json:"errors"`
    Data            map[string]string `json:"data"`
    AutoCorrectable bool              `json:"auto_correctable,omitempty"`
    Corrections     map[string]string `json:"corrections,omitempty"`
}

// Result is the outcome of one import call.
type Result struct {
    Success       bool       `json:"success"`
    Message       string     `json:"message"`
    ImportedCount int        `json:"imported_count"`
    ReplacedCount int        `json:"replaced_count"`
    Errors        []string   `json:"errors,omitempty"`
    RowErrors     []RowError `json:"row_errors,omitempty"`
}

// Invalidator drops quote-cache entries after a commit. The bulk delete
// inside the import bypasses per-row change notification, so invalidation
// has to happen explicitly here.
type Invalidator interface {
    Invalidate(companyID uuid.UUID, country string)
}

// Importer ingests a rate CSV for one company and atomically replaces the
// stored rates for every (shipping option, country, region) present in the
// file. Locations absent from the file are never touched.
type Importer struct {
    store store.Store
    cache Invalidator
}

func New(st store.Store, cache Invalidator) *Importer {
    return &Importer{store: st, cache: cache}
}

type row struct {
    num  int
    data map[string]string
}

var errRowFailures = errors.New("row validation failed")

// Import runs the whole pipeline: parse, validate headers, optionally apply
// corrections, sort, then inside one transaction provision shipping
// options, delete the replace-set, validate every row, and insert. Any row
// error rolls the entire call back.
func (imp *Importer) Import(ctx context.Context, company shipping.Company, file io.Reader, applyCorrections bool) Result {
    headers, rows, err := parseCSV(file)
    if err != nil {
        return failure(fmt.Sprintf("Malformed CSV file: %v", err), nil)
    }
    if missing := missingHeaders(headers); len(missing) > 0 {
        return failureWith("Invalid CSV headers",
            []string{"Missing required columns: " + strings.Join(missing, ", ")}, nil)
    }

    if applyCorrections {
        corrected := 0
        for i := range rows {
            res := validateNumericBounds(rows[i].data)
            for field, value := range res.corrections {
                log.Printf("[CSV Import] row %d corrected %s: %s -> %s",
                    rows[i].num, field, rows[i].data[field], value)
                rows[i].data[field] = value
            }
            if len(res.corrections) > 0 {
                corrected++
            }
        }
        log.Printf("[CSV Import] applied corrections to %d row(s)", corrected)
    }

    sortRows(rows)

    var (
        imported  int
        replaced  int64
        rowErrors []RowError
        countries map[string]bool
    )
    txErr := imp.store.WithTx(ctx, func(st store.Store) error {
        byName, err := imp.provisionOptions(ctx, st, company, rows)
        if err != nil {
            return err
        }

        keys := collectReplaceKeys(rows, byName)
        countries = distinctCountries(keys)

        replaced, err = st.DeleteRatesByLocations(ctx, keys)
        if err != nil {
            return err
        }
        if replaced > 0 {
            log.Printf("[CSV Import] replacing %d existing rate(s) across %d location(s)", replaced, len(keys))
        }

        var accepted []shipping.Rate
        for _, rw := range rows {
            rate, rowErr, err := validateRow(ctx, st, rw, byName, accepted, applyCorrections)
            if err != nil {
                return err
            }
            if rowErr != nil {
                rowErrors = append(rowErrors, *rowErr)
                continue
            }
            accepted = append(accepted, *rate)
        }

        if len(rowErrors) > 0 {
            return errRowFailures
        }

        for i := range accepted {
            if err := st.CreateRate(ctx, &accepted[i]); err != nil {
                return err
            }
            imported++
        }
        return nil
    })

    if txErr != nil {
        if errors.Is(txErr, errRowFailures) {
            for _, re := range rowErrors {
                log.Printf("[CSV Import] row %d: %s", re.Row, strings.Join(re.Errors, ", "))
            }
            if applyCorrections {
                nonCorrectable := 0
                for _, re := range rowErrors {
                    if !re.AutoCorrectable {
                        nonCorrectable++
                    }
                }
                return failure(fmt.Sprintf(
                    "Import failed: %d row(s) have errors that cannot be auto-corrected.",
                    nonCorrectable), rowErrors)
            }
            return failure(fmt.Sprintf(
                "Import failed: %d row(s) have errors. No records were imported.",
                len(rowErrors)), rowErrors)
        }
        log.Printf("[CSV Import] transaction failed: %v", txErr)
        return failure("Import failed: "+txErr.Error(), rowErrors)
    }

    if imported == 0 {
        return failure("No rates were imported", rowErrors)
    }

    if imp.cache != nil {
        for country := range countries {
            imp.cache.Invalidate(company.ID, country)
        }
    }

    msg := fmt.Sprintf("Successfully imported %d rate(s)", imported)
    if replaced > 0 {
        msg = fmt.Sprintf("Successfully imported %d rate(s) (%d existing rate(s) replaced)", imported, replaced)
    }
    return Result{
        Success:       true,
        Message:       msg,
        ImportedCount: imported,
        ReplacedCount: int(replaced),
    }
}

// parseCSV reads the whole file, lower-cases the header row, and drops rows
// whose fields are all blank. Row numbers count from the header as row 1.
func parseCSV(file io.Reader) ([]string, []row, error) {
    r := csv.NewReader(file)
    r.FieldsPerRecord = -1
    r.TrimLeadingSpace = true
    records, err := r.ReadAll()
    if err != nil {
        return nil, nil, err
    }
    if len(records) == 0 {
        return nil, nil, errors.New("empty file")
    }
    headers := make([]string, len(records[0]))
    for i, h := range records[0] {
        headers[i] = strings.ToLower(strings.TrimSpace(h))
    }
    var rows []row
    for i, record := range records[1:] {
        data := make(map[string]string, len(headers))
        blank := true
        for j, h := range headers {
            var v string
            if j < len(record) {
                v = record[j]
            }
            data[h] = v
            if strings.TrimSpace(v) != "" {
                blank = false
            }
        }
        if blank {
            continue
        }
        rows = append(rows, row{num: i + 2, data: data})
    }
    return headers, rows, nil
}

func missingHeaders(headers []string) []string {
    present := make(map[string]bool, len(headers))
    for _, h := range headers {
        present[h] = true
    }
    var missing []string
    for _, h := range requiredHeaders {
        if !present[h] {
            missing = append(missing, h)
        }
    }
    return missing
}

// sortRows orders rows by (method, country, region with blanks first, min
// weight ascending) so the zero-based first-tier rule and the overlap
// checks see each location's tiers in a stable order regardless of how the
// file was arranged.
func sortRows(rows []row) {
    sort.SliceStable(rows, func(i, j int) bool {
        a, b := rows[i].data, rows[j].data
        am, bm := strings.TrimSpace(a["shipping_method"]), strings.TrimSpace(b["shipping_method"])
        if am != bm {
            return am < bm
        }
        ac := strings.ToUpper(strings.TrimSpace(a["country"]))
        bc := strings.ToUpper(strings.TrimSpace(b["country"]))
        if ac != bc {
            return ac < bc
        }
        ar, br := strings.TrimSpace(a["region"]), strings.TrimSpace(b["region"])
        if ar != br {
            return ar < br
        }
        return weightForSort(a["min_range_lbs"]) < weightForSort(b["min_range_lbs"])
    })
}

func weightForSort(s string) float64 {
    f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
    if err != nil {
        return 0
    }
    return f
}

// provisionOptions creates a shipping option for every method name the file
// references that the company does not already have, and merges newly seen
// countries (and a lower starting rate) into existing ones. Runs inside the
// import transaction so it rolls back with everything else.
func (imp *Importer) provisionOptions(ctx context.Context, st store.Store, company shipping.Company, rows []row) (map[string]*shipping.ShippingOption, error) {
    type methodStats struct {
        countries []string
        seen      map[string]bool
        minPrice  decimal.Decimal
        hasPrice  bool
    }
    stats := make(map[string]*methodStats)
    var methodNames []string
    for _, rw := range rows {
        name := strings.TrimSpace(rw.data["shipping_method"])
        if name == "" {
            continue
        }
        ms := stats[name]
        if ms == nil {
            ms = &methodStats{seen: make(map[string]bool)}
            stats[name] = ms
            methodNames = append(methodNames, name)
        }
        country := strings.ToUpper(strings.TrimSpace(rw.data["country"]))
        if country != "" && !ms.seen[country] {
            ms.seen[country] = true
            ms.countries = append(ms.countries, country)
        }
        flat, err := decimal.NewFromString(strings.TrimSpace(rw.data["flat_rate"]))
        if err == nil && flat.IsPositive() && (!ms.hasPrice || flat.LessThan(ms.minPrice)) {
            ms.minPrice = flat
            ms.hasPrice = true
        }
    }
    sort.Strings(methodNames)

    existing, err := st.OptionsByCompany(ctx, company.ID)
    if err != nil {
        return nil, err
    }
    byName := make(map[string]*shipping.ShippingOption, len(existing))
    for i := range existing {
        byName[existing[i].Name] = &existing[i]
    }

    for _, name := range methodNames {
        ms := stats[name]
        minPrice := decimal.Zero
        if ms.hasPrice {
            minPrice = ms.minPrice
        }

        if opt, ok := byName[name]; ok {
            var added []string
            for _, c := range ms.countries {
                if !opt.ServesCountry(c) {
                    added = append(added, c)
                }
            }
            opt.Countries = append(opt.Countries, added...)
            opt.CountrySortPositions = shipping.NextSortPositions(existing, opt.CountrySortPositions, added)
            if minPrice.LessThan(opt.StartingRate) {
                opt.StartingRate = minPrice
            }
            if err := st.UpdateOption(ctx, opt); err != nil {
                return nil, err
            }
            continue
        }

        opt := &shipping.ShippingOption{
            CompanyID:            company.ID,
            Name:                 name,
            DeliveryTimeDays:     defaultDeliveryTimeDays,
            StartingRate:         minPrice,
            Status:               shipping.StatusActive,
            Countries:            ms.countries,
            CountrySortPositions: shipping.NextSortPositions(existing, nil, ms.countries),
        }
        if err := st.CreateOption(ctx, opt); err != nil {
            return nil, err
        }
        existing = append(existing, *opt)
        byName[name] = opt
    }
    return byName, nil
}

// collectReplaceKeys computes the replace-set: the distinct locations the
// file touches, whose stored rates will be deleted before the file's rows
// are inserted.
func collectReplaceKeys(rows []row, byName map[string]*shipping.ShippingOption) []shipping.LocationKey {
    seen := make(map[shipping.LocationKey]bool)
    var keys []shipping.LocationKey
    for _, rw := range rows {
        opt := byName[strings.TrimSpace(rw.data["shipping_method"])]
        if opt == nil {
            continue
        }
        key := shipping.LocationKey{
            ShippingOptionID: opt.ID,
            Country:          strings.ToUpper(strings.TrimSpace(rw.data["country"])),
            Region:           strings.TrimSpace(rw.data["region"]),
        }
        if !seen[key] {
            seen[key] = true
            keys = append(keys, key)
        }
    }
    return keys
}

func distinctCountries(keys []shipping.LocationKey) map[string]bool {
    out := make(map[string]bool, len(keys))
    for _, k := range keys {
        out[k.Country] = true
    }
    return out
}

func countryCodeOK(c string) bool {
    if len(c) != 2 {
        return false
    }
    return c[0] >= 'A' && c[0] <= 'Z' && c[1] >= 'A' && c[1] <= 'Z'
}

// validateRow checks one sorted row against storage bounds, structural
// rules, the stored rates left for its location, and the rows already
// accepted from this batch. The returned error is fatal (storage failure);
// a *RowError is a per-row rejection.
func validateRow(ctx context.Context, st store.Store, rw row, byName map[string]*shipping.ShippingOption, batch []shipping.Rate, correctionsApplied bool) (*shipping.Rate, *RowError, error) {
    data := rw.data
    methodName := strings.TrimSpace(data["shipping_method"])
    opt := byName[methodName]
    if opt == nil {
        return nil, &RowError{
            Row:    rw.num,
            Errors: []string{fmt.Sprintf("Shipping method '%s' not found", methodName)},
            Data:   copyData(data),
        }, nil
    }

    if !correctionsApplied {
        bounds := validateNumericBounds(data)
        if len(bounds.errs) > 0 {
            return nil, &RowError{
                Row:             rw.num,
                Errors:          bounds.errs,
                Data:            copyData(data),
                AutoCorrectable: bounds.autoCorrectable,
                Corrections:     bounds.corrections,
            }, nil
        }
    }

    var (
        errs   []string
        fields [4]decimal.Decimal
    )
    for i, name := range []string{"min_range_lbs", "max_range_lbs", "flat_rate", "min_charge"} {
        v, err := decimal.NewFromString(strings.TrimSpace(data[name]))
        if err != nil {
            errs = append(errs, "Invalid numeric value for "+name)
            continue
        }
        fields[i] = v
    }
    if len(errs) > 0 {
        return nil, &RowError{Row: rw.num, Errors: errs, Data: copyData(data)}, nil
    }
    minW, maxW, flat, minCharge := fields[0], fields[1], fields[2], fields[3]

    country := strings.ToUpper(strings.TrimSpace(data["country"]))
    region := strings.TrimSpace(data["region"])

    if !countryCodeOK(country) {
        errs = append(errs, "country must be a 2-letter code")
    }
    if !maxW.GreaterThan(minW) {
        errs = append(errs, "max_range_lbs must be greater than min_range_lbs")
    }
    for _, f := range []struct {
        name  string
        value decimal.Decimal
    }{
        {"min_range_lbs", minW}, {"max_range_lbs", maxW},
        {"flat_rate", flat}, {"min_charge", minCharge},
    } {
        if f.value.IsNegative() {
            errs = append(errs, f.name+" must be greater than or equal to 0")
        }
    }
    if len(errs) > 0 {
        return nil, &RowError{Row: rw.num, Errors: errs, Data: copyData(data)}, nil
    }

    rate := shipping.Rate{
        ShippingOptionID: opt.ID,
        Country:          country,
        Region:           region,
        MinRangeLbs:      minW,
        MaxRangeLbs:      maxW,
        FlatRate:         flat,
        MinCharge:        minCharge,
    }

    // The replace-set deletion normally leaves nothing stored under this
    // key, but stored rows can still exist when the file's key set and the
    // stored key set disagree only by region granularity.
    stored, err := st.RatesForLocation(ctx, rate.Location())
    if err != nil {
        return nil, nil, err
    }
    var siblings []shipping.Rate
    for _, b := range batch {
        if b.Location() == rate.Location() {
            siblings = append(siblings, b)
        }
    }

    if len(stored) == 0 && len(siblings) == 0 && !rate.MinRangeLbs.IsZero() {
        errs = append(errs,
            "min_range_lbs must be 0 for the first rate of this shipping option and location")
    }
    for _, other := range append(stored, siblings...) {
        if shipping.RatesOverlap(rate, other) {
            errs = append(errs, fmt.Sprintf(
                "Weight range overlaps with existing rate (%s-%s lbs)",
                other.MinRangeLbs, other.MaxRangeLbs))
            break
        }
    }
    if len(errs) > 0 {
        return nil, &RowError{Row: rw.num, Errors: errs, Data: copyData(data)}, nil
    }
    return &rate, nil, nil
}

type boundsResult struct {
    errs            []string
    autoCorrectable bool
    corrections     map[string]string
}

// validateNumericBounds checks each numeric field against its storage
// bound. Values over the positive bound are auto-correctable (clamped);
// values under the negative bound are hard errors.
func validateNumericBounds(data map[string]string) boundsResult {
    res := boundsResult{corrections: make(map[string]string)}
    fields := []struct {
        name string
        max  decimal.Decimal
        min  decimal.Decimal
    }{
        {"min_range_lbs", shipping.MaxWeightLbs, shipping.MinWeightLbs},
        {"max_range_lbs", shipping.MaxWeightLbs, shipping.MinWeightLbs},
        {"flat_rate", shipping.MaxPrice, shipping.MinPrice},
        {"min_charge", shipping.MaxPrice, shipping.MinPrice},
    }
    hard := false
    for _, f := range fields {
        v, err := decimal.NewFromString(strings.TrimSpace(data[f.name]))
        if err != nil {
            return boundsResult{
                errs:        []string{"Invalid numeric value for " + f.name},
                corrections: map[string]string{},
            }
        }
        if v.GreaterThan(f.max) {
            res.corrections[f.name] = f.max.String()
            res.errs = append(res.errs, fmt.Sprintf(
                "%s (%s) exceeds maximum allowed value of %s (can be auto-corrected to %s)",
                f.name, v, f.max, f.max))
        } else if v.LessThan(f.min) {
            hard = true
            res.errs = append(res.errs, fmt.Sprintf(
                "%s (%s) is below minimum allowed value of %s", f.name, v, f.min))
        }
    }
    res.autoCorrectable = len(res.corrections) > 0 && !hard
    return res
}

func copyData(data map[string]string) map[string]string {
    out := make(map[string]string, len(data))
    for k, v := range data {
        out[k] = v
    }
    return out
}

func failure(msg string, rowErrors []RowError) Result {
    return failureWith(msg, nil, rowErrors)
}

func failureWith(msg string, errs []string, rowErrors []RowError) Result {
    return Result{
        Success:   false,
        Message:   msg,
        Errors:    append(errs, msg),
        RowErrors: rowErrors,
    }
}
