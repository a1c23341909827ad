package server

import (
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/go-chi/chi/v5/middleware"
    "github.com/google/uuid"

    "shiprates/internal/cache"
    "shiprates/internal/importer"
    "shiprates/internal/quote"
    "shiprates/internal/shipping"
    "shiprates/internal/store"
)

type Server struct {
    store   store.Store
    quotes  *quote.Engine
    imports *importer.Importer
}

// New wires the quote engine (behind a TTL options cache) and the rate
// importer over the given store and returns the router.
func New(st store.Store, cacheTTL time.Duration) http.Handler {
    optionsCache := cache.New(st, cacheTTL)
    s := &Server{
        store:   st,
        quotes:  quote.New(optionsCache, st),
        imports: importer.New(st, optionsCache),
    }
    r := chi.NewRouter()
    // Observability: Request ID and basic logger
    r.Use(requestIDMiddleware)
    r.Use(middleware.Logger)
    r.Get("/healthz", s.handleHealth)
    r.Post("/callbacks/cart", s.handleCartQuote)
    r.Route("/companies/{companyID}", func(r chi.Router) {
        r.Get("/rates", s.handleListRates)
        r.Post("/rates/import", s.handleImportRates)
    })
    return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
    w.WriteHeader(http.StatusOK)
    w.Write([]byte("ok"))
}

// Cart quote callback

type quoteOptionResponse struct {
    ShippingTotal                float64 `json:"shipping_total"`
    ShippingTitle                string  `json:"shipping_title"`
    ShippingDeliveryTimeEstimate string  `json:"shipping_delivery_time_estimate"`
}

type quoteResponse struct {
    Success         bool                  `json:"success"`
    Error           string                `json:"error,omitempty"`
    ShippingOptions []quoteOptionResponse `json:"shipping_options"`
}

func (s *Server) handleCartQuote(w http.ResponseWriter, r *http.Request) {
    body, err := io.ReadAll(r.Body)
    if err != nil {
        writeErrorJSON(w, http.StatusBadRequest, "read_error", "read error")
        return
    }
    payload, err := ParseCartPayload(body)
    if err != nil {
        writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
        return
    }

    companyID, err := uuid.Parse(payload.CompanyID)
    if err != nil {
        writeErrorJSON(w, http.StatusUnauthorized, "company_not_found", "company not found")
        return
    }
    company, err := s.store.CompanyByID(r.Context(), companyID)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeErrorJSON(w, http.StatusUnauthorized, "company_not_found", "company not found")
            return
        }
        writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
        return
    }

    result := s.quotes.Quote(r.Context(), quote.Request{
        Company:       company,
        ShipToCountry: payload.ShipToCountry,
        ShipToState:   payload.ShipToState,
        Items:         payload.Items,
        CartID:        payload.CartID,
        CartEmail:     payload.CartEmail,
    })

    resp := quoteResponse{
        Success:         result.Success,
        Error:           result.Error,
        ShippingOptions: make([]quoteOptionResponse, 0, len(result.ShippingOptions)),
    }
    for _, opt := range result.ShippingOptions {
        resp.ShippingOptions = append(resp.ShippingOptions, quoteOptionResponse{
            ShippingTotal:                opt.ShippingTotal.InexactFloat64(),
            ShippingTitle:                opt.ShippingTitle,
            ShippingDeliveryTimeEstimate: opt.ShippingDeliveryTimeEstimate,
        })
    }
    writeJSON(w, http.StatusOK, resp)
}

// Rate CSV import

func (s *Server) handleImportRates(w http.ResponseWriter, r *http.Request) {
    company, ok := s.resolveCompany(w, r)
    if !ok {
        return
    }

    applyCorrections := false
    switch strings.ToLower(r.URL.Query().Get("apply_corrections")) {
    case "1", "true":
        applyCorrections = true
    }

    var file io.Reader = r.Body
    if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
        f, header, err := r.FormFile("file")
        if err != nil {
            writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "file required")
            return
        }
        defer f.Close()
        if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
            writeErrorJSON(w, http.StatusBadRequest, "invalid_file_type",
                "Invalid file type. Please upload a CSV file.")
            return
        }
        file = f
    }

    result := s.imports.Import(r.Context(), company, file, applyCorrections)
    status := http.StatusOK
    if !result.Success {
        status = http.StatusUnprocessableEntity
    }
    writeJSON(w, status, result)
}

// Rate listing

type rateResponse struct {
    ID                 string  `json:"id"`
    ShippingOptionID   string  `json:"shipping_option_id"`
    ShippingOptionName string  `json:"shipping_option_name"`
    Country            string  `json:"country"`
    Region             string  `json:"region,omitempty"`
    MinRangeLbs        float64 `json:"min_range_lbs"`
    MaxRangeLbs        float64 `json:"max_range_lbs"`
    FlatRate           float64 `json:"flat_rate"`
    MinCharge          float64 `json:"min_charge"`
}

func (s *Server) handleListRates(w http.ResponseWriter, r *http.Request) {
    company, ok := s.resolveCompany(w, r)
    if !ok {
        return
    }

    q := r.URL.Query()
    filter := store.RateFilter{Country: q.Get("country"), Limit: 1000}
    if v := q.Get("shipping_option_id"); v != "" {
        id, err := uuid.Parse(v)
        if err != nil {
            writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "invalid shipping_option_id")
            return
        }
        filter.ShippingOptionID = id
    }
    if v := q.Get("limit"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 {
            filter.Limit = n
        }
    }
    if filter.Limit > 2000 {
        filter.Limit = 2000
    }
    if v := q.Get("offset"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 {
            filter.Offset = n
        }
    }

    rows, total, err := s.store.RatesByCompany(r.Context(), company.ID, filter)
    if err != nil {
        writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
        return
    }
    rates := make([]rateResponse, 0, len(rows))
    for _, row := range rows {
        rates = append(rates, rateResponse{
            ID:                 row.ID.String(),
            ShippingOptionID:   row.ShippingOptionID.String(),
            ShippingOptionName: row.ShippingOptionName,
            Country:            row.Country,
            Region:             row.Region,
            MinRangeLbs:        row.MinRangeLbs.InexactFloat64(),
            MaxRangeLbs:        row.MaxRangeLbs.InexactFloat64(),
            FlatRate:           row.FlatRate.InexactFloat64(),
            MinCharge:          row.MinCharge.InexactFloat64(),
        })
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "rates":       rates,
        "total_count": total,
        "limit":       filter.Limit,
        "offset":      filter.Offset,
    })
}

// resolveCompany loads the company from the URL, writing the error response
// itself when the id is malformed or unknown.
func (s *Server) resolveCompany(w http.ResponseWriter, r *http.Request) (shipping.Company, bool) {
    id, err := uuid.Parse(chi.URLParam(r, "companyID"))
    if err != nil {
        writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "company not found")
        return shipping.Company{}, false
    }
    company, err := s.store.CompanyByID(r.Context(), id)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "company not found")
            return shipping.Company{}, false
        }
        writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
        return shipping.Company{}, false
    }
    return company, true
}

// writeErrorJSON writes a standardized JSON error response:
// {"error": {"code": string, "message": string}}
func writeErrorJSON(w http.ResponseWriter, status int, code string, message string) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(map[string]any{
        "error": map[string]string{
            "code":    code,
            "message": message,
        },
    })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

// requestIDMiddleware ensures X-Request-ID is set on the response.
// If provided in the request header, it is propagated; otherwise a UUID is generated.
func requestIDMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
        if rid == "" {
            rid = uuid.New().String()
        }
        w.Header().Set("X-Request-ID", rid)
        next.ServeHTTP(w, r)
    })
}
