package server

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "mime/multipart"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "shiprates/internal/shipping"
    "shiprates/internal/store"
)

const ratesCSV = "shipping_method,country,region,min_range_lbs,max_range_lbs,flat_rate,min_charge\n" +
    "Ground,US,,0,5,4.99,0\n" +
    "Ground,US,,5.0001,20,9.99,0\n"

func newTestServer(t *testing.T) (*store.Memory, http.Handler, shipping.Company) {
    t.Helper()
    st := store.NewMemory()
    company := shipping.Company{ID: uuid.New(), Name: "Acme"}
    st.AddCompany(company)
    return st, New(st, time.Minute), company
}

func seedGroundOption(t *testing.T, st *store.Memory, company shipping.Company) shipping.ShippingOption {
    t.Helper()
    opt := shipping.ShippingOption{
        CompanyID: company.ID, Name: "Ground", DeliveryTimeDays: 3,
        StartingRate: decimal.RequireFromString("15"),
        Status:       shipping.StatusActive, Countries: []string{"US"},
    }
    if err := st.CreateOption(context.Background(), &opt); err != nil {
        t.Fatalf("seed option: %v", err)
    }
    rate := shipping.Rate{
        ShippingOptionID: opt.ID, Country: "US",
        MinRangeLbs: decimal.Zero,
        MaxRangeLbs: decimal.RequireFromString("20"),
        FlatRate:    decimal.RequireFromString("4.99"),
        MinCharge:   decimal.Zero,
    }
    if err := st.CreateRate(context.Background(), &rate); err != nil {
        t.Fatalf("seed rate: %v", err)
    }
    return opt
}

func cartBody(companyID, country, state string) string {
    return fmt.Sprintf(`{
        "cart": {
            "company": {"id": %q},
            "id": "cart-1",
            "email": "jo@example.com",
            "ship_to": {"country": %q, "state": %q},
            "items": [
                {"id": "li-1", "quantity": 2,
                 "variant": {"id": "v-1", "weight": 2.5, "unit_of_weight": "lb"}}
            ]
        }
    }`, companyID, country, state)
}

func TestHealthz(t *testing.T) {
    _, h, _ := newTestServer(t)
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
        t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
    }
}

func TestCartQuote_UnknownCompany(t *testing.T) {
    _, h, _ := newTestServer(t)
    body := cartBody(uuid.New().String(), "US", "CA")
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callbacks/cart", strings.NewReader(body)))
    if rec.Code != http.StatusUnauthorized {
        t.Fatalf("status = %d", rec.Code)
    }
    var resp struct {
        Error struct {
            Code string `json:"code"`
        } `json:"error"`
    }
    if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
        t.Fatalf("decode: %v", err)
    }
    if resp.Error.Code != "company_not_found" {
        t.Fatalf("code = %q", resp.Error.Code)
    }
}

func TestCartQuote_InvalidJSON(t *testing.T) {
    _, h, _ := newTestServer(t)
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callbacks/cart", strings.NewReader("{not json")))
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("status = %d", rec.Code)
    }
}

func TestCartQuote_InvalidParameters(t *testing.T) {
    _, h, company := newTestServer(t)
    body := cartBody(company.ID.String(), "", "")
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callbacks/cart", strings.NewReader(body)))
    if rec.Code != http.StatusOK {
        t.Fatalf("status = %d", rec.Code)
    }
    var resp quoteResponse
    if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
        t.Fatalf("decode: %v", err)
    }
    if resp.Success || resp.Error != "Invalid parameters" {
        t.Fatalf("resp = %+v", resp)
    }
}

func TestCartQuote_PricedOption(t *testing.T) {
    st, h, company := newTestServer(t)
    seedGroundOption(t, st, company)

    body := cartBody(company.ID.String(), "US", "CA")
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callbacks/cart", strings.NewReader(body)))
    if rec.Code != http.StatusOK {
        t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
    }
    var resp quoteResponse
    if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
        t.Fatalf("decode: %v", err)
    }
    if !resp.Success || len(resp.ShippingOptions) != 1 {
        t.Fatalf("resp = %+v", resp)
    }
    got := resp.ShippingOptions[0]
    if got.ShippingTitle != "Ground" || got.ShippingTotal != 4.99 {
        t.Fatalf("option = %+v", got)
    }
    if got.ShippingDeliveryTimeEstimate != "3 days" {
        t.Fatalf("estimate = %q", got.ShippingDeliveryTimeEstimate)
    }
}

func TestCartQuote_DefaultOption(t *testing.T) {
    _, h, company := newTestServer(t)
    body := cartBody(company.ID.String(), "US", "CA")
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callbacks/cart", strings.NewReader(body)))
    var resp quoteResponse
    if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
        t.Fatalf("decode: %v", err)
    }
    if !resp.Success || len(resp.ShippingOptions) != 1 {
        t.Fatalf("resp = %+v", resp)
    }
    if resp.ShippingOptions[0].ShippingTitle != "Coordinate with the shop" {
        t.Fatalf("title = %q", resp.ShippingOptions[0].ShippingTitle)
    }
    if resp.ShippingOptions[0].ShippingTotal != 0 {
        t.Fatalf("total = %v", resp.ShippingOptions[0].ShippingTotal)
    }
}

func TestImportRates_RawBodyThenList(t *testing.T) {
    _, h, company := newTestServer(t)

    rec := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost,
        "/companies/"+company.ID.String()+"/rates/import", strings.NewReader(ratesCSV))
    req.Header.Set("Content-Type", "text/csv")
    h.ServeHTTP(rec, req)
    if rec.Code != http.StatusOK {
        t.Fatalf("import status=%d body=%s", rec.Code, rec.Body.String())
    }
    var result struct {
        Success       bool `json:"success"`
        ImportedCount int  `json:"imported_count"`
    }
    if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
        t.Fatalf("decode: %v", err)
    }
    if !result.Success || result.ImportedCount != 2 {
        t.Fatalf("result = %+v", result)
    }

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
        "/companies/"+company.ID.String()+"/rates?country=US", nil))
    if rec.Code != http.StatusOK {
        t.Fatalf("list status = %d", rec.Code)
    }
    var list struct {
        Rates      []rateResponse `json:"rates"`
        TotalCount int            `json:"total_count"`
    }
    if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
        t.Fatalf("decode: %v", err)
    }
    if list.TotalCount != 2 || len(list.Rates) != 2 {
        t.Fatalf("list = %+v", list)
    }
    if list.Rates[0].ShippingOptionName != "Ground" || list.Rates[0].MinRangeLbs != 0 {
        t.Fatalf("first rate = %+v", list.Rates[0])
    }
}

func TestImportRates_Multipart(t *testing.T) {
    _, h, company := newTestServer(t)

    var buf bytes.Buffer
    mw := multipart.NewWriter(&buf)
    fw, err := mw.CreateFormFile("file", "rates.csv")
    if err != nil {
        t.Fatalf("form file: %v", err)
    }
    fw.Write([]byte(ratesCSV))
    mw.Close()

    rec := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost,
        "/companies/"+company.ID.String()+"/rates/import", &buf)
    req.Header.Set("Content-Type", mw.FormDataContentType())
    h.ServeHTTP(rec, req)
    if rec.Code != http.StatusOK {
        t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
    }
}

func TestImportRates_RejectsNonCSVFilename(t *testing.T) {
    _, h, company := newTestServer(t)

    var buf bytes.Buffer
    mw := multipart.NewWriter(&buf)
    fw, _ := mw.CreateFormFile("file", "rates.txt")
    fw.Write([]byte(ratesCSV))
    mw.Close()

    rec := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost,
        "/companies/"+company.ID.String()+"/rates/import", &buf)
    req.Header.Set("Content-Type", mw.FormDataContentType())
    h.ServeHTTP(rec, req)
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("status = %d", rec.Code)
    }
    if !strings.Contains(rec.Body.String(), "invalid_file_type") {
        t.Fatalf("body = %s", rec.Body.String())
    }
}

func TestImportRates_ValidationFailure(t *testing.T) {
    _, h, company := newTestServer(t)
    bad := "shipping_method,country\nGround,US\n"
    rec := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost,
        "/companies/"+company.ID.String()+"/rates/import", strings.NewReader(bad))
    req.Header.Set("Content-Type", "text/csv")
    h.ServeHTTP(rec, req)
    if rec.Code != http.StatusUnprocessableEntity {
        t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
    }
}

func TestImportRates_UnknownCompany(t *testing.T) {
    _, h, _ := newTestServer(t)
    rec := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost,
        "/companies/"+uuid.New().String()+"/rates/import", strings.NewReader(ratesCSV))
    h.ServeHTTP(rec, req)
    if rec.Code != http.StatusNotFound {
        t.Fatalf("status = %d", rec.Code)
    }
    if !strings.Contains(rec.Body.String(), "resource_not_found") {
        t.Fatalf("body = %s", rec.Body.String())
    }
}

func TestRequestIDHeader(t *testing.T) {
    _, h, _ := newTestServer(t)

    rec := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
    req.Header.Set("X-Request-ID", "req-123")
    h.ServeHTTP(rec, req)
    if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
        t.Fatalf("request id not propagated, got %q", got)
    }

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rec.Header().Get("X-Request-ID") == "" {
        t.Fatalf("request id must be generated when absent")
    }
}
