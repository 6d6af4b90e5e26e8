package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

// --- Mock implementations ---

type storedCart struct {
	cart    discount.Cart
	records []discount.Record
}

type mockCartRepo struct {
	carts map[string]storedCart
	err   error
}

func (m *mockCartRepo) Get(_ context.Context, id string) (*discount.Cart, []discount.Record, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	c, ok := m.carts[id]
	if !ok {
		return nil, nil, discount.ErrCartNotFound
	}
	return &c.cart, c.records, nil
}

type mockCouponLookup struct {
	coupons []discount.Coupon
	err     error
	calls   int
}

func (m *mockCouponLookup) FindByCode(_ context.Context, _ string) ([]discount.Coupon, error) {
	m.calls++
	return m.coupons, m.err
}

// --- Response types ---

type discountsResponse struct {
	Discounts []struct {
		Label     string `json:"label"`
		AppliedTo string `json:"appliedTo"`
		Amount    struct {
			Value    json.Number `json:"value"`
			Currency string      `json:"currency"`
		} `json:"amount"`
		Coupon *struct {
			Code string `json:"code"`
		} `json:"coupon"`
	} `json:"discounts"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// --- Helpers ---

func newServer(carts *mockCartRepo, lookup *mockCouponLookup) http.Handler {
	h := NewHandler(carts, discount.NewFormatterPool(lookup))
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	dec := json.NewDecoder(w.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&v))
	return v
}

// --- Tests ---

func TestGetCartDiscounts(t *testing.T) {
	carts := &mockCartRepo{carts: map[string]storedCart{
		"c1": {
			cart: discount.Cart{CurrencyCode: "USD", CouponCode: "SAVE10"},
			records: []discount.Record{
				{RuleID: 1, AppliedTo: "SHIPPING", Amount: decimal.RequireFromString("5.00")},
				{RuleID: 2, Label: "Spring Sale", AppliedTo: "ITEM", Amount: decimal.RequireFromString("10.00")},
			},
		},
		"empty": {cart: discount.Cart{CurrencyCode: "USD"}},
	}}
	lookup := &mockCouponLookup{coupons: []discount.Coupon{{Code: "SAVE10", RuleID: 1}}}
	srv := newServer(carts, lookup)

	t.Run("formats discounts with coupon", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/carts/c1/discounts", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		body := decodeBody[discountsResponse](t, w)
		require.Len(t, body.Discounts, 2)

		first := body.Discounts[0]
		assert.Equal(t, "Discount", first.Label)
		assert.Equal(t, "SHIPPING", first.AppliedTo)
		assert.Equal(t, json.Number("5"), first.Amount.Value)
		assert.Equal(t, "USD", first.Amount.Currency)
		require.NotNil(t, first.Coupon)
		assert.Equal(t, "SAVE10", first.Coupon.Code)

		second := body.Discounts[1]
		assert.Equal(t, "Spring Sale", second.Label)
		assert.Nil(t, second.Coupon)
	})

	t.Run("no discounts renders null", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/carts/empty/discounts", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"discounts":null}`, w.Body.String())
	})

	t.Run("unknown cart returns 404", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/carts/missing/discounts", "")
		require.Equal(t, http.StatusNotFound, w.Code)

		body := decodeBody[errorResponse](t, w)
		assert.Equal(t, 404, body.Code)
		assert.Equal(t, "cart not found", body.Message)
	})

	t.Run("each request resolves the coupon afresh", func(t *testing.T) {
		before := lookup.calls
		do(t, srv, http.MethodGet, "/api/carts/c1/discounts", "")
		do(t, srv, http.MethodGet, "/api/carts/c1/discounts", "")
		assert.Equal(t, before+2, lookup.calls)
	})
}

func TestGetCartDiscounts_RepositoryError(t *testing.T) {
	srv := newServer(&mockCartRepo{err: errors.New("db down")}, &mockCouponLookup{})

	w := do(t, srv, http.MethodGet, "/api/carts/c1/discounts", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestFormatDiscounts(t *testing.T) {
	tests := []struct {
		name       string
		lookup     *mockCouponLookup
		body       string
		wantStatus int
		wantJSON   string
		wantMsg    string
	}{
		{
			name:   "coupon attached to matching rule only",
			lookup: &mockCouponLookup{coupons: []discount.Coupon{{Code: "SAVE10", RuleID: 1}}},
			body: `{"cart":{"currencyCode":"USD","couponCode":"SAVE10"},"discounts":[
				{"ruleId":1,"label":"","appliedTo":"SHIPPING","amount":5.00},
				{"ruleId":2,"label":"Spring Sale","appliedTo":"ITEM","amount":"10.00"}]}`,
			wantStatus: http.StatusOK,
			wantJSON: `{"discounts":[
				{"label":"Discount","appliedTo":"SHIPPING","amount":{"value":5,"currency":"USD"},"coupon":{"code":"SAVE10"}},
				{"label":"Spring Sale","appliedTo":"ITEM","amount":{"value":10,"currency":"USD"},"coupon":null}]}`,
		},
		{
			name:       "null discounts",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD","couponCode":null},"discounts":null}`,
			wantStatus: http.StatusOK,
			wantJSON:   `{"discounts":null}`,
		},
		{
			name:       "missing discounts",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD"}}`,
			wantStatus: http.StatusOK,
			wantJSON:   `{"discounts":null}`,
		},
		{
			name:       "empty discounts",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD"},"discounts":[]}`,
			wantStatus: http.StatusOK,
			wantJSON:   `{"discounts":null}`,
		},
		{
			name:       "lookup failure returns 503",
			lookup:     &mockCouponLookup{err: &discount.LookupError{Code: "SAVE10", Err: errors.New("timeout")}},
			body:       `{"cart":{"currencyCode":"USD","couponCode":"SAVE10"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":1}]}`,
			wantStatus: http.StatusServiceUnavailable,
			wantMsg:    "coupon lookup failed",
		},
		{
			name:       "unexpected lookup error returns 500",
			lookup:     &mockCouponLookup{err: errors.New("boom")},
			body:       `{"cart":{"currencyCode":"USD","couponCode":"SAVE10"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":1}]}`,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal error",
		},
		{
			name:       "malformed json returns 400",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad amount returns 400",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":"abc"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "huge exponent returns 400",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":1e50000000}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "tiny exponent returns 400",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":"1e-50000000"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "amount above column range returns 400",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":100000000}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too many decimal places returns 400",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":"1.23456"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "overlong amount returns 400",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{"currencyCode":"USD"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":"0000000000000000000000000000000001"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing currency returns 400",
			lookup:     &mockCouponLookup{},
			body:       `{"cart":{},"discounts":[]}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "cart.currencyCode is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(&mockCartRepo{}, tt.lookup)

			w := do(t, srv, http.MethodPost, "/api/discounts/format", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantJSON != "" {
				assert.JSONEq(t, tt.wantJSON, w.Body.String())
			}
			if tt.wantMsg != "" {
				body := decodeBody[errorResponse](t, w)
				assert.Equal(t, tt.wantStatus, body.Code)
				assert.Equal(t, tt.wantMsg, body.Message)
			}
		})
	}
}

func TestFormatDiscounts_NoCouponSkipsLookup(t *testing.T) {
	lookup := &mockCouponLookup{}
	srv := newServer(&mockCartRepo{}, lookup)

	w := do(t, srv, http.MethodPost, "/api/discounts/format",
		`{"cart":{"currencyCode":"USD"},"discounts":[{"ruleId":1,"appliedTo":"ITEM","amount":2.5}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"discounts":[{"label":"Discount","appliedTo":"ITEM","amount":{"value":2.5,"currency":"USD"},"coupon":null}]}`,
		w.Body.String())
	assert.Zero(t, lookup.calls)
}

func TestDecodeFormatRequest_IgnoresUnknownFields(t *testing.T) {
	cart, records, err := decodeFormatRequest([]byte(
		`{"extra":{"nested":[1,2]},"cart":{"currencyCode":"GBP","id":"x"},
		  "discounts":[{"ruleId":9,"label":null,"appliedTo":"ITEM","amount":"1.10","ruleName":"n"}]}`))
	require.NoError(t, err)
	assert.Equal(t, discount.Cart{CurrencyCode: "GBP"}, cart)
	require.Len(t, records, 1)
	assert.Equal(t, int64(9), records[0].RuleID)
	assert.Empty(t, records[0].Label)
	assert.True(t, decimal.RequireFromString("1.1").Equal(records[0].Amount))
}

func TestCheckAmount(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{in: "0"},
		{in: "5.00"},
		{in: "-12.5"},
		{in: "99999999.9999"},
		{in: "1.50000"},
		{in: "1E3"},
		{in: "100000000", wantErr: true},
		{in: "-100000000", wantErr: true},
		{in: "0.00001", wantErr: true},
		{in: "1e9", wantErr: true},
		{in: "1e-40", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := checkAmount(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
