package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/pricing"
)

type fakeQueries struct {
	products     []catalog.Product
	toppings     []catalog.Topping
	productCalls int
}

func (f *fakeQueries) ListProducts(_ context.Context, merchantID string, includeInactive bool) ([]catalog.Product, error) {
	f.productCalls++
	var out []catalog.Product
	for _, p := range f.products {
		if p.MerchantID == merchantID && (includeInactive || p.Active) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeQueries) ListToppings(_ context.Context, merchantID string, includeInactive bool) ([]catalog.Topping, error) {
	var out []catalog.Topping
	for _, t := range f.toppings {
		if t.MerchantID == merchantID && (includeInactive || t.Active) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeQueries) UpsertProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	for i := range f.products {
		if f.products[i].ID == p.ID {
			f.products[i] = p
			return p, nil
		}
	}
	f.products = append(f.products, p)
	return p, nil
}

func (f *fakeQueries) UpsertTopping(_ context.Context, t catalog.Topping) (catalog.Topping, error) {
	f.toppings = append(f.toppings, t)
	return t, nil
}

func intPtr(v int) *int { return &v }

func moneyPtr(v int64) *pricing.Money {
	m := decimal.NewFromInt(v)
	return &m
}

func newFixture(t *testing.T) (*catalog.Service, *fakeQueries, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := &fakeQueries{
		products: []catalog.Product{
			{ID: "empanada", MerchantID: "m-1", Name: "Empanada", PriceRetail: decimal.NewFromInt(100), PriceWholesale: moneyPtr(80), WholesaleMinQty: intPtr(6), Active: true, Position: 2},
			{ID: "pizza", MerchantID: "m-1", Name: "Pizza", PriceRetail: decimal.NewFromInt(900), ToppingIDs: []string{"queso"}, Active: true, Position: 1},
			{ID: "viejo", MerchantID: "m-1", Name: "Retirado", PriceRetail: decimal.NewFromInt(50), Active: false},
		},
		toppings: []catalog.Topping{
			{ID: "queso", MerchantID: "m-1", Name: "Queso extra", PriceExtra: decimal.NewFromInt(150), Active: true},
			{ID: "huevo", MerchantID: "m-1", Name: "Huevo", PriceExtra: decimal.NewFromInt(90), Active: true},
		},
	}
	svc := &catalog.Service{Q: q, Cache: catalog.NewCache(client, time.Minute), Logger: zerolog.Nop()}
	return svc, q, mr
}

func TestMenuIsCachedAndInvalidated(t *testing.T) {
	svc, q, mr := newFixture(t)
	ctx := context.Background()

	menu, err := svc.Menu(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, menu.Products, 2)
	require.Equal(t, "pizza", menu.Products[0].ID, "menu is ordered by position")
	require.True(t, mr.Exists("menu:m-1"))

	_, err = svc.Menu(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, 1, q.productCalls, "second read must come from cache")

	_, err = svc.SaveProduct(ctx, catalog.Product{ID: "flan", MerchantID: "m-1", Name: "Flan", PriceRetail: decimal.NewFromInt(300), Active: true})
	require.NoError(t, err)
	require.False(t, mr.Exists("menu:m-1"))

	menu, err = svc.Menu(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, menu.Products, 3)
	require.Equal(t, 2, q.productCalls)
}

func TestResolveLines(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	lines, err := svc.ResolveLines(ctx, "m-1", []catalog.ItemRequest{
		{ProductID: "empanada", Quantity: 6},
		{ProductID: "pizza", Quantity: 2, Toppings: []string{"queso"}},
		{ProductID: "empanada", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, "empanada", lines[2].ProductID, "duplicates stay separate lines")
	require.True(t, pricing.LineTotal(lines[0]).Equal(decimal.NewFromInt(480)))
	require.True(t, pricing.LineTotal(lines[1]).Equal(decimal.NewFromInt(2100)))
	require.True(t, pricing.CartSubtotal(lines).Equal(decimal.NewFromInt(2680)))

	cases := map[string][]catalog.ItemRequest{
		"unknown product":     {{ProductID: "sushi", Quantity: 1}},
		"inactive product":    {{ProductID: "viejo", Quantity: 1}},
		"topping not offered": {{ProductID: "pizza", Quantity: 1, Toppings: []string{"huevo"}}},
		"zero quantity":       {{ProductID: "pizza", Quantity: 0}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ResolveLines(ctx, "m-1", items)
			require.True(t, errors.Is(err, catalog.ErrUnknownProduct), "got %v", err)
		})
	}
}

func TestSaveProductValidation(t *testing.T) {
	svc, _, _ := newFixture(t)
	_, err := svc.SaveProduct(context.Background(), catalog.Product{ID: "x", MerchantID: "m-1", Name: "X", PriceRetail: decimal.NewFromInt(10), PriceWholesale: moneyPtr(8)})
	require.ErrorIs(t, err, catalog.ErrInvalidProduct)

	_, err = svc.SaveTopping(context.Background(), catalog.Topping{ID: "t", MerchantID: "m-1", Name: "T", PriceExtra: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, catalog.ErrInvalidProduct)
}

func TestMenuHandler(t *testing.T) {
	svc, _, _ := newFixture(t)
	h := &catalog.Handler{Service: svc, Validator: common.NewValidator()}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/la-esquina/menu", nil)
	req = req.WithContext(merchant.WithMerchant(req.Context(), merchant.Merchant{ID: "m-1", Name: "La Esquina", Active: true}))
	rec := httptest.NewRecorder()
	h.Menu(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Comercio  string `json:"comercio"`
			Productos []struct {
				ID     string  `json:"id"`
				Precio float64 `json:"precio"`
			} `json:"productos"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "La Esquina", body.Data.Comercio)
	require.Len(t, body.Data.Productos, 2)
	require.Equal(t, 900.0, body.Data.Productos[0].Precio)
}

func TestSaveProductHandler(t *testing.T) {
	svc, q, _ := newFixture(t)
	h := &catalog.Handler{Service: svc, Validator: common.NewValidator()}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(merchant.WithMerchant(req.Context(), merchant.Merchant{ID: "m-1", Active: true})))
		})
	})
	r.Post("/products", h.SaveProduct)
	r.Put("/products/{id}", h.SaveProduct)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"nombre":"Alfajor","precio":250,"precio_mayorista":"200","cantidad_mayorista":12}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, q.products, 4)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/products/pizza", strings.NewReader(`{"nombre":"Pizza grande","precio":1100,"toppings":["queso"]}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Pizza grande", q.products[1].Name)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"precio":10}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"nombre":"Solo mayorista","precio":10,"precio_mayorista":8}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_PRODUCT")
}
