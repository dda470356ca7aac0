package merchant_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/obs"
)

type stubQuerier struct {
	bySlug map[string]merchant.Merchant
}

func (s stubQuerier) GetMerchantBySlug(_ context.Context, slug string) (merchant.Merchant, error) {
	m, ok := s.bySlug[slug]
	if !ok {
		return merchant.Merchant{}, merchant.ErrNotFound
	}
	return m, nil
}

func (s stubQuerier) GetMerchantByID(_ context.Context, id string) (merchant.Merchant, error) {
	for _, m := range s.bySlug {
		if m.ID == id {
			return m, nil
		}
	}
	return merchant.Merchant{}, merchant.ErrNotFound
}

func newRouter(q merchant.Querier) http.Handler {
	resolver := merchant.NewResolver(q, "", zerolog.Nop())
	r := chi.NewRouter()
	r.With(resolver.BySlug).Get("/{merchant}/menu", func(w http.ResponseWriter, r *http.Request) {
		m, ok := merchant.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(m.ID))
	})
	return r
}

func TestResolverBySlug(t *testing.T) {
	q := stubQuerier{bySlug: map[string]merchant.Merchant{
		"la-esquina": {ID: "m-1", Slug: "la-esquina", Active: true},
		"cerrado":    {ID: "m-2", Slug: "cerrado", Active: false},
	}}
	router := newRouter(q)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/La-Esquina/menu", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "m-1" {
		t.Fatalf("expected merchant m-1, got %d %q", rec.Code, rec.Body.String())
	}

	for _, path := range []string{"/cerrado/menu", "/nadie/menu"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestResolverTagsRequestInfo(t *testing.T) {
	router := newRouter(stubQuerier{bySlug: map[string]merchant.Merchant{
		"la-esquina": {ID: "m-1", Slug: "la-esquina", Active: true},
	}})
	req := httptest.NewRequest(http.MethodGet, "/la-esquina/menu", nil)
	ctx, info := obs.WithRequestInfo(req.Context())
	router.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	id, slug := info.Merchant()
	if id != "m-1" || slug != "la-esquina" {
		t.Fatalf("expected m-1/la-esquina on the request info, got %q/%q", id, slug)
	}
}

func TestResolverByAccount(t *testing.T) {
	q := stubQuerier{bySlug: map[string]merchant.Merchant{"x": {ID: "m-1", Slug: "x", Active: true}}}
	resolver := merchant.NewResolver(q, "", zerolog.Nop())
	handler := resolver.ByAccount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, _ := merchant.FromContext(r.Context())
		_, _ = w.Write([]byte(m.Slug))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(common.WithMerchantID(req.Context(), "m-1"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "x" {
		t.Fatalf("expected merchant x, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestPolicyMinimumOrder(t *testing.T) {
	policy := merchant.Policy{Defaults: map[merchant.BusinessType]decimal.Decimal{
		merchant.BusinessWholesale: decimal.NewFromInt(5000),
	}}
	own := decimal.NewFromInt(1200)

	if got := policy.MinimumOrder(merchant.Merchant{BusinessType: merchant.BusinessWholesale, MinOrderAmount: &own}); !got.Equal(own) {
		t.Fatalf("expected merchant override 1200, got %s", got)
	}
	if got := policy.MinimumOrder(merchant.Merchant{BusinessType: merchant.BusinessWholesale}); !got.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected wholesale default 5000, got %s", got)
	}
	if got := policy.MinimumOrder(merchant.Merchant{BusinessType: merchant.BusinessRestaurant}); !got.IsZero() {
		t.Fatalf("expected no minimum, got %s", got)
	}

	m := merchant.Merchant{BusinessType: merchant.BusinessWholesale}
	if got := policy.Shortfall(m, decimal.NewFromInt(4200)); !got.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("expected shortfall 800, got %s", got)
	}
	if got := policy.Shortfall(m, decimal.NewFromInt(5000)); !got.IsZero() {
		t.Fatalf("expected no shortfall at the minimum, got %s", got)
	}
}

func TestLocationFallback(t *testing.T) {
	m := merchant.Merchant{Timezone: "America/Argentina/Buenos_Aires"}
	if loc := m.Location(nil); loc.String() != "America/Argentina/Buenos_Aires" {
		t.Fatalf("unexpected location %s", loc)
	}
	fallback := time.FixedZone("ART", -3*3600)
	if loc := (merchant.Merchant{Timezone: "Nowhere/Invalid"}).Location(fallback); loc != fallback {
		t.Fatalf("expected fallback zone, got %s", loc)
	}
	if loc := (merchant.Merchant{}).Location(nil); loc != time.UTC {
		t.Fatalf("expected UTC, got %s", loc)
	}
}
