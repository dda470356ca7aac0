package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	status := http.StatusCreated
	calls := 0
	h := Idem{R: rdb, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	send := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Idempotency-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusCreated, send("/api/v1/tacos/orders", "k1"))
	require.Equal(t, http.StatusConflict, send("/api/v1/tacos/orders", "k1"))
	require.Equal(t, http.StatusCreated, send("/api/v1/pizza/orders", "k1"))
	require.Equal(t, 2, calls)

	status = http.StatusInternalServerError
	require.Equal(t, http.StatusInternalServerError, send("/api/v1/tacos/orders", "k2"))
	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, send("/api/v1/tacos/orders", "k2"))

	status = http.StatusUnprocessableEntity
	require.Equal(t, http.StatusUnprocessableEntity, send("/api/v1/tacos/orders", "k3"))
	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, send("/api/v1/tacos/orders", "k3"))
	require.Equal(t, http.StatusConflict, send("/api/v1/tacos/orders", "k3"))
	require.Equal(t, 6, calls)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	calls := 0
	h := Idem{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	require.Equal(t, 2, calls)
}

type sample struct {
	Name  string `json:"nombre" validate:"required"`
	Inner struct {
		Mode string `json:"modo" validate:"oneof=pickup delivery"`
	} `json:"entrega"`
}

func TestDecodeJSONReportsFieldPaths(t *testing.T) {
	v := NewValidator()

	var dst sample
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"entrega":{"modo":"drone"}}`))
	err := DecodeJSON(req, v, &dst)
	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	fields := appErr.Details.(map[string]any)["fields"].(map[string]string)
	require.Equal(t, "required", fields["nombre"])
	require.Equal(t, "oneof", fields["entrega.modo"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	err = DecodeJSON(req, v, &dst)
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "BAD_REQUEST", appErr.Code)
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	appErr := NewAppError("BELOW_MINIMUM_ORDER", "below minimum", http.StatusUnprocessableEntity, nil)
	appErr.Details = map[string]any{"faltante": "5"}
	WriteError(rec, appErr)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "BELOW_MINIMUM_ORDER", body.Error.Code)

	rec = httptest.NewRecorder()
	WriteError(rec, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	require.Equal(t, "10.0.0.9", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	require.Equal(t, "198.51.100.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "unknown, 203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "::ffff:192.0.2.1")
	require.Equal(t, "192.0.2.1", ClientIP(req))
}

func TestParsePage(t *testing.T) {
	page := ParsePage(httptest.NewRequest(http.MethodGet, "/?page=3&limit=15", nil), 20, 100)
	require.Equal(t, Page{Number: 3, Size: 15}, page)
	require.Equal(t, 30, page.Offset())
	require.Equal(t, Pagination{Page: 3, PerPage: 15, TotalItems: 31, TotalPages: 3}, NewPagination(page, 31))

	page = ParsePage(httptest.NewRequest(http.MethodGet, "/?page=-1&limit=500", nil), 20, 100)
	require.Equal(t, Page{Number: 1, Size: 100}, page)

	page = ParsePage(httptest.NewRequest(http.MethodGet, "/?limit=abc", nil), 20, 100)
	require.Equal(t, Page{Number: 1, Size: 20}, page)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=250&offset=-4&n=7", nil)
	require.Equal(t, 50, QueryInt(req, "limit", 50, 1, 200))
	require.Equal(t, 0, QueryInt(req, "offset", 0, 0, 1000))
	require.Equal(t, 7, QueryInt(req, "n", 1, 1, 10))
	require.Equal(t, 9, QueryInt(req, "missing", 9, 1, 10))
}
