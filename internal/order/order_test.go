package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/events"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/pricing"
)

type memOrders struct {
	items map[string]Order
}

func newMemOrders(orders ...Order) *memOrders {
	q := &memOrders{items: map[string]Order{}}
	for _, o := range orders {
		q.items[o.ID] = o
	}
	return q
}

func (q *memOrders) CreateOrder(_ context.Context, o Order, _ *Redemption) (Order, error) {
	q.items[o.ID] = o
	return o, nil
}

func (q *memOrders) GetOrder(_ context.Context, merchantID, id string) (Order, error) {
	o, ok := q.items[id]
	if !ok || o.MerchantID != merchantID {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (q *memOrders) GetOrderByTrackingCode(_ context.Context, merchantID, code string) (Order, error) {
	for _, o := range q.items {
		if o.MerchantID == merchantID && o.TrackingCode == code {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

func (q *memOrders) ListOrders(_ context.Context, merchantID string, f ListFilter) ([]Order, int, error) {
	var out []Order
	for _, o := range q.items {
		if o.MerchantID == merchantID && (f.Status == "" || o.Status == f.Status) {
			out = append(out, o)
		}
	}
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (q *memOrders) UpdateOrderStatus(_ context.Context, merchantID, id string, from, to Status) (Order, error) {
	o, ok := q.items[id]
	if !ok || o.MerchantID != merchantID {
		return Order{}, ErrNotFound
	}
	if o.Status != from {
		return Order{}, ErrStaleStatus
	}
	o.Status = to
	q.items[id] = o
	return o, nil
}

type emitted struct {
	topic, merchantID, aggregateID string
	payload                        any
}

type captureEmitter struct {
	events []emitted
}

func (c *captureEmitter) Emit(_ context.Context, topic, merchantID, aggregateID string, payload any) (events.Event, error) {
	c.events = append(c.events, emitted{topic, merchantID, aggregateID, payload})
	return events.Event{Topic: topic}, nil
}

func sampleOrder(id, code string, status Status) Order {
	return Order{
		ID:           id,
		MerchantID:   "m-1",
		TrackingCode: code,
		Status:       status,
		Customer:     Customer{Name: "Ana", Phone: "+54 11 5555 0000"},
		Delivery:     Delivery{Mode: DeliveryDelivery, Address: "Calle Falsa 123"},
		Items: []Item{{
			ProductID: "pizza", Name: "Pizza", Quantity: 2,
			UnitPrice: decimal.NewFromInt(900), LineTotal: decimal.NewFromInt(2100),
			Toppings: []pricing.Topping{{ID: "queso", PriceExtra: decimal.NewFromInt(150)}},
		}},
		Subtotal:  decimal.NewFromInt(2100),
		Discount:  decimal.NewFromInt(210),
		Total:     decimal.NewFromInt(1890),
		CreatedAt: time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC),
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusConfirmed},
		{StatusConfirmed, StatusPreparing},
		{StatusPreparing, StatusReady},
		{StatusReady, StatusDelivered},
		{StatusPending, StatusCancelled},
		{StatusReady, StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc[0], tc[1]) {
			t.Fatalf("expected %s -> %s to be allowed", tc[0], tc[1])
		}
	}
	denied := [][2]Status{
		{StatusPending, StatusReady},
		{StatusConfirmed, StatusPending},
		{StatusDelivered, StatusCancelled},
		{StatusCancelled, StatusPending},
		{StatusPending, StatusPending},
		{StatusPending, "shipped"},
	}
	for _, tc := range denied {
		if CanTransition(tc[0], tc[1]) {
			t.Fatalf("expected %s -> %s to be rejected", tc[0], tc[1])
		}
	}
}

func TestTrackingCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^PD-[0-9A-HJKMNP-TV-Z]{8}$`)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code := NewTrackingCode()
		require.Regexp(t, pattern, code)
		require.False(t, seen[code], "duplicate tracking code %s", code)
		seen[code] = true
	}
	require.Equal(t, "PD-7K2M9QXA", NormalizeTrackingCode(" pd-7k2m9qxa "))
	require.Equal(t, "PD-7K2M9QXA", NormalizeTrackingCode("7k2m9qxa"))
	require.Empty(t, NormalizeTrackingCode("  "))
}

func TestItemsFromLines(t *testing.T) {
	minQty := 6
	wholesale := decimal.NewFromInt(80)
	items := ItemsFromLines([]pricing.CartLine{{
		ProductID: "empanada", Name: "Empanada", Quantity: 6,
		UnitPriceRetail: decimal.NewFromInt(100), UnitPriceWholesale: &wholesale, WholesaleMinQty: &minQty,
	}})
	require.Len(t, items, 1)
	require.True(t, items[0].UnitPrice.Equal(decimal.NewFromInt(80)))
	require.True(t, items[0].LineTotal.Equal(decimal.NewFromInt(480)))
}

func TestUpdateStatusEmitsEvent(t *testing.T) {
	q := newMemOrders(sampleOrder("o-1", "PD-AAAA0000", StatusPending))
	emitter := &captureEmitter{}
	svc := &Service{Q: q, Events: emitter, Logger: zerolog.Nop()}
	ctx := context.Background()

	updated, err := svc.UpdateStatus(ctx, "m-1", "o-1", " Confirmed ")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, updated.Status)
	require.Len(t, emitter.events, 1)
	require.Equal(t, events.TopicOrderStatusChanged, emitter.events[0].topic)
	require.Equal(t, "o-1", emitter.events[0].aggregateID)
	require.Equal(t, StatusChange{OrderID: "o-1", TrackingCode: "PD-AAAA0000", From: StatusPending, To: StatusConfirmed}, emitter.events[0].payload)

	_, err = svc.UpdateStatus(ctx, "m-1", "o-1", StatusDelivered)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.UpdateStatus(ctx, "m-1", "o-1", "shipped")
	require.ErrorIs(t, err, ErrInvalidStatus)
	_, err = svc.UpdateStatus(ctx, "m-2", "o-1", StatusPreparing)
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, emitter.events, 1)
}

func newTestRouter(q Querier) http.Handler {
	h := &Handler{Svc: &Service{Q: q, Logger: zerolog.Nop()}, Validator: common.NewValidator()}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(merchant.WithMerchant(req.Context(), merchant.Merchant{ID: "m-1", Slug: "la-esquina", Active: true})))
		})
	})
	r.Get("/orders/{code}", h.Track)
	r.Get("/dashboard/orders", h.List)
	r.Patch("/dashboard/orders/{id}/status", h.UpdateStatus)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestTrackHandlerHidesCustomer(t *testing.T) {
	router := newTestRouter(newMemOrders(sampleOrder("o-1", "PD-AAAA0000", StatusPreparing)))

	rec := serve(router, http.MethodGet, "/orders/pd-aaaa0000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PD-AAAA0000", body.Data["codigo_seguimiento"])
	require.Equal(t, "preparing", body.Data["estado"])
	require.Equal(t, 1890.0, body.Data["total"])
	require.NotContains(t, body.Data, "cliente")
	require.NotContains(t, rec.Body.String(), "Calle Falsa")

	rec = serve(router, http.MethodGet, "/orders/PD-ZZZZ9999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardOrderHandlers(t *testing.T) {
	router := newTestRouter(newMemOrders(
		sampleOrder("o-1", "PD-AAAA0000", StatusPending),
		sampleOrder("o-2", "PD-BBBB1111", StatusDelivered),
	))

	rec := serve(router, http.MethodGet, "/dashboard/orders?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data       []View            `json:"data"`
		Pagination common.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, "o-1", list.Data[0].ID)
	require.Equal(t, "Ana", list.Data[0].Customer.Name)
	require.Equal(t, 1, list.Pagination.TotalItems)
	require.Equal(t, 1, list.Pagination.TotalPages)

	rec = serve(router, http.MethodGet, "/dashboard/orders?status=lost", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(router, http.MethodPatch, "/dashboard/orders/o-1/status", `{"estado":"confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"estado":"confirmed"`)

	rec = serve(router, http.MethodPatch, "/dashboard/orders/o-2/status", `{"estado":"cancelled"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(router, http.MethodPatch, "/dashboard/orders/o-1/status", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(router, http.MethodPatch, "/dashboard/orders/o-9/status", `{"estado":"ready"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
