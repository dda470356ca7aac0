package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/order"
	"github.com/noah-isme/pedilo-api/internal/promotion"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/pedilo", migrateURL("postgres://u:p@db:5432/pedilo"))
	require.Equal(t, "pgx5://db/pedilo?sslmode=disable", migrateURL("postgresql://db/pedilo?sslmode=disable"))
	require.Equal(t, "pgx5://db/pedilo", migrateURL("pgx5://db/pedilo"))
}

func TestIntPointers(t *testing.T) {
	require.Nil(t, intPtr(nil))
	require.Nil(t, int32Ptr(nil))
	v := int32(7)
	require.Equal(t, 7, *intPtr(&v))
	n := 9
	require.Equal(t, int32(9), *int32Ptr(&n))
	require.Nil(t, nullableText(""))
	require.Equal(t, "x", *nullableText("x"))
}

func openTestDB(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("PEDILO_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PEDILO_TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(url))
	db, err := Open(context.Background(), url, Options{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestPostgresRedemptionRespectsLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m, err := db.UpsertMerchant(ctx, merchant.Merchant{
		ID: uuid.NewString(), Slug: "it-" + uuid.NewString()[:8], Name: "Integration",
		BusinessType: merchant.BusinessRestaurant, Active: true,
	})
	require.NoError(t, err)
	_, err = db.UpsertProduct(ctx, catalog.Product{
		ID: "burger", MerchantID: m.ID, Name: "Burger", PriceRetail: decimal.NewFromInt(10), Active: true,
	})
	require.NoError(t, err)

	limit := 2
	p, err := db.CreatePromotion(ctx, promotion.Promotion{
		ID: uuid.NewString(), MerchantID: m.ID, Code: "duo", Active: true, UsageLimit: &limit,
		Weekdays: []time.Weekday{time.Monday, time.Friday},
		Benefit:  promotion.Percentage{Percent: decimal.NewFromInt(10)},
	})
	require.NoError(t, err)
	require.Equal(t, "DUO", p.Code)
	require.Equal(t, []time.Weekday{time.Monday, time.Friday}, p.Weekdays)

	_, err = db.CreatePromotion(ctx, promotion.Promotion{
		ID: uuid.NewString(), MerchantID: m.ID, Code: "Duo", Active: true,
		Benefit: promotion.FixedAmount{Amount: decimal.NewFromInt(1)},
	})
	require.ErrorIs(t, err, promotion.ErrDuplicateCode)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := order.Order{
				ID: uuid.NewString(), MerchantID: m.ID, TrackingCode: order.NewTrackingCode(), Status: order.StatusPending,
				Customer: order.Customer{Name: "Ana", Phone: "555"}, Delivery: order.Delivery{Mode: order.DeliveryPickup},
				Items:    []order.Item{{ProductID: "burger", Name: "Burger", Quantity: 1, UnitPrice: decimal.NewFromInt(10), LineTotal: decimal.NewFromInt(10)}},
				Subtotal: decimal.NewFromInt(10), Discount: decimal.NewFromInt(1), Total: decimal.NewFromInt(9),
				CouponCode: p.Code, PromotionID: p.ID,
			}
			_, err := db.CreateOrder(ctx, o, &order.Redemption{PromotionID: p.ID, Code: p.Code, Amount: o.Discount})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			require.ErrorIs(t, err, promotion.ErrUsageLimitReached)
		}()
	}
	wg.Wait()
	require.Equal(t, 2, accepted)

	stored, err := db.GetPromotion(ctx, m.ID, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.UsageCount)

	orders, total, err := db.ListOrders(ctx, m.ID, order.ListFilter{Status: order.StatusPending, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, orders, 2)

	_, err = db.UpdateOrderStatus(ctx, m.ID, orders[0].ID, order.StatusConfirmed, order.StatusPreparing)
	require.ErrorIs(t, err, order.ErrStaleStatus)
	_, err = db.UpdateOrderStatus(ctx, m.ID, "missing", order.StatusPending, order.StatusConfirmed)
	require.ErrorIs(t, err, order.ErrNotFound)
	updated, err := db.UpdateOrderStatus(ctx, m.ID, orders[0].ID, order.StatusPending, order.StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, order.StatusConfirmed, updated.Status)
}
