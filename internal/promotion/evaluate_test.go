package promotion

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pedilo-api/internal/pricing"
)

// Tuesday 2026-10-20 12:00 UTC.
var tuesday = time.Date(2026, time.October, 20, 12, 0, 0, 0, time.UTC)

func money(v string) pricing.Money { return pricing.MustMoney(v) }

func line(productID string, qty int, price string) pricing.CartLine {
	return pricing.CartLine{ProductID: productID, Quantity: qty, UnitPriceRetail: money(price)}
}

func percentage(value string, minPurchase string) Promotion {
	return Promotion{
		Code:        "VERANO20",
		Active:      true,
		MinPurchase: money(minPurchase),
		Benefit:     Percentage{Percent: money(value)},
	}
}

func requireMoney(t *testing.T, want string, got pricing.Money) {
	t.Helper()
	require.Truef(t, got.Equal(money(want)), "expected %s, got %s", want, got)
}

func TestPercentageDiscount(t *testing.T) {
	res, err := Evaluate([]pricing.CartLine{line("a", 4, "250")}, percentage("20", "500"), tuesday)
	require.NoError(t, err)
	require.True(t, res.Eligible)
	require.Empty(t, res.Reason)
	requireMoney(t, "200", res.DiscountAmount)
}

func TestPercentageRoundsHalfUp(t *testing.T) {
	// 333 * 15% = 49.95
	res, err := Evaluate([]pricing.CartLine{line("a", 1, "333")}, percentage("15", "0"), tuesday)
	require.NoError(t, err)
	requireMoney(t, "50", res.DiscountAmount)
}

func TestPercentageAboveHundredIsCapped(t *testing.T) {
	res, err := Evaluate([]pricing.CartLine{line("a", 1, "300")}, percentage("150", "0"), tuesday)
	require.NoError(t, err)
	require.True(t, res.Eligible)
	requireMoney(t, "300", res.DiscountAmount)
}

func TestFixedAmountCappedAtSubtotal(t *testing.T) {
	p := Promotion{Code: "MENOS500", Active: true, Benefit: FixedAmount{Amount: money("500")}}
	res, err := Evaluate([]pricing.CartLine{line("a", 3, "100")}, p, tuesday)
	require.NoError(t, err)
	require.True(t, res.Eligible)
	requireMoney(t, "300", res.DiscountAmount)
}

func TestBelowMinimum(t *testing.T) {
	res, err := Evaluate([]pricing.CartLine{line("a", 4, "100")}, percentage("20", "500"), tuesday)
	require.NoError(t, err)
	require.False(t, res.Eligible)
	require.Equal(t, ReasonBelowMinimum, res.Reason)
	requireMoney(t, "0", res.DiscountAmount)
}

func TestBuyXPayYFreesCheapestUnits(t *testing.T) {
	p := Promotion{
		Code:    "3X2",
		Active:  true,
		Benefit: BuyXPayY{BuyX: 3, PayY: 2, ProductIDs: []string{"empanada", "pizza", "flan"}},
	}
	lines := []pricing.CartLine{
		line("pizza", 1, "150"),
		line("empanada", 3, "100"),
		line("flan", 1, "120"),
	}
	res, err := Evaluate(lines, p, tuesday)
	require.NoError(t, err)
	require.True(t, res.Eligible)
	requireMoney(t, "100", res.DiscountAmount)
}

func TestBuyXPayYMultipleGroups(t *testing.T) {
	p := Promotion{
		Code:    "4X2",
		Active:  true,
		Benefit: BuyXPayY{BuyX: 4, PayY: 2, ProductIDs: []string{"a", "b"}},
	}
	// 9 units -> 2 groups -> 4 free: 3 units at 50 + 1 at 70.
	lines := []pricing.CartLine{line("b", 6, "70"), line("a", 3, "50"), line("x", 10, "1")}
	res, err := Evaluate(lines, p, tuesday)
	require.NoError(t, err)
	requireMoney(t, "220", res.DiscountAmount)
}

func TestBuyXPayYUsesWholesalePriceAndIgnoresToppings(t *testing.T) {
	wholesale := money("80")
	minQty := 3
	p := Promotion{Code: "3X2", Active: true, Benefit: BuyXPayY{BuyX: 3, PayY: 2, ProductIDs: []string{"a"}}}
	lines := []pricing.CartLine{{
		ProductID:          "a",
		Quantity:           3,
		UnitPriceRetail:    money("100"),
		UnitPriceWholesale: &wholesale,
		WholesaleMinQty:    &minQty,
		Toppings:           []pricing.Topping{{ID: "queso", PriceExtra: money("30")}},
	}}
	res, err := Evaluate(lines, p, tuesday)
	require.NoError(t, err)
	requireMoney(t, "80", res.DiscountAmount)
}

func TestBuyXPayYInsufficientQuantity(t *testing.T) {
	p := Promotion{Code: "3X2", Active: true, Benefit: BuyXPayY{BuyX: 3, PayY: 2, ProductIDs: []string{"a"}}}
	res, err := Evaluate([]pricing.CartLine{line("a", 2, "100"), line("b", 5, "100")}, p, tuesday)
	require.NoError(t, err)
	require.False(t, res.Eligible)
	require.Equal(t, ReasonInsufficientQuantity, res.Reason)
}

func TestWeekdayGating(t *testing.T) {
	p := percentage("10", "0")
	p.Weekdays = []time.Weekday{WeekdayFromIndex(5), WeekdayFromIndex(6)}
	require.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, p.Weekdays)

	res, err := Evaluate([]pricing.CartLine{line("a", 1, "1000")}, p, tuesday)
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidWeekday, res.Reason)

	friday := time.Date(2026, time.October, 23, 9, 0, 0, 0, time.UTC)
	res, err = Evaluate([]pricing.CartLine{line("a", 1, "1000")}, p, friday)
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidWeekday, res.Reason)

	for _, day := range []time.Time{
		time.Date(2026, time.October, 24, 9, 0, 0, 0, time.UTC),
		time.Date(2026, time.October, 25, 9, 0, 0, 0, time.UTC),
	} {
		res, err = Evaluate([]pricing.CartLine{line("a", 1, "1000")}, p, day)
		require.NoError(t, err)
		require.True(t, res.Eligible, day.Weekday().String())
	}
}

func TestWeekdayIndexRoundTrip(t *testing.T) {
	require.Equal(t, time.Monday, WeekdayFromIndex(0))
	require.Equal(t, time.Sunday, WeekdayFromIndex(6))
	for i := 0; i < 7; i++ {
		require.Equal(t, i, WeekdayIndex(WeekdayFromIndex(i)))
	}
}

func TestWeekdayFollowsLocation(t *testing.T) {
	p := percentage("10", "0")
	p.Weekdays = []time.Weekday{time.Monday}
	// 02:00 UTC Tuesday is still Monday in Buenos Aires (UTC-3).
	loc := time.FixedZone("ART", -3*60*60)
	now := time.Date(2026, time.October, 20, 2, 0, 0, 0, time.UTC).In(loc)
	res, err := Evaluate([]pricing.CartLine{line("a", 1, "1000")}, p, now)
	require.NoError(t, err)
	require.True(t, res.Eligible)
}

func TestExpiryBoundary(t *testing.T) {
	p := percentage("10", "0")
	expires := tuesday
	p.ExpiresAt = &expires

	res, err := Evaluate([]pricing.CartLine{line("a", 1, "1000")}, p, tuesday)
	require.NoError(t, err)
	require.True(t, res.Eligible, "promotion must be valid at the exact expiry instant")

	res, err = Evaluate([]pricing.CartLine{line("a", 1, "1000")}, p, tuesday.Add(time.Nanosecond))
	require.NoError(t, err)
	require.Equal(t, ReasonExpired, res.Reason)
}

func TestUsageLimit(t *testing.T) {
	p := percentage("10", "0")
	limit := 5
	p.UsageLimit = &limit
	p.UsageCount = 4
	res, err := Evaluate([]pricing.CartLine{line("a", 1, "1000")}, p, tuesday)
	require.NoError(t, err)
	require.True(t, res.Eligible)

	p.UsageCount = 5
	res, err = Evaluate([]pricing.CartLine{line("a", 1, "1000")}, p, tuesday)
	require.NoError(t, err)
	require.Equal(t, ReasonUsageLimitReached, res.Reason)
}

func TestCheckOrderShortCircuits(t *testing.T) {
	expired := tuesday.Add(-time.Hour)
	limit := 1
	p := percentage("10", "5000")
	p.Active = false
	p.ExpiresAt = &expired
	p.UsageLimit = &limit
	p.UsageCount = 1
	p.Weekdays = []time.Weekday{time.Sunday}
	cart := []pricing.CartLine{line("a", 1, "100")}

	steps := []struct {
		reason Reason
		fix    func(*Promotion)
	}{
		{ReasonInactive, func(p *Promotion) { p.Active = true }},
		{ReasonExpired, func(p *Promotion) { p.ExpiresAt = nil }},
		{ReasonUsageLimitReached, func(p *Promotion) { p.UsageLimit = nil }},
		{ReasonInvalidWeekday, func(p *Promotion) { p.Weekdays = nil }},
		{ReasonBelowMinimum, func(p *Promotion) { p.MinPurchase = decimal.Zero }},
	}
	for _, step := range steps {
		res, err := Evaluate(cart, p, tuesday)
		require.NoError(t, err)
		require.Equal(t, step.reason, res.Reason)
		require.False(t, res.Eligible)
		require.True(t, res.DiscountAmount.IsZero())
		step.fix(&p)
	}
	res, err := Evaluate(cart, p, tuesday)
	require.NoError(t, err)
	require.True(t, res.Eligible)
}

func TestMalformedInputFailsHard(t *testing.T) {
	cart := []pricing.CartLine{line("a", 3, "100")}
	cases := map[string]Promotion{
		"missing products":  {Code: "X", Active: true, Benefit: BuyXPayY{BuyX: 3, PayY: 2}},
		"pay not below buy": {Code: "X", Active: true, Benefit: BuyXPayY{BuyX: 3, PayY: 3, ProductIDs: []string{"a"}}},
		"buy below two":     {Code: "X", Active: true, Benefit: BuyXPayY{BuyX: 1, PayY: 1, ProductIDs: []string{"a"}}},
		"no benefit":        {Code: "X", Active: true},
		"missing code":      {Active: true, Benefit: FixedAmount{Amount: money("10")}},
		"negative fixed":    {Code: "X", Active: true, Benefit: FixedAmount{Amount: money("-1")}},
		"bad weekday":       {Code: "X", Active: true, Weekdays: []time.Weekday{7}, Benefit: FixedAmount{Amount: money("1")}},
	}
	for name, p := range cases {
		_, err := Evaluate(cart, p, tuesday)
		require.Truef(t, errors.Is(err, ErrMalformed), "%s: expected ErrMalformed, got %v", name, err)
	}

	_, err := Evaluate([]pricing.CartLine{line("a", -1, "100")}, percentage("10", "0"), tuesday)
	require.ErrorIs(t, err, ErrMalformed)

	// Malformed input is reported even when the promotion would be inactive.
	inactive := Promotion{Code: "X", Benefit: BuyXPayY{BuyX: 2, PayY: 1}}
	_, err = Evaluate(cart, inactive, tuesday)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	p := Promotion{Code: "3X2", Active: true, Benefit: BuyXPayY{BuyX: 3, PayY: 2, ProductIDs: []string{"a", "b"}}}
	cart := []pricing.CartLine{line("a", 4, "90"), line("b", 4, "60")}
	first, err := Evaluate(cart, p, tuesday)
	require.NoError(t, err)
	second, err := Evaluate(cart, p, tuesday)
	require.NoError(t, err)
	require.Equal(t, first.Eligible, second.Eligible)
	require.True(t, first.DiscountAmount.Equal(second.DiscountAmount))
}

func TestDiscountNeverExceedsSubtotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	products := []string{"a", "b", "c", "d"}
	promos := []Promotion{
		{Code: "P", Active: true, Benefit: Percentage{Percent: decimal.NewFromInt(120)}},
		{Code: "F", Active: true, Benefit: FixedAmount{Amount: money("700")}},
		{Code: "B", Active: true, Benefit: BuyXPayY{BuyX: 2, PayY: 1, ProductIDs: []string{"a", "c"}}},
	}
	for i := 0; i < 500; i++ {
		var cart []pricing.CartLine
		for n := rng.Intn(5); n > 0; n-- {
			cart = append(cart, line(products[rng.Intn(len(products))], 1+rng.Intn(6), decimal.NewFromInt(int64(rng.Intn(400))).String()))
		}
		subtotal := pricing.CartSubtotal(cart)
		for _, p := range promos {
			res, err := Evaluate(cart, p, tuesday)
			require.NoError(t, err)
			require.False(t, res.DiscountAmount.IsNegative())
			require.False(t, res.DiscountAmount.GreaterThan(subtotal))
		}
	}
}

func TestFieldsRoundTripPreservesVariant(t *testing.T) {
	b := BuyXPayY{BuyX: 3, PayY: 2, ProductIDs: []string{"a"}}
	rebuilt, err := FieldsOf(b).Benefit()
	require.NoError(t, err)
	require.Equal(t, b, rebuilt)

	_, err = Fields{Kind: "bogo"}.Benefit()
	require.ErrorIs(t, err, ErrMalformed)
}
