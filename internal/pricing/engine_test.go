package pricing

import (
	"testing"
)

func intPtr(v int) *int { return &v }

func moneyPtr(v string) *Money {
	m := MustMoney(v)
	return &m
}

func assertMoney(t *testing.T, want string, got Money) {
	t.Helper()
	if !got.Equal(MustMoney(want)) {
		t.Fatalf("expected %s, got %s", want, got.String())
	}
}

func TestWholesaleSwitchesAtThreshold(t *testing.T) {
	line := CartLine{
		ProductID:          "p1",
		UnitPriceRetail:    MustMoney("100"),
		UnitPriceWholesale: moneyPtr("80"),
		WholesaleMinQty:    intPtr(6),
	}

	line.Quantity = 5
	assertMoney(t, "100", EffectiveUnitPrice(line))

	line.Quantity = 6
	assertMoney(t, "80", EffectiveUnitPrice(line))
	assertMoney(t, "480", LineTotal(line))

	line.Quantity = 7
	assertMoney(t, "80", EffectiveUnitPrice(line))
}

func TestWholesaleNeedsBothPriceAndThreshold(t *testing.T) {
	noThreshold := CartLine{Quantity: 50, UnitPriceRetail: MustMoney("100"), UnitPriceWholesale: moneyPtr("80")}
	assertMoney(t, "100", EffectiveUnitPrice(noThreshold))

	noPrice := CartLine{Quantity: 50, UnitPriceRetail: MustMoney("100"), WholesaleMinQty: intPtr(1)}
	assertMoney(t, "100", EffectiveUnitPrice(noPrice))
}

func TestLineTotalChargesToppingsAtFullRate(t *testing.T) {
	line := CartLine{
		Quantity:           6,
		UnitPriceRetail:    MustMoney("100"),
		UnitPriceWholesale: moneyPtr("80"),
		WholesaleMinQty:    intPtr(6),
		Toppings: []Topping{
			{ID: "cheese", PriceExtra: MustMoney("15")},
			{ID: "bacon", PriceExtra: MustMoney("5")},
		},
	}
	// 80*6 + (15+5)*6
	assertMoney(t, "600", LineTotal(line))
}

func TestCartSubtotal(t *testing.T) {
	assertMoney(t, "0", CartSubtotal(nil))

	lines := []CartLine{
		{ProductID: "a", Quantity: 2, UnitPriceRetail: MustMoney("250")},
		{ProductID: "b", Quantity: 1, UnitPriceRetail: MustMoney("99.5")},
	}
	assertMoney(t, "599.5", CartSubtotal(lines))
}

func TestComputeClampsDiscount(t *testing.T) {
	lines := []CartLine{{ProductID: "a", Quantity: 3, UnitPriceRetail: MustMoney("100")}}

	s := Compute(lines, MustMoney("500"))
	assertMoney(t, "300", s.Subtotal)
	assertMoney(t, "300", s.Discount)
	assertMoney(t, "0", s.Total)

	s = Compute(lines, MustMoney("-10"))
	assertMoney(t, "0", s.Discount)
	assertMoney(t, "300", s.Total)

	s = Compute(nil, MustMoney("100"))
	assertMoney(t, "0", s.Total)
}

func TestDisplayRoundsHalfUp(t *testing.T) {
	assertMoney(t, "13", Display(MustMoney("12.5")))
	assertMoney(t, "12", Display(MustMoney("12.49")))
	if Whole(MustMoney("199.5")) != 200 {
		t.Fatalf("expected 200, got %d", Whole(MustMoney("199.5")))
	}
}

func TestFormat(t *testing.T) {
	cases := map[string]string{
		"0":       "$0",
		"999":     "$999",
		"1000":    "$1.000",
		"12345.6": "$12.346",
		"1234567": "$1.234.567",
		"-2500.4": "-$2.500",
	}
	for in, want := range cases {
		if got := Format(MustMoney(in)); got != want {
			t.Fatalf("Format(%s) = %q, want %q", in, got, want)
		}
	}
}
