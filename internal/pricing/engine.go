package pricing

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary amount. Values are kept unrounded until display.
type Money = decimal.Decimal

// Topping is an extra attached to a cart line, charged per unit.
type Topping struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	PriceExtra Money  `json:"priceExtra"`
}

// CartLine describes a product in the cart together with its price book.
type CartLine struct {
	ProductID          string    `json:"productId"`
	Name               string    `json:"name,omitempty"`
	Quantity           int       `json:"quantity"`
	UnitPriceRetail    Money     `json:"unitPriceRetail"`
	UnitPriceWholesale *Money    `json:"unitPriceWholesale,omitempty"`
	WholesaleMinQty    *int      `json:"wholesaleMinQty,omitempty"`
	Toppings           []Topping `json:"toppings,omitempty"`
}

// Summary aggregates the checkout totals.
type Summary struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Total    Money `json:"total"`
}

// WholesaleApplies reports whether the wholesale price governs the line.
func WholesaleApplies(line CartLine) bool {
	return line.WholesaleMinQty != nil &&
		line.UnitPriceWholesale != nil &&
		line.Quantity >= *line.WholesaleMinQty
}

// EffectiveUnitPrice returns the per-unit product price after the wholesale threshold.
func EffectiveUnitPrice(line CartLine) Money {
	if WholesaleApplies(line) {
		return *line.UnitPriceWholesale
	}
	return line.UnitPriceRetail
}

// ToppingsPerUnit sums the topping extras charged on every unit of the line.
func ToppingsPerUnit(line CartLine) Money {
	extras := decimal.Zero
	for _, t := range line.Toppings {
		extras = extras.Add(t.PriceExtra)
	}
	return extras
}

// LineTotal prices a line: effective unit price plus full-rate toppings, times quantity.
func LineTotal(line CartLine) Money {
	qty := decimal.NewFromInt(int64(line.Quantity))
	return EffectiveUnitPrice(line).Mul(qty).Add(ToppingsPerUnit(line).Mul(qty))
}

// CartSubtotal sums every line total. An empty cart is worth zero.
func CartSubtotal(lines []CartLine) Money {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(LineTotal(line))
	}
	return subtotal
}

// Compute derives the checkout summary. The discount is clamped to [0, subtotal]
// so the total can never go negative.
func Compute(lines []CartLine, discount Money) Summary {
	subtotal := CartSubtotal(lines)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Summary{Subtotal: subtotal, Discount: discount, Total: total}
}

// Display rounds an amount half-up to whole currency units.
func Display(m Money) Money {
	return m.Round(0)
}

// Format renders an amount for humans, e.g. 12345.6 -> "$12.346".
func Format(m Money) string {
	rounded := Display(m)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	digits := rounded.StringFixed(0)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String()
}

// MustMoney parses a decimal literal and panics when it is invalid. Intended for
// constants and tests.
func MustMoney(value string) Money {
	m, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return m
}

// Whole returns the display amount as an integer number of currency units.
func Whole(m Money) int64 {
	return Display(m).IntPart()
}

// FromInt builds a Money from a whole amount.
func FromInt(v int64) Money {
	return decimal.NewFromInt(v)
}

// Number renders an exact amount as a JSON number.
func Number(m Money) json.Number {
	return json.Number(m.String())
}
