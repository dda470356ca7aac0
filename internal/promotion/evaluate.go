package promotion

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/pricing"
)

var hundred = decimal.NewFromInt(100)

// Evaluate decides whether p applies to the cart at instant now and how much it
// takes off. Checks run in a fixed order and the first failure wins. Only
// malformed input produces an error; business ineligibility is reported through
// DiscountResult.Reason. The weekday is taken from now's location.
func Evaluate(lines []pricing.CartLine, p Promotion, now time.Time) (DiscountResult, error) {
	if err := p.Validate(); err != nil {
		return DiscountResult{}, err
	}
	if err := ValidateLines(lines); err != nil {
		return DiscountResult{}, err
	}

	if !p.Active {
		return ineligible(ReasonInactive), nil
	}
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return ineligible(ReasonExpired), nil
	}
	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return ineligible(ReasonUsageLimitReached), nil
	}
	if len(p.Weekdays) > 0 && !slices.Contains(p.Weekdays, now.Weekday()) {
		return ineligible(ReasonInvalidWeekday), nil
	}
	subtotal := pricing.CartSubtotal(lines)
	if subtotal.LessThan(p.MinPurchase) {
		return ineligible(ReasonBelowMinimum), nil
	}

	amount, reason := p.Benefit.discount(lines, subtotal)
	if reason != "" {
		return ineligible(reason), nil
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return DiscountResult{Eligible: true, DiscountAmount: amount}, nil
}

// ValidateLines rejects cart lines no storefront could have produced.
func ValidateLines(lines []pricing.CartLine) error {
	for i, line := range lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("line %d: quantity %d must be positive: %w", i, line.Quantity, ErrMalformed)
		}
		if line.UnitPriceRetail.IsNegative() {
			return fmt.Errorf("line %d: negative retail price: %w", i, ErrMalformed)
		}
		if line.UnitPriceWholesale != nil && line.UnitPriceWholesale.IsNegative() {
			return fmt.Errorf("line %d: negative wholesale price: %w", i, ErrMalformed)
		}
		if line.WholesaleMinQty != nil && *line.WholesaleMinQty <= 0 {
			return fmt.Errorf("line %d: wholesale threshold must be positive: %w", i, ErrMalformed)
		}
		for _, t := range line.Toppings {
			if t.PriceExtra.IsNegative() {
				return fmt.Errorf("line %d: topping %s has negative price: %w", i, t.ID, ErrMalformed)
			}
		}
	}
	return nil
}

func ineligible(reason Reason) DiscountResult {
	return DiscountResult{Eligible: false, DiscountAmount: decimal.Zero, Reason: reason}
}

func (b Percentage) discount(_ []pricing.CartLine, subtotal pricing.Money) (pricing.Money, Reason) {
	return subtotal.Mul(b.Percent).Div(hundred).Round(0), ""
}

func (b FixedAmount) discount(_ []pricing.CartLine, subtotal pricing.Money) (pricing.Money, Reason) {
	return decimal.Min(b.Amount, subtotal), ""
}

// discount hands out the free units starting with the cheapest eligible ones.
// Toppings are never part of a free unit's value.
func (b BuyXPayY) discount(lines []pricing.CartLine, _ pricing.Money) (pricing.Money, Reason) {
	type bucket struct {
		price pricing.Money
		qty   int
	}
	var (
		buckets []bucket
		units   int
	)
	for _, line := range lines {
		if !slices.Contains(b.ProductIDs, line.ProductID) {
			continue
		}
		units += line.Quantity
		buckets = append(buckets, bucket{price: pricing.EffectiveUnitPrice(line), qty: line.Quantity})
	}
	if units < b.BuyX {
		return decimal.Zero, ReasonInsufficientQuantity
	}

	free := (units / b.BuyX) * (b.BuyX - b.PayY)
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].price.LessThan(buckets[j].price)
	})
	total := decimal.Zero
	for _, bk := range buckets {
		if free == 0 {
			break
		}
		take := min(free, bk.qty)
		total = total.Add(bk.price.Mul(decimal.NewFromInt(int64(take))))
		free -= take
	}
	return total, ""
}
