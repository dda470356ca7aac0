package merchant

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/pricing"
)

// Policy holds the minimum order defaults per business type.
type Policy struct {
	Defaults map[BusinessType]pricing.Money
}

// MinimumOrder returns the smallest subtotal the merchant accepts.
func (p Policy) MinimumOrder(m Merchant) pricing.Money {
	if m.MinOrderAmount != nil && !m.MinOrderAmount.IsNegative() {
		return *m.MinOrderAmount
	}
	if v, ok := p.Defaults[m.BusinessType]; ok && !v.IsNegative() {
		return v
	}
	return decimal.Zero
}

// Shortfall returns how much is missing for subtotal to reach the minimum order.
// It is zero when the order qualifies.
func (p Policy) Shortfall(m Merchant, subtotal pricing.Money) pricing.Money {
	missing := p.MinimumOrder(m).Sub(subtotal)
	if missing.IsPositive() {
		return missing
	}
	return decimal.Zero
}
