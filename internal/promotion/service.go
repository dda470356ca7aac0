package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/obs"
	"github.com/noah-isme/pedilo-api/internal/pricing"
)

// Querier persists promotions. Codes are stored normalised.
type Querier interface {
	GetPromotionByCode(ctx context.Context, merchantID, code string) (Promotion, error)
	GetPromotion(ctx context.Context, merchantID, id string) (Promotion, error)
	ListPromotions(ctx context.Context, merchantID string) ([]Promotion, error)
	CreatePromotion(ctx context.Context, p Promotion) (Promotion, error)
	UpdatePromotion(ctx context.Context, p Promotion) (Promotion, error)
	SetPromotionActive(ctx context.Context, merchantID, id string, active bool) (Promotion, error)
}

// Service evaluates coupons against carts and manages merchant promotions.
type Service struct {
	Q   Querier
	Now func() time.Time
	// Location is used when the merchant has no usable time zone.
	Location *time.Location
}

// Validation is the priced answer to "does this code apply to this cart".
type Validation struct {
	Valid     bool
	Reason    Reason
	Subtotal  pricing.Money
	Discount  pricing.Money
	Total     pricing.Money
	Promotion *Promotion
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ValidateCoupon looks the code up for the merchant and evaluates it at the
// merchant's local time. Unknown codes come back as not_found, not as an error.
func (s *Service) ValidateCoupon(ctx context.Context, m merchant.Merchant, code string, lines []pricing.CartLine) (Validation, error) {
	if err := ValidateLines(lines); err != nil {
		return Validation{}, err
	}
	subtotal := pricing.CartSubtotal(lines)
	result := Validation{Subtotal: subtotal, Discount: decimal.Zero, Total: subtotal}

	code = NormalizeCode(code)
	if code == "" {
		result.Reason = ReasonNotFound
		obs.ObserveCouponValidation("", string(ReasonNotFound))
		return result, nil
	}
	p, err := s.Q.GetPromotionByCode(ctx, m.ID, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			result.Reason = ReasonNotFound
			obs.ObserveCouponValidation("", string(ReasonNotFound))
			return result, nil
		}
		return Validation{}, fmt.Errorf("load promotion %s: %w", code, err)
	}

	outcome, err := Evaluate(lines, p, s.now().In(m.Location(s.Location)))
	if err != nil {
		return Validation{}, err
	}
	obs.ObserveCouponValidation(string(p.Benefit.Kind()), string(outcome.Reason))

	summary := pricing.Compute(lines, outcome.DiscountAmount)
	result.Valid = outcome.Eligible
	result.Reason = outcome.Reason
	result.Discount = summary.Discount
	result.Total = summary.Total
	result.Promotion = &p
	return result, nil
}

// List returns every promotion of the merchant.
func (s *Service) List(ctx context.Context, merchantID string) ([]Promotion, error) {
	items, err := s.Q.ListPromotions(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	return items, nil
}

// Get returns one promotion of the merchant.
func (s *Service) Get(ctx context.Context, merchantID, id string) (Promotion, error) {
	return s.Q.GetPromotion(ctx, merchantID, id)
}

// Create validates and stores a new promotion.
func (s *Service) Create(ctx context.Context, p Promotion) (Promotion, error) {
	p.Code = NormalizeCode(p.Code)
	p.UsageCount = 0
	if err := p.Validate(); err != nil {
		return Promotion{}, err
	}
	return s.Q.CreatePromotion(ctx, p)
}

// Update replaces the definition of an existing promotion. The usage count is kept.
func (s *Service) Update(ctx context.Context, p Promotion) (Promotion, error) {
	current, err := s.Q.GetPromotion(ctx, p.MerchantID, p.ID)
	if err != nil {
		return Promotion{}, err
	}
	p.Code = NormalizeCode(p.Code)
	p.UsageCount = current.UsageCount
	p.CreatedAt = current.CreatedAt
	if err := p.Validate(); err != nil {
		return Promotion{}, err
	}
	return s.Q.UpdatePromotion(ctx, p)
}

// Toggle flips the active flag and returns the updated promotion.
func (s *Service) Toggle(ctx context.Context, merchantID, id string) (Promotion, error) {
	current, err := s.Q.GetPromotion(ctx, merchantID, id)
	if err != nil {
		return Promotion{}, err
	}
	return s.Q.SetPromotionActive(ctx, merchantID, id, !current.Active)
}
