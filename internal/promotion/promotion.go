package promotion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/pricing"
)

var (
	// ErrMalformed marks promotion or cart input that violates its own shape.
	// It signals a caller bug, never a business outcome.
	ErrMalformed = errors.New("promotion: malformed input")
	// ErrNotFound is returned by queriers when no promotion matches.
	ErrNotFound = errors.New("promotion: not found")
	// ErrDuplicateCode is returned when the merchant already has the code.
	ErrDuplicateCode = errors.New("promotion: code already exists")
	// ErrUsageLimitReached is returned when a redemption loses the race for the last use.
	ErrUsageLimitReached = errors.New("promotion: usage limit reached")
)

// Kind names the promotion variant.
type Kind string

const (
	KindPercentage  Kind = "percentage"
	KindFixedAmount Kind = "fixed_amount"
	KindBuyXPayY    Kind = "buy_x_pay_y"
)

// Reason explains why a promotion did not apply.
type Reason string

const (
	ReasonInactive             Reason = "inactive"
	ReasonExpired              Reason = "expired"
	ReasonUsageLimitReached    Reason = "usage_limit_reached"
	ReasonInvalidWeekday       Reason = "invalid_weekday"
	ReasonBelowMinimum         Reason = "below_minimum"
	ReasonInsufficientQuantity Reason = "insufficient_quantity"
	ReasonNotFound             Reason = "not_found"
)

// Benefit is the variant-specific part of a promotion. The set of
// implementations is closed: Percentage, FixedAmount and BuyXPayY.
type Benefit interface {
	Kind() Kind
	validate() error
	discount(lines []pricing.CartLine, subtotal pricing.Money) (pricing.Money, Reason)
}

// Percentage takes a share of the subtotal. Values above 100 are capped by the subtotal.
type Percentage struct {
	Percent decimal.Decimal
}

// FixedAmount takes a flat amount off the subtotal.
type FixedAmount struct {
	Amount pricing.Money
}

// BuyXPayY makes BuyX-PayY units free for every BuyX eligible units.
type BuyXPayY struct {
	BuyX       int
	PayY       int
	ProductIDs []string
}

func (Percentage) Kind() Kind  { return KindPercentage }
func (FixedAmount) Kind() Kind { return KindFixedAmount }
func (BuyXPayY) Kind() Kind    { return KindBuyXPayY }

// Promotion is a merchant coupon definition.
type Promotion struct {
	ID          string
	MerchantID  string
	Code        string
	Description string
	Active      bool
	ExpiresAt   *time.Time
	UsageLimit  *int
	UsageCount  int
	MinPurchase pricing.Money
	Weekdays    []time.Weekday
	Benefit     Benefit
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DiscountResult is the outcome of one evaluation.
type DiscountResult struct {
	Eligible       bool          `json:"eligible"`
	DiscountAmount pricing.Money `json:"discountAmount"`
	Reason         Reason        `json:"reason,omitempty"`
}

// NormalizeCode canonicalises a coupon code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WeekdayFromIndex maps a dashboard day index (0 is Monday, 6 is Sunday) to a
// time.Weekday.
func WeekdayFromIndex(i int) time.Weekday { return time.Weekday((i + 1) % 7) }

// WeekdayIndex is the inverse of WeekdayFromIndex.
func WeekdayIndex(d time.Weekday) int { return (int(d) + 6) % 7 }

// Validate checks the promotion shape.
func (p Promotion) Validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("code is required: %w", ErrMalformed)
	}
	if p.Benefit == nil {
		return fmt.Errorf("promotion %s has no type: %w", p.Code, ErrMalformed)
	}
	if p.MinPurchase.IsNegative() {
		return fmt.Errorf("minimum purchase must not be negative: %w", ErrMalformed)
	}
	if p.UsageLimit != nil && *p.UsageLimit < 0 {
		return fmt.Errorf("usage limit must not be negative: %w", ErrMalformed)
	}
	if p.UsageCount < 0 {
		return fmt.Errorf("usage count must not be negative: %w", ErrMalformed)
	}
	for _, d := range p.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("weekday %d out of range: %w", d, ErrMalformed)
		}
	}
	return p.Benefit.validate()
}

func (b Percentage) validate() error {
	if b.Percent.IsNegative() {
		return fmt.Errorf("percentage must not be negative: %w", ErrMalformed)
	}
	return nil
}

func (b FixedAmount) validate() error {
	if b.Amount.IsNegative() {
		return fmt.Errorf("fixed amount must not be negative: %w", ErrMalformed)
	}
	return nil
}

func (b BuyXPayY) validate() error {
	if len(b.ProductIDs) == 0 {
		return fmt.Errorf("buy_x_pay_y requires applicable products: %w", ErrMalformed)
	}
	if b.BuyX < 2 {
		return fmt.Errorf("buy x must be at least 2: %w", ErrMalformed)
	}
	if b.PayY < 1 {
		return fmt.Errorf("pay y must be at least 1: %w", ErrMalformed)
	}
	if b.PayY >= b.BuyX {
		return fmt.Errorf("pay y (%d) must be lower than buy x (%d): %w", b.PayY, b.BuyX, ErrMalformed)
	}
	return nil
}

// Fields is the flat representation of a Benefit used by storage and payloads.
type Fields struct {
	Kind       Kind
	Value      decimal.Decimal
	BuyX       int
	PayY       int
	ProductIDs []string
}

// FieldsOf flattens a benefit.
func FieldsOf(b Benefit) Fields {
	switch v := b.(type) {
	case Percentage:
		return Fields{Kind: KindPercentage, Value: v.Percent}
	case FixedAmount:
		return Fields{Kind: KindFixedAmount, Value: v.Amount}
	case BuyXPayY:
		return Fields{Kind: KindBuyXPayY, BuyX: v.BuyX, PayY: v.PayY, ProductIDs: append([]string(nil), v.ProductIDs...)}
	default:
		return Fields{}
	}
}

// Benefit rebuilds the variant described by the flat fields.
func (f Fields) Benefit() (Benefit, error) {
	switch f.Kind {
	case KindPercentage:
		return Percentage{Percent: f.Value}, nil
	case KindFixedAmount:
		return FixedAmount{Amount: f.Value}, nil
	case KindBuyXPayY:
		return BuyXPayY{BuyX: f.BuyX, PayY: f.PayY, ProductIDs: append([]string(nil), f.ProductIDs...)}, nil
	default:
		return nil, fmt.Errorf("unknown promotion type %q: %w", f.Kind, ErrMalformed)
	}
}
