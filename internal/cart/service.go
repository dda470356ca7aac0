package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/pricing"
	"github.com/noah-isme/pedilo-api/internal/promotion"
)

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("cart: invalid input")

const maxItems = 100

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// Cart is a storefront cart persisted between visits.
type Cart struct {
	Token            string                `json:"token"`
	Items            []catalog.ItemRequest `json:"items"`
	CouponCode       string                `json:"couponCode,omitempty"`
	LastTrackingCode string                `json:"-"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// Store keeps carts in Redis, one key per merchant and token.
type Store struct {
	R   *redis.Client
	TTL time.Duration
	Now func() time.Time
}

func (s *Store) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Store) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cartKey(slug, token string) string {
	return "cart:" + slug + ":" + token
}

func lastOrderKey(slug, token string) string {
	return cartKey(slug, token) + ":last_order"
}

// ValidToken reports whether token is usable as a cart identifier.
func ValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// Get loads the cart for token. A cart that was never saved, or has expired, is returned empty.
func (s *Store) Get(ctx context.Context, slug, token string) (Cart, error) {
	if !ValidToken(token) {
		return Cart{}, fmt.Errorf("token: %w", ErrInvalidInput)
	}
	c := Cart{Token: token, Items: []catalog.ItemRequest{}}
	raw, err := s.R.Get(ctx, cartKey(slug, token)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Cart{}, fmt.Errorf("load cart: %w", err)
	default:
		if err := json.Unmarshal(raw, &c); err != nil {
			return Cart{}, fmt.Errorf("decode cart: %w", err)
		}
	}
	last, err := s.R.Get(ctx, lastOrderKey(slug, token)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Cart{}, fmt.Errorf("load last order: %w", err)
	}
	c.LastTrackingCode = last
	return c, nil
}

// Save replaces the stored cart and refreshes its expiry.
func (s *Store) Save(ctx context.Context, slug string, c Cart) (Cart, error) {
	if err := validate(c); err != nil {
		return Cart{}, err
	}
	c.CouponCode = promotion.NormalizeCode(c.CouponCode)
	c.UpdatedAt = s.now().UTC()
	if c.Items == nil {
		c.Items = []catalog.ItemRequest{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return Cart{}, err
	}
	if err := s.R.Set(ctx, cartKey(slug, c.Token), data, s.ttl()).Err(); err != nil {
		return Cart{}, fmt.Errorf("save cart: %w", err)
	}
	return c, nil
}

// Clear removes the cart contents.
func (s *Store) Clear(ctx context.Context, slug, token string) error {
	if !ValidToken(token) {
		return fmt.Errorf("token: %w", ErrInvalidInput)
	}
	return s.R.Del(ctx, cartKey(slug, token)).Err()
}

// Complete empties the cart after checkout and remembers the resulting tracking code.
func (s *Store) Complete(ctx context.Context, slug, token, trackingCode string) error {
	if !ValidToken(token) {
		return fmt.Errorf("token: %w", ErrInvalidInput)
	}
	_, err := s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, cartKey(slug, token))
		p.Set(ctx, lastOrderKey(slug, token), trackingCode, s.ttl())
		return nil
	})
	return err
}

func validate(c Cart) error {
	if !ValidToken(c.Token) {
		return fmt.Errorf("token: %w", ErrInvalidInput)
	}
	if len(c.Items) > maxItems {
		return fmt.Errorf("too many items: %w", ErrInvalidInput)
	}
	for i, it := range c.Items {
		if strings.TrimSpace(it.ProductID) == "" || it.Quantity <= 0 {
			return fmt.Errorf("item %d: %w", i, ErrInvalidInput)
		}
	}
	return nil
}

// LineResolver prices storefront items.
type LineResolver interface {
	ResolveLines(ctx context.Context, merchantID string, items []catalog.ItemRequest) ([]pricing.CartLine, error)
}

// CouponValidator evaluates a coupon code against priced lines.
type CouponValidator interface {
	ValidateCoupon(ctx context.Context, m merchant.Merchant, code string, lines []pricing.CartLine) (promotion.Validation, error)
}

// Quote is the priced view of a stored cart.
type Quote struct {
	Cart         Cart
	Lines        []pricing.CartLine
	Summary      pricing.Summary
	Coupon       *promotion.Validation
	MinimumOrder pricing.Money
	Shortfall    pricing.Money
}

// Service prices stored carts.
type Service struct {
	Store   *Store
	Catalog LineResolver
	Coupons CouponValidator
	Policy  merchant.Policy
}

// Quote prices the cart and evaluates its coupon, if any.
func (s *Service) Quote(ctx context.Context, m merchant.Merchant, token string) (Quote, error) {
	c, err := s.Store.Get(ctx, m.Slug, token)
	if err != nil {
		return Quote{}, err
	}
	lines, err := s.Catalog.ResolveLines(ctx, m.ID, c.Items)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{Cart: c, Lines: lines}
	subtotal := pricing.CartSubtotal(lines)
	discount := decimal.Zero
	if c.CouponCode != "" && len(lines) > 0 {
		v, err := s.Coupons.ValidateCoupon(ctx, m, c.CouponCode, lines)
		if err != nil {
			return Quote{}, err
		}
		q.Coupon = &v
		discount = v.Discount
	}
	q.Summary = pricing.Compute(lines, discount)
	q.MinimumOrder = s.Policy.MinimumOrder(m)
	q.Shortfall = s.Policy.Shortfall(m, subtotal)
	return q, nil
}
