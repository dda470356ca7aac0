package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/events"
	"github.com/noah-isme/pedilo-api/internal/lock"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/obs"
	"github.com/noah-isme/pedilo-api/internal/order"
	"github.com/noah-isme/pedilo-api/internal/pricing"
	"github.com/noah-isme/pedilo-api/internal/promotion"
)

// CustomerInput identifies the buyer.
type CustomerInput struct {
	Name  string `json:"nombre" validate:"required,max=120"`
	Phone string `json:"telefono" validate:"required,max=40"`
}

// DeliveryInput is the fulfilment choice.
type DeliveryInput struct {
	Mode    string `json:"modo" validate:"required,oneof=pickup delivery"`
	Address string `json:"direccion" validate:"required_if=Mode delivery,max=300"`
}

// Input is the storefront order payload.
type Input struct {
	CouponCode string                `json:"codigo_cupon" validate:"max=40"`
	Items      []catalog.ItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	Customer   CustomerInput         `json:"cliente"`
	Delivery   DeliveryInput         `json:"entrega"`
	Notes      string                `json:"notas" validate:"max=500"`
	CartToken  string                `json:"cart_token" validate:"omitempty,max=64"`
}

// LineResolver prices storefront items.
type LineResolver interface {
	ResolveLines(ctx context.Context, merchantID string, items []catalog.ItemRequest) ([]pricing.CartLine, error)
}

// CouponValidator evaluates a coupon code against priced lines.
type CouponValidator interface {
	ValidateCoupon(ctx context.Context, m merchant.Merchant, code string, lines []pricing.CartLine) (promotion.Validation, error)
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// CartCompleter empties a stored cart once it became an order.
type CartCompleter interface {
	Complete(ctx context.Context, slug, token, trackingCode string) error
}

// Service places storefront orders.
type Service struct {
	Catalog LineResolver
	Coupons CouponValidator
	Orders  order.Querier
	Policy  merchant.Policy
	Locker  Locker
	LockTTL time.Duration
	Events  order.Emitter
	Carts   CartCompleter
	Logger  zerolog.Logger
}

// Created is the payload of order.created.
type Created struct {
	OrderID      string      `json:"orderId"`
	TrackingCode string      `json:"trackingCode"`
	Status       string      `json:"status"`
	Customer     string      `json:"customer"`
	Delivery     string      `json:"delivery"`
	CouponCode   string      `json:"couponCode,omitempty"`
	Subtotal     json.Number `json:"subtotal"`
	Discount     json.Number `json:"discount"`
	Total        json.Number `json:"total"`
}

// CreateOrder re-prices the items from the catalog, enforces the minimum order,
// re-evaluates the coupon while holding the promotion lock and stores the order
// together with its redemption.
func (s *Service) CreateOrder(ctx context.Context, m merchant.Merchant, in Input) (order.Order, error) {
	lines, err := s.Catalog.ResolveLines(ctx, m.ID, in.Items)
	if err != nil {
		obs.ObserveOrderCreated("rejected")
		if errors.Is(err, catalog.ErrUnknownProduct) {
			return order.Order{}, common.NewAppError("UNKNOWN_PRODUCT", err.Error(), http.StatusUnprocessableEntity, err)
		}
		return order.Order{}, err
	}

	subtotal := pricing.CartSubtotal(lines)
	if missing := s.Policy.Shortfall(m, subtotal); missing.IsPositive() {
		obs.ObserveOrderCreated("below_minimum")
		appErr := common.NewAppError("BELOW_MINIMUM_ORDER", "order subtotal is below the merchant minimum", http.StatusUnprocessableEntity, nil)
		appErr.Details = map[string]any{
			"minimo":   pricing.Number(s.Policy.MinimumOrder(m)),
			"faltante": pricing.Number(missing),
		}
		return order.Order{}, appErr
	}

	o := order.Order{
		ID:           uuid.NewString(),
		MerchantID:   m.ID,
		TrackingCode: order.NewTrackingCode(),
		Status:       order.StatusPending,
		Customer:     order.Customer{Name: strings.TrimSpace(in.Customer.Name), Phone: strings.TrimSpace(in.Customer.Phone)},
		Delivery:     order.Delivery{Mode: order.DeliveryMode(in.Delivery.Mode), Address: strings.TrimSpace(in.Delivery.Address)},
		Notes:        strings.TrimSpace(in.Notes),
		Items:        order.ItemsFromLines(lines),
	}
	if o.Delivery.Mode == order.DeliveryPickup {
		o.Delivery.Address = ""
	}

	code := promotion.NormalizeCode(in.CouponCode)
	var (
		created order.Order
		kind    promotion.Kind
	)
	if code == "" {
		summary := pricing.Compute(lines, decimal.Zero)
		o.Subtotal, o.Discount, o.Total = summary.Subtotal, summary.Discount, summary.Total
		created, err = s.Orders.CreateOrder(ctx, o, nil)
	} else {
		err = s.withPromotionLock(ctx, m.ID, code, func(ctx context.Context) error {
			v, err := s.Coupons.ValidateCoupon(ctx, m, code, lines)
			if err != nil {
				return err
			}
			if !v.Valid {
				appErr := common.NewAppError("COUPON_NOT_ELIGIBLE", "coupon cannot be applied to this order", http.StatusUnprocessableEntity, nil)
				appErr.Details = map[string]any{"motivo": v.Reason}
				return appErr
			}
			kind = v.Promotion.Benefit.Kind()
			o.Subtotal, o.Discount, o.Total = v.Subtotal, v.Discount, v.Total
			o.CouponCode = code
			o.PromotionID = v.Promotion.ID
			created, err = s.Orders.CreateOrder(ctx, o, &order.Redemption{PromotionID: v.Promotion.ID, Code: code, Amount: v.Discount})
			return err
		})
	}
	if err != nil {
		return order.Order{}, s.classify(err)
	}

	obs.ObserveOrderCreated("created")
	if created.CouponCode != "" {
		obs.ObserveCouponDiscount(string(kind), created.Discount.InexactFloat64())
	}
	s.emitCreated(ctx, created)
	if token := strings.TrimSpace(in.CartToken); token != "" && s.Carts != nil {
		if err := s.Carts.Complete(ctx, m.Slug, token, created.TrackingCode); err != nil {
			s.Logger.Warn().Err(err).Str("merchant", m.Slug).Msg("clear cart after order failed")
		}
	}
	return created, nil
}

func (s *Service) withPromotionLock(ctx context.Context, merchantID, code string, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	return s.Locker.WithLock(ctx, lock.PromotionKey(merchantID, code), s.LockTTL, fn)
}

func (s *Service) classify(err error) error {
	var appErr *common.AppError
	switch {
	case errors.As(err, &appErr):
		obs.ObserveOrderCreated("rejected")
		return err
	case errors.Is(err, promotion.ErrUsageLimitReached):
		obs.ObserveOrderCreated("usage_limit")
		return common.NewAppError("COUPON_USAGE_LIMIT_REACHED", "coupon usage limit reached", http.StatusConflict, err)
	case errors.Is(err, promotion.ErrMalformed):
		obs.ObserveOrderCreated("error")
		s.Logger.Error().Err(err).Msg("stored promotion is malformed")
		return common.NewAppError("PROMOTION_MISCONFIGURED", "promotion cannot be evaluated", http.StatusInternalServerError, err)
	default:
		obs.ObserveOrderCreated("error")
		return fmt.Errorf("create order: %w", err)
	}
}

func (s *Service) emitCreated(ctx context.Context, o order.Order) {
	if s.Events == nil {
		return
	}
	payload := Created{
		OrderID:      o.ID,
		TrackingCode: o.TrackingCode,
		Status:       string(o.Status),
		Customer:     o.Customer.Name,
		Delivery:     string(o.Delivery.Mode),
		CouponCode:   o.CouponCode,
		Subtotal:     pricing.Number(o.Subtotal),
		Discount:     pricing.Number(o.Discount),
		Total:        pricing.Number(o.Total),
	}
	if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, o.MerchantID, o.ID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("order_id", o.ID).Msg("emit order.created failed")
	}
}
