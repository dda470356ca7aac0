package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/pedilo-api/internal/pricing"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidTransition is returned for status changes outside the lifecycle.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("order: unknown status")
	// ErrStaleStatus is returned when the order changed status concurrently.
	ErrStaleStatus = errors.New("order: status changed concurrently")
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var forward = map[Status]Status{
	StatusPending:   StatusConfirmed,
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusDelivered,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Final reports whether no further transition is possible.
func (s Status) Final() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order may move from one status to another.
// Orders advance one step at a time and may be cancelled until they are final.
func CanTransition(from, to Status) bool {
	if from.Final() || !to.Valid() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return forward[from] == to
}

// DeliveryMode is how the customer receives the order.
type DeliveryMode string

const (
	DeliveryPickup   DeliveryMode = "pickup"
	DeliveryDelivery DeliveryMode = "delivery"
)

// Customer identifies who placed the order.
type Customer struct {
	Name  string `json:"nombre"`
	Phone string `json:"telefono"`
}

// Delivery describes the fulfilment choice.
type Delivery struct {
	Mode    DeliveryMode `json:"modo"`
	Address string       `json:"direccion,omitempty"`
}

// Item is a priced order line snapshot.
type Item struct {
	ProductID string            `json:"productId"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	UnitPrice pricing.Money     `json:"unitPrice"`
	Toppings  []pricing.Topping `json:"toppings,omitempty"`
	LineTotal pricing.Money     `json:"lineTotal"`
}

// Order is a placed order.
type Order struct {
	ID           string
	MerchantID   string
	TrackingCode string
	Status       Status
	Customer     Customer
	Delivery     Delivery
	Notes        string
	Items        []Item
	CouponCode   string
	PromotionID  string
	Subtotal     pricing.Money
	Discount     pricing.Money
	Total        pricing.Money
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Redemption is the coupon use recorded with an order.
type Redemption struct {
	PromotionID string
	Code        string
	Amount      pricing.Money
}

// ListFilter narrows dashboard listings.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Querier persists orders.
type Querier interface {
	// CreateOrder stores the order. With a redemption it also increments the
	// promotion usage in the same transaction, failing with
	// promotion.ErrUsageLimitReached when the limit is already used up.
	CreateOrder(ctx context.Context, o Order, r *Redemption) (Order, error)
	GetOrder(ctx context.Context, merchantID, id string) (Order, error)
	GetOrderByTrackingCode(ctx context.Context, merchantID, code string) (Order, error)
	ListOrders(ctx context.Context, merchantID string, f ListFilter) ([]Order, int, error)
	// UpdateOrderStatus moves the order to status to, only if it is still in from.
	UpdateOrderStatus(ctx context.Context, merchantID, id string, from, to Status) (Order, error)
}

// ItemsFromLines snapshots priced cart lines.
func ItemsFromLines(lines []pricing.CartLine) []Item {
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, Item{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: pricing.EffectiveUnitPrice(l),
			Toppings:  l.Toppings,
			LineTotal: pricing.LineTotal(l),
		})
	}
	return items
}

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewTrackingCode returns a customer-facing code such as "PD-7K2M9QXA".
func NewTrackingCode() string {
	id := uuid.New()
	var bits uint64
	for _, b := range id[:5] {
		bits = bits<<8 | uint64(b)
	}
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = crockford[bits&31]
		bits >>= 5
	}
	return "PD-" + string(out)
}

// NormalizeTrackingCode canonicalises user-typed tracking codes.
func NormalizeTrackingCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code != "" && !strings.HasPrefix(code, "PD-") {
		code = "PD-" + code
	}
	return code
}
