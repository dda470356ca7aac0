// Package memory is an in-process implementation of every domain querier. It
// backs tests and APP_STORE=memory deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/pedilo-api/internal/audit"
	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/events"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/order"
	"github.com/noah-isme/pedilo-api/internal/promotion"
)

// Redemption is a recorded coupon use.
type Redemption struct {
	PromotionID string
	OrderID     string
	Code        string
	Amount      string
	CreatedAt   time.Time
}

// Store keeps all entities in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	merchants   map[string]merchant.Merchant
	products    map[string]catalog.Product
	toppings    map[string]catalog.Topping
	promotions  map[string]promotion.Promotion
	orders      map[string]order.Order
	redemptions []Redemption
	audit       []audit.Entry
	events      []events.Event

	Now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		merchants:  map[string]merchant.Merchant{},
		products:   map[string]catalog.Product{},
		toppings:   map[string]catalog.Topping{},
		promotions: map[string]promotion.Promotion{},
		orders:     map[string]order.Order{},
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// PutMerchant inserts or replaces a merchant.
func (s *Store) PutMerchant(m merchant.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.Slug = merchant.NormalizeSlug(m.Slug)
	s.merchants[m.ID] = m
}

// GetMerchantBySlug implements merchant.Querier.
func (s *Store) GetMerchantBySlug(_ context.Context, slug string) (merchant.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slug = merchant.NormalizeSlug(slug)
	for _, m := range s.merchants {
		if m.Slug == slug {
			return m, nil
		}
	}
	return merchant.Merchant{}, merchant.ErrNotFound
}

// GetMerchantByID implements merchant.Querier.
func (s *Store) GetMerchantByID(_ context.Context, id string) (merchant.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.merchants[id]
	if !ok {
		return merchant.Merchant{}, merchant.ErrNotFound
	}
	return m, nil
}

// ListProducts implements catalog.Querier.
func (s *Store) ListProducts(_ context.Context, merchantID string, includeInactive bool) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []catalog.Product{}
	for _, p := range s.products {
		if p.MerchantID == merchantID && (includeInactive || p.Active) {
			p.ToppingIDs = append([]string(nil), p.ToppingIDs...)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ListToppings implements catalog.Querier.
func (s *Store) ListToppings(_ context.Context, merchantID string, includeInactive bool) ([]catalog.Topping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []catalog.Topping{}
	for _, t := range s.toppings {
		if t.MerchantID == merchantID && (includeInactive || t.Active) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertProduct implements catalog.Querier.
func (s *Store) UpsertProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.products[p.ID]; ok && existing.MerchantID != p.MerchantID {
		return catalog.Product{}, catalog.ErrNotFound
	}
	p.UpdatedAt = s.now()
	p.ToppingIDs = append([]string(nil), p.ToppingIDs...)
	s.products[p.ID] = p
	return p, nil
}

// UpsertTopping implements catalog.Querier.
func (s *Store) UpsertTopping(_ context.Context, t catalog.Topping) (catalog.Topping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.toppings[t.ID]; ok && existing.MerchantID != t.MerchantID {
		return catalog.Topping{}, catalog.ErrNotFound
	}
	s.toppings[t.ID] = t
	return t, nil
}

// GetPromotionByCode implements promotion.Querier.
func (s *Store) GetPromotionByCode(_ context.Context, merchantID, code string) (promotion.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code = promotion.NormalizeCode(code)
	for _, p := range s.promotions {
		if p.MerchantID == merchantID && p.Code == code {
			return clonePromotion(p), nil
		}
	}
	return promotion.Promotion{}, promotion.ErrNotFound
}

// GetPromotion implements promotion.Querier.
func (s *Store) GetPromotion(_ context.Context, merchantID, id string) (promotion.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.promotions[id]
	if !ok || p.MerchantID != merchantID {
		return promotion.Promotion{}, promotion.ErrNotFound
	}
	return clonePromotion(p), nil
}

// ListPromotions implements promotion.Querier.
func (s *Store) ListPromotions(_ context.Context, merchantID string) ([]promotion.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []promotion.Promotion{}
	for _, p := range s.promotions {
		if p.MerchantID == merchantID {
			out = append(out, clonePromotion(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// CreatePromotion implements promotion.Querier.
func (s *Store) CreatePromotion(_ context.Context, p promotion.Promotion) (promotion.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codeTaken(p.MerchantID, p.Code, "") {
		return promotion.Promotion{}, promotion.ErrDuplicateCode
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.promotions[p.ID] = clonePromotion(p)
	return p, nil
}

// UpdatePromotion implements promotion.Querier.
func (s *Store) UpdatePromotion(_ context.Context, p promotion.Promotion) (promotion.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.promotions[p.ID]
	if !ok || current.MerchantID != p.MerchantID {
		return promotion.Promotion{}, promotion.ErrNotFound
	}
	if s.codeTaken(p.MerchantID, p.Code, p.ID) {
		return promotion.Promotion{}, promotion.ErrDuplicateCode
	}
	p.UsageCount = current.UsageCount
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.now()
	s.promotions[p.ID] = clonePromotion(p)
	return p, nil
}

// SetPromotionActive implements promotion.Querier.
func (s *Store) SetPromotionActive(_ context.Context, merchantID, id string, active bool) (promotion.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promotions[id]
	if !ok || p.MerchantID != merchantID {
		return promotion.Promotion{}, promotion.ErrNotFound
	}
	p.Active = active
	p.UpdatedAt = s.now()
	s.promotions[id] = p
	return clonePromotion(p), nil
}

func (s *Store) codeTaken(merchantID, code, exceptID string) bool {
	for _, existing := range s.promotions {
		if existing.MerchantID == merchantID && existing.Code == code && existing.ID != exceptID {
			return true
		}
	}
	return false
}

// CreateOrder implements order.Querier. The redemption, when present, is applied
// under the same lock as the order insert.
func (s *Store) CreateOrder(_ context.Context, o order.Order, r *order.Redemption) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.MerchantID == o.MerchantID && existing.TrackingCode == o.TrackingCode {
			return order.Order{}, fmt.Errorf("tracking code %s already used", o.TrackingCode)
		}
	}
	now := s.now()
	if r != nil {
		p, ok := s.promotions[r.PromotionID]
		if !ok || p.MerchantID != o.MerchantID {
			return order.Order{}, promotion.ErrNotFound
		}
		if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
			return order.Order{}, promotion.ErrUsageLimitReached
		}
		p.UsageCount++
		s.promotions[p.ID] = p
		s.redemptions = append(s.redemptions, Redemption{
			PromotionID: p.ID, OrderID: o.ID, Code: r.Code, Amount: r.Amount.String(), CreatedAt: now,
		})
	}
	o.CreatedAt, o.UpdatedAt = now, now
	o.Items = append([]order.Item(nil), o.Items...)
	s.orders[o.ID] = o
	return o, nil
}

// GetOrder implements order.Querier.
func (s *Store) GetOrder(_ context.Context, merchantID, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok || o.MerchantID != merchantID {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

// GetOrderByTrackingCode implements order.Querier.
func (s *Store) GetOrderByTrackingCode(_ context.Context, merchantID, code string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.MerchantID == merchantID && o.TrackingCode == code {
			return o, nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

// ListOrders implements order.Querier, newest first.
func (s *Store) ListOrders(_ context.Context, merchantID string, f order.ListFilter) ([]order.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := []order.Order{}
	for _, o := range s.orders {
		if o.MerchantID == merchantID && (f.Status == "" || o.Status == f.Status) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].TrackingCode < matched[j].TrackingCode
	})
	total := len(matched)
	if f.Offset >= total {
		return []order.Order{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

// UpdateOrderStatus implements order.Querier.
func (s *Store) UpdateOrderStatus(_ context.Context, merchantID, id string, from, to order.Status) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.MerchantID != merchantID {
		return order.Order{}, order.ErrNotFound
	}
	if o.Status != from {
		return order.Order{}, order.ErrStaleStatus
	}
	o.Status = to
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return o, nil
}

// Redemptions returns the recorded coupon uses of a promotion.
func (s *Store) Redemptions(promotionID string) []Redemption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Redemption
	for _, r := range s.redemptions {
		if r.PromotionID == promotionID {
			out = append(out, r)
		}
	}
	return out
}

// InsertAuditLog implements audit.Store.
func (s *Store) InsertAuditLog(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.audit = append(s.audit, e)
	return nil
}

// ListAuditLogs implements audit.Store, newest first.
func (s *Store) ListAuditLogs(_ context.Context, merchantID string, limit, offset int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.Entry{}
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].MerchantID == merchantID {
			out = append(out, s.audit[i])
		}
	}
	if offset >= len(out) {
		return []audit.Entry{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertDomainEvent implements events.EventStore.
func (s *Store) InsertDomainEvent(_ context.Context, e events.Event) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return e, nil
}

// Events returns the stored domain events in insertion order.
func (s *Store) Events() []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.Event(nil), s.events...)
}

func clonePromotion(p promotion.Promotion) promotion.Promotion {
	p.Weekdays = append([]time.Weekday(nil), p.Weekdays...)
	if p.UsageLimit != nil {
		limit := *p.UsageLimit
		p.UsageLimit = &limit
	}
	if p.ExpiresAt != nil {
		at := *p.ExpiresAt
		p.ExpiresAt = &at
	}
	if b, ok := p.Benefit.(promotion.BuyXPayY); ok {
		b.ProductIDs = append([]string(nil), b.ProductIDs...)
		p.Benefit = b
	}
	return p
}
