package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pedilo-api/internal/obs"
	"github.com/noah-isme/pedilo-api/internal/pricing"
)

var (
	// ErrUnknownProduct marks an item that does not resolve to an orderable product or topping.
	ErrUnknownProduct = errors.New("catalog: unknown product")
	// ErrInvalidProduct marks a product or topping definition that cannot be priced.
	ErrInvalidProduct = errors.New("catalog: invalid product")
	// ErrNotFound is returned by queriers when an update targets a missing row.
	ErrNotFound = errors.New("catalog: not found")
)

// Product is a sellable menu entry.
type Product struct {
	ID              string         `json:"id"`
	MerchantID      string         `json:"merchantId"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Category        string         `json:"category,omitempty"`
	PriceRetail     pricing.Money  `json:"priceRetail"`
	PriceWholesale  *pricing.Money `json:"priceWholesale,omitempty"`
	WholesaleMinQty *int           `json:"wholesaleMinQty,omitempty"`
	ToppingIDs      []string       `json:"toppingIds,omitempty"`
	Active          bool           `json:"active"`
	Position        int            `json:"position"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Topping is an extra that can be added to products offering it.
type Topping struct {
	ID         string        `json:"id"`
	MerchantID string        `json:"merchantId"`
	Name       string        `json:"name"`
	PriceExtra pricing.Money `json:"priceExtra"`
	Active     bool          `json:"active"`
}

// Menu is the public catalog of one merchant.
type Menu struct {
	Products []Product `json:"products"`
	Toppings []Topping `json:"toppings"`
}

// ItemRequest is one requested cart line as sent by the storefront.
type ItemRequest struct {
	ProductID string   `json:"producto_id" validate:"required"`
	Quantity  int      `json:"cantidad" validate:"gt=0"`
	Toppings  []string `json:"toppings,omitempty"`
}

// Querier persists products and toppings.
type Querier interface {
	ListProducts(ctx context.Context, merchantID string, includeInactive bool) ([]Product, error)
	ListToppings(ctx context.Context, merchantID string, includeInactive bool) ([]Topping, error)
	UpsertProduct(ctx context.Context, p Product) (Product, error)
	UpsertTopping(ctx context.Context, t Topping) (Topping, error)
}

// Service serves menus and prices requested items.
type Service struct {
	Q      Querier
	Cache  *Cache
	Logger zerolog.Logger
}

// Menu returns the active products and toppings of the merchant, from cache when possible.
func (s *Service) Menu(ctx context.Context, merchantID string) (Menu, error) {
	var menu Menu
	hit, err := s.Cache.GetJSON(ctx, menuKey(merchantID), &menu)
	if err != nil {
		s.Logger.Warn().Err(err).Str("merchant_id", merchantID).Msg("menu cache read failed")
	}
	obs.ObserveMenuCache(hit && err == nil)
	if hit && err == nil {
		return menu, nil
	}

	products, err := s.Q.ListProducts(ctx, merchantID, false)
	if err != nil {
		return Menu{}, fmt.Errorf("list products: %w", err)
	}
	toppings, err := s.Q.ListToppings(ctx, merchantID, false)
	if err != nil {
		return Menu{}, fmt.Errorf("list toppings: %w", err)
	}
	sort.SliceStable(products, func(i, j int) bool { return products[i].Position < products[j].Position })
	menu = Menu{Products: products, Toppings: toppings}
	if menu.Products == nil {
		menu.Products = []Product{}
	}
	if menu.Toppings == nil {
		menu.Toppings = []Topping{}
	}
	if err := s.Cache.SetJSON(ctx, menuKey(merchantID), menu); err != nil {
		s.Logger.Warn().Err(err).Str("merchant_id", merchantID).Msg("menu cache write failed")
	}
	return menu, nil
}

// ResolveLines prices the requested items against the merchant menu. Lines keep
// the request order and duplicates stay separate.
func (s *Service) ResolveLines(ctx context.Context, merchantID string, items []ItemRequest) ([]pricing.CartLine, error) {
	menu, err := s.Menu(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	products := make(map[string]Product, len(menu.Products))
	for _, p := range menu.Products {
		products[p.ID] = p
	}
	toppings := make(map[string]Topping, len(menu.Toppings))
	for _, t := range menu.Toppings {
		toppings[t.ID] = t
	}

	lines := make([]pricing.CartLine, 0, len(items))
	for i, item := range items {
		p, ok := products[strings.TrimSpace(item.ProductID)]
		if !ok {
			return nil, fmt.Errorf("item %d: product %q: %w", i, item.ProductID, ErrUnknownProduct)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item %d: quantity must be positive: %w", i, ErrUnknownProduct)
		}
		line := pricing.CartLine{
			ProductID:          p.ID,
			Name:               p.Name,
			Quantity:           item.Quantity,
			UnitPriceRetail:    p.PriceRetail,
			UnitPriceWholesale: p.PriceWholesale,
			WholesaleMinQty:    p.WholesaleMinQty,
		}
		for _, id := range item.Toppings {
			t, ok := toppings[strings.TrimSpace(id)]
			if !ok || !offers(p, t.ID) {
				return nil, fmt.Errorf("item %d: topping %q not offered: %w", i, id, ErrUnknownProduct)
			}
			line.Toppings = append(line.Toppings, pricing.Topping{ID: t.ID, Name: t.Name, PriceExtra: t.PriceExtra})
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func offers(p Product, toppingID string) bool {
	for _, id := range p.ToppingIDs {
		if id == toppingID {
			return true
		}
	}
	return false
}

// Products lists every product of the merchant for the dashboard, inactive ones included.
func (s *Service) Products(ctx context.Context, merchantID string) ([]Product, error) {
	return s.Q.ListProducts(ctx, merchantID, true)
}

// Toppings lists every topping of the merchant for the dashboard.
func (s *Service) Toppings(ctx context.Context, merchantID string) ([]Topping, error) {
	return s.Q.ListToppings(ctx, merchantID, true)
}

// SaveProduct validates and stores a product, then drops the cached menu.
func (s *Service) SaveProduct(ctx context.Context, p Product) (Product, error) {
	if err := validateProduct(p); err != nil {
		return Product{}, err
	}
	saved, err := s.Q.UpsertProduct(ctx, p)
	if err != nil {
		return Product{}, err
	}
	s.invalidate(ctx, p.MerchantID)
	return saved, nil
}

// SaveTopping validates and stores a topping, then drops the cached menu.
func (s *Service) SaveTopping(ctx context.Context, t Topping) (Topping, error) {
	if strings.TrimSpace(t.Name) == "" {
		return Topping{}, fmt.Errorf("topping name is required: %w", ErrInvalidProduct)
	}
	if t.PriceExtra.IsNegative() {
		return Topping{}, fmt.Errorf("topping price must not be negative: %w", ErrInvalidProduct)
	}
	saved, err := s.Q.UpsertTopping(ctx, t)
	if err != nil {
		return Topping{}, err
	}
	s.invalidate(ctx, t.MerchantID)
	return saved, nil
}

func (s *Service) invalidate(ctx context.Context, merchantID string) {
	if err := s.Cache.Delete(ctx, menuKey(merchantID)); err != nil {
		s.Logger.Warn().Err(err).Str("merchant_id", merchantID).Msg("menu cache invalidation failed")
	}
}

func validateProduct(p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product name is required: %w", ErrInvalidProduct)
	}
	if p.PriceRetail.IsNegative() {
		return fmt.Errorf("retail price must not be negative: %w", ErrInvalidProduct)
	}
	if p.PriceWholesale != nil && p.PriceWholesale.IsNegative() {
		return fmt.Errorf("wholesale price must not be negative: %w", ErrInvalidProduct)
	}
	if p.WholesaleMinQty != nil && *p.WholesaleMinQty <= 0 {
		return fmt.Errorf("wholesale threshold must be positive: %w", ErrInvalidProduct)
	}
	if (p.PriceWholesale == nil) != (p.WholesaleMinQty == nil) {
		return fmt.Errorf("wholesale price and threshold go together: %w", ErrInvalidProduct)
	}
	return nil
}
