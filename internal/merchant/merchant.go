package merchant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/noah-isme/pedilo-api/internal/pricing"
)

// ErrNotFound is returned when no active merchant matches the lookup.
var ErrNotFound = errors.New("merchant not found")

// BusinessType drives merchant defaults such as the minimum order.
type BusinessType string

const (
	BusinessRestaurant BusinessType = "restaurant"
	BusinessRetail     BusinessType = "retail"
	BusinessWholesale  BusinessType = "wholesale"
)

// Valid reports whether t is a known business type.
func (t BusinessType) Valid() bool {
	switch t {
	case BusinessRestaurant, BusinessRetail, BusinessWholesale:
		return true
	}
	return false
}

// Merchant is a storefront owner.
type Merchant struct {
	ID             string
	Slug           string
	Name           string
	BusinessType   BusinessType
	MinOrderAmount *pricing.Money
	Timezone       string
	WebhookURL     string
	WebhookSecret  string
	PasswordHash   string
	Active         bool
	CreatedAt      time.Time
}

// Location returns the merchant time zone, falling back to fallback and then UTC.
func (m Merchant) Location(fallback *time.Location) *time.Location {
	if name := strings.TrimSpace(m.Timezone); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

// Querier loads merchants from storage.
type Querier interface {
	GetMerchantBySlug(ctx context.Context, slug string) (Merchant, error)
	GetMerchantByID(ctx context.Context, id string) (Merchant, error)
}

// NormalizeSlug canonicalises a merchant slug.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
