package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/merchant"
)

const merchantColumns = `id, slug, name, business_type, min_order_amount, timezone, webhook_url, webhook_secret, password_hash, active, created_at`

func scanMerchant(row pgx.Row) (merchant.Merchant, error) {
	var (
		m        merchant.Merchant
		kind     string
		minOrder decimal.NullDecimal
	)
	err := row.Scan(&m.ID, &m.Slug, &m.Name, &kind, &minOrder, &m.Timezone, &m.WebhookURL, &m.WebhookSecret, &m.PasswordHash, &m.Active, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return merchant.Merchant{}, merchant.ErrNotFound
		}
		return merchant.Merchant{}, err
	}
	m.BusinessType = merchant.BusinessType(kind)
	if minOrder.Valid {
		v := minOrder.Decimal
		m.MinOrderAmount = &v
	}
	return m, nil
}

// GetMerchantBySlug implements merchant.Querier.
func (s *Postgres) GetMerchantBySlug(ctx context.Context, slug string) (merchant.Merchant, error) {
	return scanMerchant(s.pool.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE slug = $1`, merchant.NormalizeSlug(slug)))
}

// GetMerchantByID implements merchant.Querier.
func (s *Postgres) GetMerchantByID(ctx context.Context, id string) (merchant.Merchant, error) {
	return scanMerchant(s.pool.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id))
}

// UpsertMerchant inserts or updates a merchant by id.
func (s *Postgres) UpsertMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	var minOrder decimal.NullDecimal
	if m.MinOrderAmount != nil {
		minOrder = decimal.NullDecimal{Decimal: *m.MinOrderAmount, Valid: true}
	}
	return scanMerchant(s.pool.QueryRow(ctx, `
		INSERT INTO merchants (id, slug, name, business_type, min_order_amount, timezone, webhook_url, webhook_secret, password_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug, name = EXCLUDED.name, business_type = EXCLUDED.business_type,
			min_order_amount = EXCLUDED.min_order_amount, timezone = EXCLUDED.timezone,
			webhook_url = EXCLUDED.webhook_url, webhook_secret = EXCLUDED.webhook_secret,
			password_hash = EXCLUDED.password_hash, active = EXCLUDED.active
		RETURNING `+merchantColumns,
		m.ID, merchant.NormalizeSlug(m.Slug), m.Name, string(m.BusinessType), minOrder, m.Timezone,
		m.WebhookURL, m.WebhookSecret, m.PasswordHash, m.Active))
}

const productColumns = `id, merchant_id, name, description, category, price_retail, price_wholesale, wholesale_min_qty, topping_ids, active, position, updated_at`

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var (
		p         catalog.Product
		wholesale decimal.NullDecimal
		minQty    *int32
		position  int32
	)
	if err := row.Scan(&p.ID, &p.MerchantID, &p.Name, &p.Description, &p.Category, &p.PriceRetail,
		&wholesale, &minQty, &p.ToppingIDs, &p.Active, &position, &p.UpdatedAt); err != nil {
		return catalog.Product{}, err
	}
	if wholesale.Valid {
		v := wholesale.Decimal
		p.PriceWholesale = &v
	}
	p.WholesaleMinQty = intPtr(minQty)
	p.Position = int(position)
	return p, nil
}

// ListProducts implements catalog.Querier.
func (s *Postgres) ListProducts(ctx context.Context, merchantID string, includeInactive bool) ([]catalog.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE merchant_id = $1 AND (active OR $2)
		ORDER BY position, name`, merchantID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []catalog.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProduct implements catalog.Querier.
func (s *Postgres) UpsertProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	var wholesale decimal.NullDecimal
	if p.PriceWholesale != nil {
		wholesale = decimal.NullDecimal{Decimal: *p.PriceWholesale, Valid: true}
	}
	toppings := p.ToppingIDs
	if toppings == nil {
		toppings = []string{}
	}
	return scanProduct(s.pool.QueryRow(ctx, `
		INSERT INTO products (id, merchant_id, name, description, category, price_retail, price_wholesale, wholesale_min_qty, topping_ids, active, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (merchant_id, id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, category = EXCLUDED.category,
			price_retail = EXCLUDED.price_retail, price_wholesale = EXCLUDED.price_wholesale,
			wholesale_min_qty = EXCLUDED.wholesale_min_qty, topping_ids = EXCLUDED.topping_ids,
			active = EXCLUDED.active, position = EXCLUDED.position, updated_at = now()
		RETURNING `+productColumns,
		p.ID, p.MerchantID, p.Name, p.Description, p.Category, p.PriceRetail, wholesale,
		int32Ptr(p.WholesaleMinQty), toppings, p.Active, int32(p.Position)))
}

// ListToppings implements catalog.Querier.
func (s *Postgres) ListToppings(ctx context.Context, merchantID string, includeInactive bool) ([]catalog.Topping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, merchant_id, name, price_extra, active
		FROM toppings
		WHERE merchant_id = $1 AND (active OR $2)
		ORDER BY name`, merchantID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []catalog.Topping{}
	for rows.Next() {
		var t catalog.Topping
		if err := rows.Scan(&t.ID, &t.MerchantID, &t.Name, &t.PriceExtra, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTopping implements catalog.Querier.
func (s *Postgres) UpsertTopping(ctx context.Context, t catalog.Topping) (catalog.Topping, error) {
	var out catalog.Topping
	err := s.pool.QueryRow(ctx, `
		INSERT INTO toppings (id, merchant_id, name, price_extra, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (merchant_id, id) DO UPDATE SET
			name = EXCLUDED.name, price_extra = EXCLUDED.price_extra, active = EXCLUDED.active
		RETURNING id, merchant_id, name, price_extra, active`,
		t.ID, t.MerchantID, t.Name, t.PriceExtra, t.Active,
	).Scan(&out.ID, &out.MerchantID, &out.Name, &out.PriceExtra, &out.Active)
	return out, err
}
