package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/pedilo-api/internal/promotion"
)

const promotionColumns = `id, merchant_id, code, description, kind, value, buy_x, pay_y, product_ids, weekdays,
	active, expires_at, usage_limit, usage_count, min_purchase, created_at, updated_at`

func toPromotionArgs(p promotion.Promotion) []any {
	f := promotion.FieldsOf(p.Benefit)
	products := f.ProductIDs
	if products == nil {
		products = []string{}
	}
	weekdays := make([]int32, 0, len(p.Weekdays))
	for _, d := range p.Weekdays {
		weekdays = append(weekdays, int32(d))
	}
	return []any{
		p.ID, p.MerchantID, promotion.NormalizeCode(p.Code), p.Description, string(f.Kind), f.Value,
		int32(f.BuyX), int32(f.PayY), products, weekdays, p.Active, p.ExpiresAt, int32Ptr(p.UsageLimit),
		p.MinPurchase,
	}
}

func scanPromotion(row pgx.Row) (promotion.Promotion, error) {
	var (
		p          promotion.Promotion
		kind       string
		f          promotion.Fields
		buyX, payY int32
		weekdays   []int32
		limit      *int32
		count      int32
	)
	err := row.Scan(&p.ID, &p.MerchantID, &p.Code, &p.Description, &kind, &f.Value, &buyX, &payY, &f.ProductIDs,
		&weekdays, &p.Active, &p.ExpiresAt, &limit, &count, &p.MinPurchase, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promotion.Promotion{}, promotion.ErrNotFound
		}
		return promotion.Promotion{}, err
	}
	f.Kind = promotion.Kind(kind)
	f.BuyX, f.PayY = int(buyX), int(payY)
	benefit, err := f.Benefit()
	if err != nil {
		return promotion.Promotion{}, err
	}
	p.Benefit = benefit
	for _, d := range weekdays {
		p.Weekdays = append(p.Weekdays, time.Weekday(d))
	}
	p.UsageLimit = intPtr(limit)
	p.UsageCount = int(count)
	return p, nil
}

func (s *Postgres) queryPromotions(ctx context.Context, q dbtx, sql string, args ...any) ([]promotion.Promotion, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []promotion.Promotion{}
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPromotionByCode implements promotion.Querier.
func (s *Postgres) GetPromotionByCode(ctx context.Context, merchantID, code string) (promotion.Promotion, error) {
	return scanPromotion(s.pool.QueryRow(ctx,
		`SELECT `+promotionColumns+` FROM promotions WHERE merchant_id = $1 AND code = $2`,
		merchantID, promotion.NormalizeCode(code)))
}

// GetPromotion implements promotion.Querier.
func (s *Postgres) GetPromotion(ctx context.Context, merchantID, id string) (promotion.Promotion, error) {
	return scanPromotion(s.pool.QueryRow(ctx,
		`SELECT `+promotionColumns+` FROM promotions WHERE merchant_id = $1 AND id = $2`, merchantID, id))
}

// ListPromotions implements promotion.Querier.
func (s *Postgres) ListPromotions(ctx context.Context, merchantID string) ([]promotion.Promotion, error) {
	return s.queryPromotions(ctx, s.pool,
		`SELECT `+promotionColumns+` FROM promotions WHERE merchant_id = $1 ORDER BY created_at DESC, code`, merchantID)
}

// CreatePromotion implements promotion.Querier.
func (s *Postgres) CreatePromotion(ctx context.Context, p promotion.Promotion) (promotion.Promotion, error) {
	created, err := scanPromotion(s.pool.QueryRow(ctx, `
		INSERT INTO promotions (id, merchant_id, code, description, kind, value, buy_x, pay_y, product_ids, weekdays,
			active, expires_at, usage_limit, min_purchase)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+promotionColumns, toPromotionArgs(p)...))
	if isUniqueViolation(err) {
		return promotion.Promotion{}, promotion.ErrDuplicateCode
	}
	return created, err
}

// UpdatePromotion implements promotion.Querier. The usage count is never overwritten.
func (s *Postgres) UpdatePromotion(ctx context.Context, p promotion.Promotion) (promotion.Promotion, error) {
	updated, err := scanPromotion(s.pool.QueryRow(ctx, `
		UPDATE promotions SET
			code = $3, description = $4, kind = $5, value = $6, buy_x = $7, pay_y = $8, product_ids = $9,
			weekdays = $10, active = $11, expires_at = $12, usage_limit = $13, min_purchase = $14, updated_at = now()
		WHERE id = $1 AND merchant_id = $2
		RETURNING `+promotionColumns, toPromotionArgs(p)...))
	if isUniqueViolation(err) {
		return promotion.Promotion{}, promotion.ErrDuplicateCode
	}
	return updated, err
}

// SetPromotionActive implements promotion.Querier.
func (s *Postgres) SetPromotionActive(ctx context.Context, merchantID, id string, active bool) (promotion.Promotion, error) {
	return scanPromotion(s.pool.QueryRow(ctx, `
		UPDATE promotions SET active = $3, updated_at = now()
		WHERE merchant_id = $1 AND id = $2
		RETURNING `+promotionColumns, merchantID, id, active))
}
