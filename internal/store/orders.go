package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/pedilo-api/internal/order"
	"github.com/noah-isme/pedilo-api/internal/promotion"
)

const orderColumns = `id, merchant_id, tracking_code, status, customer_name, customer_phone, delivery_mode,
	delivery_address, notes, items, coupon_code, COALESCE(promotion_id, ''), subtotal, discount, total, created_at, updated_at`

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o            order.Order
		status, mode string
		items        []byte
	)
	err := row.Scan(&o.ID, &o.MerchantID, &o.TrackingCode, &status, &o.Customer.Name, &o.Customer.Phone, &mode,
		&o.Delivery.Address, &o.Notes, &items, &o.CouponCode, &o.PromotionID, &o.Subtotal, &o.Discount, &o.Total,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, order.ErrNotFound
		}
		return order.Order{}, err
	}
	o.Status = order.Status(status)
	o.Delivery.Mode = order.DeliveryMode(mode)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	return o, nil
}

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// CreateOrder implements order.Querier. The usage increment is a conditional
// update so concurrent redemptions can never push the count past the limit.
func (s *Postgres) CreateOrder(ctx context.Context, o order.Order, r *order.Redemption) (order.Order, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return order.Order{}, fmt.Errorf("encode order items: %w", err)
	}
	var created order.Order
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if r != nil {
			tag, err := tx.Exec(ctx, `
				UPDATE promotions SET usage_count = usage_count + 1, updated_at = now()
				WHERE id = $1 AND merchant_id = $2 AND (usage_limit IS NULL OR usage_count < usage_limit)`,
				r.PromotionID, o.MerchantID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return promotion.ErrUsageLimitReached
			}
		}
		created, err = scanOrder(tx.QueryRow(ctx, `
			INSERT INTO orders (id, merchant_id, tracking_code, status, customer_name, customer_phone, delivery_mode,
				delivery_address, notes, items, coupon_code, promotion_id, subtotal, discount, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING `+orderColumns,
			o.ID, o.MerchantID, o.TrackingCode, string(o.Status), o.Customer.Name, o.Customer.Phone,
			string(o.Delivery.Mode), o.Delivery.Address, o.Notes, items, o.CouponCode, nullableText(o.PromotionID),
			o.Subtotal, o.Discount, o.Total))
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO promotion_redemptions (id, promotion_id, order_id, code, amount)
			VALUES ($1, $2, $3, $4, $5)`, uuid.NewString(), r.PromotionID, o.ID, r.Code, r.Amount)
		return err
	})
	if err != nil {
		return order.Order{}, err
	}
	return created, nil
}

// GetOrder implements order.Querier.
func (s *Postgres) GetOrder(ctx context.Context, merchantID, id string) (order.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE merchant_id = $1 AND id = $2`, merchantID, id))
}

// GetOrderByTrackingCode implements order.Querier.
func (s *Postgres) GetOrderByTrackingCode(ctx context.Context, merchantID, code string) (order.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE merchant_id = $1 AND tracking_code = $2`, merchantID, code))
}

// ListOrders implements order.Querier, newest first.
func (s *Postgres) ListOrders(ctx context.Context, merchantID string, f order.ListFilter) ([]order.Order, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE merchant_id = $1 AND ($2 = '' OR status = $2)`,
		merchantID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE merchant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, tracking_code
		LIMIT $3 OFFSET $4`, merchantID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// UpdateOrderStatus implements order.Querier. The update only applies while
// the order still has status from.
func (s *Postgres) UpdateOrderStatus(ctx context.Context, merchantID, id string, from, to order.Status) (order.Order, error) {
	updated, err := scanOrder(s.pool.QueryRow(ctx, `
		UPDATE orders SET status = $4, updated_at = now()
		WHERE merchant_id = $1 AND id = $2 AND status = $3
		RETURNING `+orderColumns, merchantID, id, string(from), string(to)))
	if !errors.Is(err, order.ErrNotFound) {
		return updated, err
	}
	if _, err := s.GetOrder(ctx, merchantID, id); err != nil {
		return order.Order{}, err
	}
	return order.Order{}, order.ErrStaleStatus
}
