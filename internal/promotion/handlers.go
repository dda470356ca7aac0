package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/audit"
	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/pricing"
)

// LineResolver prices storefront items.
type LineResolver interface {
	ResolveLines(ctx context.Context, merchantID string, items []catalog.ItemRequest) ([]pricing.CartLine, error)
}

// Handler exposes coupon validation and promotion administration.
type Handler struct {
	Svc       *Service
	Catalog   LineResolver
	Validator *validator.Validate
	Audit     *audit.Service
	Logger    zerolog.Logger
}

type validateRequest struct {
	Code  string                `json:"codigo" validate:"required,max=40"`
	Items []catalog.ItemRequest `json:"items" validate:"dive"`
}

type validateResponse struct {
	Valid     bool           `json:"valido"`
	Discount  json.Number    `json:"descuento"`
	Subtotal  json.Number    `json:"subtotal"`
	Total     json.Number    `json:"total"`
	Reason    Reason         `json:"motivo,omitempty"`
	Promotion *promotionView `json:"promocion,omitempty"`
}

type promotionPayload struct {
	Code        string          `json:"codigo" validate:"required,max=40"`
	Kind        Kind            `json:"tipo" validate:"required,oneof=percentage fixed_amount buy_x_pay_y"`
	Value       decimal.Decimal `json:"valor"`
	Active      *bool           `json:"activo"`
	ExpiresAt   string          `json:"expira_en"`
	UsageLimit  *int            `json:"limite_usos" validate:"omitempty,gte=0"`
	MinPurchase decimal.Decimal `json:"compra_minima"`
	ProductIDs  []string        `json:"productos" validate:"dive,required"`
	Weekdays    []int           `json:"dias" validate:"max=7,dive,min=0,max=6"`
	BuyX        int             `json:"compra_x" validate:"gte=0"`
	PayY        int             `json:"paga_y" validate:"gte=0"`
	Description string          `json:"descripcion" validate:"max=200"`
}

type promotionView struct {
	ID          string      `json:"id"`
	Code        string      `json:"codigo"`
	Kind        Kind        `json:"tipo"`
	Value       json.Number `json:"valor,omitempty"`
	Active      bool        `json:"activo"`
	ExpiresAt   *time.Time  `json:"expira_en,omitempty"`
	UsageLimit  *int        `json:"limite_usos,omitempty"`
	UsageCount  int         `json:"usos"`
	MinPurchase json.Number `json:"compra_minima"`
	ProductIDs  []string    `json:"productos,omitempty"`
	Weekdays    []int       `json:"dias,omitempty"`
	BuyX        int         `json:"compra_x,omitempty"`
	PayY        int         `json:"paga_y,omitempty"`
	Description string      `json:"descripcion,omitempty"`
}

// ValidateCoupon handles POST /api/v1/{merchant}/validate-coupon.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusNotFound, "MERCHANT_NOT_FOUND", "merchant not found", nil)
		return
	}
	var req validateRequest
	if err := common.DecodeJSON(r, h.Validator, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	lines, err := h.Catalog.ResolveLines(r.Context(), m.ID, req.Items)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownProduct) {
			common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_PRODUCT", err.Error(), nil)
			return
		}
		h.Logger.Error().Err(err).Str("merchant", m.Slug).Msg("resolve coupon cart failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to price cart", nil)
		return
	}
	result, err := h.Svc.ValidateCoupon(r.Context(), m, req.Code, lines)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			h.Logger.Error().Err(err).Str("merchant", m.Slug).Str("code", NormalizeCode(req.Code)).Msg("stored promotion is malformed")
			common.JSONError(w, http.StatusInternalServerError, "PROMOTION_MISCONFIGURED", "promotion cannot be evaluated", nil)
			return
		}
		h.Logger.Error().Err(err).Str("merchant", m.Slug).Msg("coupon validation failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to validate coupon", nil)
		return
	}
	resp := validateResponse{
		Valid:    result.Valid,
		Discount: pricing.Number(result.Discount),
		Subtotal: pricing.Number(result.Subtotal),
		Total:    pricing.Number(result.Total),
		Reason:   result.Reason,
	}
	if result.Promotion != nil {
		view := toView(*result.Promotion)
		resp.Promotion = &view
	}
	common.Data(w, http.StatusOK, resp)
}

// List handles GET /api/v1/dashboard/promotions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	items, err := h.Svc.List(r.Context(), m.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]promotionView, 0, len(items))
	for _, p := range items {
		out = append(out, toView(p))
	}
	common.Data(w, http.StatusOK, out)
}

// Get handles GET /api/v1/dashboard/promotions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	p, err := h.Svc.Get(r.Context(), m.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, toView(p))
}

// Create handles POST /api/v1/dashboard/promotions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	p, err := h.decodePromotion(r, m)
	if err != nil {
		h.writeError(w, err)
		return
	}
	p.ID = uuid.NewString()
	created, err := h.Svc.Create(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Audit.Track(r.Context(), m.ID, "promotion.create", "promotion", created.ID, r, http.StatusCreated, map[string]any{"code": created.Code})
	common.Data(w, http.StatusCreated, toView(created))
}

// Update handles PUT /api/v1/dashboard/promotions/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	p, err := h.decodePromotion(r, m)
	if err != nil {
		h.writeError(w, err)
		return
	}
	p.ID = strings.TrimSpace(chi.URLParam(r, "id"))
	updated, err := h.Svc.Update(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Audit.Track(r.Context(), m.ID, "promotion.update", "promotion", updated.ID, r, http.StatusOK, map[string]any{"code": updated.Code})
	common.Data(w, http.StatusOK, toView(updated))
}

// Toggle handles POST /api/v1/dashboard/promotions/{id}/toggle.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	p, err := h.Svc.Toggle(r.Context(), m.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Audit.Track(r.Context(), m.ID, "promotion.toggle", "promotion", p.ID, r, http.StatusOK, map[string]any{"code": p.Code, "active": p.Active})
	common.Data(w, http.StatusOK, toView(p))
}

func (h *Handler) decodePromotion(r *http.Request, m merchant.Merchant) (Promotion, error) {
	var payload promotionPayload
	if err := common.DecodeJSON(r, h.Validator, &payload); err != nil {
		return Promotion{}, err
	}
	if payload.Kind == KindPercentage && payload.Value.GreaterThan(hundred) {
		return Promotion{}, fmt.Errorf("percentage must be between 0 and 100: %w", ErrMalformed)
	}
	if payload.Kind != KindBuyXPayY && len(payload.ProductIDs) > 0 {
		return Promotion{}, fmt.Errorf("productos only apply to %s promotions: %w", KindBuyXPayY, ErrMalformed)
	}
	if payload.Kind == KindBuyXPayY && len(payload.ProductIDs) > 0 {
		if err := h.checkProducts(r.Context(), m.ID, payload.ProductIDs); err != nil {
			return Promotion{}, err
		}
	}
	benefit, err := Fields{
		Kind:       payload.Kind,
		Value:      payload.Value,
		BuyX:       payload.BuyX,
		PayY:       payload.PayY,
		ProductIDs: payload.ProductIDs,
	}.Benefit()
	if err != nil {
		return Promotion{}, err
	}
	expires, err := ParseExpiry(payload.ExpiresAt, m.Location(h.Svc.Location))
	if err != nil {
		return Promotion{}, err
	}
	weekdays := make([]time.Weekday, 0, len(payload.Weekdays))
	for _, d := range payload.Weekdays {
		weekdays = append(weekdays, WeekdayFromIndex(d))
	}
	return Promotion{
		MerchantID:  m.ID,
		Code:        payload.Code,
		Description: strings.TrimSpace(payload.Description),
		Active:      payload.Active == nil || *payload.Active,
		ExpiresAt:   expires,
		UsageLimit:  payload.UsageLimit,
		MinPurchase: payload.MinPurchase,
		Weekdays:    weekdays,
		Benefit:     benefit,
	}, nil
}

// checkProducts makes sure every scoped product exists in the merchant catalog.
func (h *Handler) checkProducts(ctx context.Context, merchantID string, ids []string) error {
	items := make([]catalog.ItemRequest, 0, len(ids))
	for _, id := range ids {
		items = append(items, catalog.ItemRequest{ProductID: id, Quantity: 1})
	}
	if _, err := h.Catalog.ResolveLines(ctx, merchantID, items); err != nil {
		if errors.Is(err, catalog.ErrUnknownProduct) {
			return fmt.Errorf("productos: %v: %w", err, ErrMalformed)
		}
		return err
	}
	return nil
}

// ParseExpiry accepts an RFC3339 instant or a YYYY-MM-DD date, which means the
// last instant of that day in loc. Empty input means no expiry.
func ParseExpiry(raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return nil, fmt.Errorf("expira_en %q is not a date: %w", raw, ErrMalformed)
	}
	end := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return &end, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "promotion not found", nil)
	case errors.Is(err, ErrDuplicateCode):
		common.JSONError(w, http.StatusConflict, "DUPLICATE_CODE", "promotion code already exists", nil)
	case errors.Is(err, ErrMalformed):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_PROMOTION", err.Error(), nil)
	case common.IsAppError(err):
		common.WriteError(w, err)
	default:
		h.Logger.Error().Err(err).Msg("promotion request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func toView(p Promotion) promotionView {
	f := FieldsOf(p.Benefit)
	v := promotionView{
		ID:          p.ID,
		Code:        p.Code,
		Kind:        f.Kind,
		Active:      p.Active,
		ExpiresAt:   p.ExpiresAt,
		UsageLimit:  p.UsageLimit,
		UsageCount:  p.UsageCount,
		MinPurchase: pricing.Number(p.MinPurchase),
		ProductIDs:  f.ProductIDs,
		BuyX:        f.BuyX,
		PayY:        f.PayY,
		Description: p.Description,
	}
	if f.Kind != KindBuyXPayY {
		v.Value = pricing.Number(f.Value)
	}
	for _, d := range p.Weekdays {
		v.Weekdays = append(v.Weekdays, WeekdayIndex(d))
	}
	return v
}
