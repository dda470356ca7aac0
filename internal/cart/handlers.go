package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/pricing"
	"github.com/noah-isme/pedilo-api/internal/promotion"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc       *Service
	Validator *validator.Validate
	Logger    zerolog.Logger
}

type saveRequest struct {
	Items      []catalog.ItemRequest `json:"items" validate:"max=100,dive"`
	CouponCode string                `json:"codigo_cupon" validate:"max=40"`
}

type cartView struct {
	Token            string                `json:"token"`
	Items            []catalog.ItemRequest `json:"items"`
	CouponCode       string                `json:"codigo_cupon,omitempty"`
	LastTrackingCode string                `json:"ultimo_pedido,omitempty"`
	UpdatedAt        *time.Time            `json:"actualizado_en,omitempty"`
}

type lineView struct {
	ProductID string      `json:"producto_id"`
	Name      string      `json:"nombre"`
	Quantity  int         `json:"cantidad"`
	UnitPrice json.Number `json:"precio_unitario"`
	Wholesale bool        `json:"mayorista"`
	Toppings  []string    `json:"toppings,omitempty"`
	Total     json.Number `json:"total"`
}

type couponView struct {
	Code   string           `json:"codigo"`
	Valid  bool             `json:"valido"`
	Reason promotion.Reason `json:"motivo,omitempty"`
}

func toCartView(c Cart) cartView {
	v := cartView{Token: c.Token, Items: c.Items, CouponCode: c.CouponCode, LastTrackingCode: c.LastTrackingCode}
	if !c.UpdatedAt.IsZero() {
		at := c.UpdatedAt
		v.UpdatedAt = &at
	}
	return v
}

// Get handles GET /api/v1/{merchant}/cart/{token}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	c, err := h.Svc.Store.Get(r.Context(), m.Slug, chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, toCartView(c))
}

// Put handles PUT /api/v1/{merchant}/cart/{token}.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	var req saveRequest
	if err := common.DecodeJSON(r, h.Validator, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Svc.Store.Save(r.Context(), m.Slug, Cart{
		Token:      chi.URLParam(r, "token"),
		Items:      req.Items,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, toCartView(c))
}

// Delete handles DELETE /api/v1/{merchant}/cart/{token}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	if err := h.Svc.Store.Clear(r.Context(), m.Slug, chi.URLParam(r, "token")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Quote handles GET /api/v1/{merchant}/cart/{token}/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	q, err := h.Svc.Quote(r.Context(), m, chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	lines := make([]lineView, 0, len(q.Lines))
	for _, l := range q.Lines {
		lv := lineView{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: pricing.Number(pricing.EffectiveUnitPrice(l)),
			Wholesale: pricing.WholesaleApplies(l),
			Total:     pricing.Number(pricing.LineTotal(l)),
		}
		for _, t := range l.Toppings {
			lv.Toppings = append(lv.Toppings, t.ID)
		}
		lines = append(lines, lv)
	}
	data := map[string]any{
		"carrito":       toCartView(q.Cart),
		"lineas":        lines,
		"subtotal":      pricing.Number(q.Summary.Subtotal),
		"descuento":     pricing.Number(q.Summary.Discount),
		"total":         pricing.Number(q.Summary.Total),
		"total_display": pricing.Format(q.Summary.Total),
		"pedido_minimo": pricing.Number(q.MinimumOrder),
		"faltante":      pricing.Number(q.Shortfall),
		"supera_minimo": !q.Shortfall.IsPositive(),
	}
	if q.Coupon != nil {
		data["cupon"] = couponView{Code: q.Cart.CouponCode, Valid: q.Coupon.Valid, Reason: q.Coupon.Reason}
	}
	common.Data(w, http.StatusOK, data)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_CART", err.Error(), nil)
	case errors.Is(err, catalog.ErrUnknownProduct):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_PRODUCT", err.Error(), nil)
	case errors.Is(err, promotion.ErrMalformed):
		h.Logger.Error().Err(err).Msg("stored promotion is malformed")
		common.JSONError(w, http.StatusInternalServerError, "PROMOTION_MISCONFIGURED", "promotion cannot be evaluated", nil)
	default:
		h.Logger.Error().Err(err).Msg("cart request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
