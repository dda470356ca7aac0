package checkout

import (
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/pricing"
)

// Handler exposes storefront order submission.
type Handler struct {
	Svc       *Service
	Validator *validator.Validate
}

// Checkout handles POST /api/v1/{merchant}/orders.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusNotFound, "MERCHANT_NOT_FOUND", "merchant not found", nil)
		return
	}
	var payload Input
	if err := common.DecodeJSON(r, h.Validator, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Svc.CreateOrder(r.Context(), m, payload)
	if err != nil {
		if !common.IsAppError(err) {
			h.Svc.Logger.Error().Err(err).Str("merchant", m.Slug).Msg("order creation failed")
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"id":                 o.ID,
			"codigo_seguimiento": o.TrackingCode,
			"estado":             o.Status,
			"subtotal":           pricing.Number(o.Subtotal),
			"descuento":          pricing.Number(o.Discount),
			"total":              pricing.Number(o.Total),
		},
	})
}
