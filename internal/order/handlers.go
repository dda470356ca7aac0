package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/pricing"
)

// Handler exposes order tracking and dashboard order management.
type Handler struct {
	Svc       *Service
	Validator *validator.Validate
}

type statusRequest struct {
	Status Status `json:"estado" validate:"required"`
}

type itemView struct {
	ProductID string      `json:"producto_id"`
	Name      string      `json:"nombre"`
	Quantity  int         `json:"cantidad"`
	UnitPrice json.Number `json:"precio_unitario"`
	Toppings  []string    `json:"toppings,omitempty"`
	Total     json.Number `json:"total"`
}

// View is the JSON shape of an order.
type View struct {
	ID           string      `json:"id,omitempty"`
	TrackingCode string      `json:"codigo_seguimiento"`
	Status       Status      `json:"estado"`
	Customer     *Customer   `json:"cliente,omitempty"`
	Delivery     Delivery    `json:"entrega"`
	Notes        string      `json:"notas,omitempty"`
	Items        []itemView  `json:"items"`
	CouponCode   string      `json:"cupon,omitempty"`
	Subtotal     json.Number `json:"subtotal"`
	Discount     json.Number `json:"descuento"`
	Total        json.Number `json:"total"`
	CreatedAt    time.Time   `json:"creado_en"`
	UpdatedAt    time.Time   `json:"actualizado_en"`
}

// NewView renders an order. Customer contact details are only included for the dashboard.
func NewView(o Order, withCustomer bool) View {
	v := View{
		TrackingCode: o.TrackingCode,
		Status:       o.Status,
		Delivery:     o.Delivery,
		Notes:        o.Notes,
		Items:        make([]itemView, 0, len(o.Items)),
		CouponCode:   o.CouponCode,
		Subtotal:     pricing.Number(o.Subtotal),
		Discount:     pricing.Number(o.Discount),
		Total:        pricing.Number(o.Total),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	if withCustomer {
		v.ID = o.ID
		c := o.Customer
		v.Customer = &c
	} else {
		v.Delivery.Address = ""
	}
	for _, it := range o.Items {
		iv := itemView{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: pricing.Number(it.UnitPrice),
			Total:     pricing.Number(it.LineTotal),
		}
		for _, t := range it.Toppings {
			iv.Toppings = append(iv.Toppings, t.ID)
		}
		v.Items = append(v.Items, iv)
	}
	return v
}

// Track handles GET /api/v1/{merchant}/orders/{code}.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	o, err := h.Svc.Track(r.Context(), m.ID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, NewView(o, false))
}

// List handles GET /api/v1/dashboard/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	page := common.ParsePage(r, 20, 100)
	items, total, err := h.Svc.List(r.Context(), m.ID, ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  page.Size,
		Offset: page.Offset(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]View, 0, len(items))
	for _, o := range items {
		out = append(out, NewView(o, true))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       out,
		"pagination": common.NewPagination(page, total),
	})
}

// UpdateStatus handles PATCH /api/v1/dashboard/orders/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	var req statusRequest
	if err := common.DecodeJSON(r, h.Validator, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Svc.UpdateStatus(r.Context(), m.ID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, NewView(o, true))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrInvalidStatus):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_STATUS", err.Error(), nil)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleStatus):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	default:
		h.Svc.Logger.Error().Err(err).Msg("order request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
