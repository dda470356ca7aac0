package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/audit"
	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/pricing"
)

// Handler exposes the public menu and dashboard catalog endpoints.
type Handler struct {
	Service   *Service
	Validator *validator.Validate
	Audit     *audit.Service
}

type productView struct {
	ID              string      `json:"id"`
	Name            string      `json:"nombre"`
	Description     string      `json:"descripcion,omitempty"`
	Category        string      `json:"categoria,omitempty"`
	PriceRetail     json.Number `json:"precio"`
	PriceWholesale  json.Number `json:"precio_mayorista,omitempty"`
	WholesaleMinQty *int        `json:"cantidad_mayorista,omitempty"`
	ToppingIDs      []string    `json:"toppings"`
	Active          bool        `json:"activo"`
	Position        int         `json:"orden"`
}

type toppingView struct {
	ID         string      `json:"id"`
	Name       string      `json:"nombre"`
	PriceExtra json.Number `json:"precio_extra"`
	Active     bool        `json:"activo"`
}

type productPayload struct {
	Name            string           `json:"nombre" validate:"required,max=120"`
	Description     string           `json:"descripcion" validate:"max=500"`
	Category        string           `json:"categoria" validate:"max=80"`
	PriceRetail     decimal.Decimal  `json:"precio"`
	PriceWholesale  *decimal.Decimal `json:"precio_mayorista"`
	WholesaleMinQty *int             `json:"cantidad_mayorista" validate:"omitempty,gt=0"`
	ToppingIDs      []string         `json:"toppings" validate:"dive,required"`
	Active          *bool            `json:"activo"`
	Position        int              `json:"orden" validate:"gte=0"`
}

type toppingPayload struct {
	Name       string          `json:"nombre" validate:"required,max=80"`
	PriceExtra decimal.Decimal `json:"precio_extra"`
	Active     *bool           `json:"activo"`
}

// Menu handles GET /api/v1/{merchant}/menu.
func (h *Handler) Menu(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusNotFound, "MERCHANT_NOT_FOUND", "merchant not found", nil)
		return
	}
	menu, err := h.Service.Menu(r.Context(), m.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"comercio":  m.Name,
		"productos": productViews(menu.Products),
		"toppings":  toppingViews(menu.Toppings),
	}})
}

// ListProducts handles GET /api/v1/dashboard/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	items, err := h.Service.Products(r.Context(), m.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, productViews(items))
}

// SaveProduct handles POST /api/v1/dashboard/products and PUT /api/v1/dashboard/products/{id}.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	var payload productPayload
	if err := common.DecodeJSON(r, h.Validator, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	id, status, action := pathID(r)
	p := Product{
		ID:              id,
		MerchantID:      m.ID,
		Name:            strings.TrimSpace(payload.Name),
		Description:     strings.TrimSpace(payload.Description),
		Category:        strings.TrimSpace(payload.Category),
		PriceRetail:     payload.PriceRetail,
		PriceWholesale:  payload.PriceWholesale,
		WholesaleMinQty: payload.WholesaleMinQty,
		ToppingIDs:      payload.ToppingIDs,
		Active:          payload.Active == nil || *payload.Active,
		Position:        payload.Position,
	}
	saved, err := h.Service.SaveProduct(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	h.Audit.Track(r.Context(), m.ID, "product."+action, "product", saved.ID, r, status, map[string]any{"name": saved.Name})
	common.Data(w, status, toProductView(saved))
}

// ListToppings handles GET /api/v1/dashboard/toppings.
func (h *Handler) ListToppings(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	items, err := h.Service.Toppings(r.Context(), m.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, toppingViews(items))
}

// SaveTopping handles POST /api/v1/dashboard/toppings and PUT /api/v1/dashboard/toppings/{id}.
func (h *Handler) SaveTopping(w http.ResponseWriter, r *http.Request) {
	m, _ := merchant.FromContext(r.Context())
	var payload toppingPayload
	if err := common.DecodeJSON(r, h.Validator, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	id, status, action := pathID(r)
	saved, err := h.Service.SaveTopping(r.Context(), Topping{
		ID:         id,
		MerchantID: m.ID,
		Name:       strings.TrimSpace(payload.Name),
		PriceExtra: payload.PriceExtra,
		Active:     payload.Active == nil || *payload.Active,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.Audit.Track(r.Context(), m.ID, "topping."+action, "topping", saved.ID, r, status, map[string]any{"name": saved.Name})
	common.Data(w, status, toToppingView(saved))
}

// pathID returns the id to upsert: the route id on update, a fresh one on create.
func pathID(r *http.Request) (id string, status int, action string) {
	if id = strings.TrimSpace(chi.URLParam(r, "id")); id != "" {
		return id, http.StatusOK, "update"
	}
	return uuid.NewString(), http.StatusCreated, "create"
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidProduct):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_PRODUCT", err.Error(), nil)
	case errors.Is(err, ErrUnknownProduct):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_PRODUCT", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
	default:
		common.WriteError(w, err)
	}
}

func productViews(items []Product) []productView {
	out := make([]productView, 0, len(items))
	for _, p := range items {
		out = append(out, toProductView(p))
	}
	return out
}

func toProductView(p Product) productView {
	v := productView{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Category:        p.Category,
		PriceRetail:     pricing.Number(p.PriceRetail),
		WholesaleMinQty: p.WholesaleMinQty,
		ToppingIDs:      p.ToppingIDs,
		Active:          p.Active,
		Position:        p.Position,
	}
	if v.ToppingIDs == nil {
		v.ToppingIDs = []string{}
	}
	if p.PriceWholesale != nil {
		v.PriceWholesale = pricing.Number(*p.PriceWholesale)
	}
	return v
}

func toppingViews(items []Topping) []toppingView {
	out := make([]toppingView, 0, len(items))
	for _, t := range items {
		out = append(out, toToppingView(t))
	}
	return out
}

func toToppingView(t Topping) toppingView {
	return toppingView{ID: t.ID, Name: t.Name, PriceExtra: pricing.Number(t.PriceExtra), Active: t.Active}
}
