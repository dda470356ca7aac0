package merchant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/obs"
)

type contextKey string

const merchantContextKey contextKey = "merchant"

// Resolver loads the merchant a request belongs to and stores it in the context.
type Resolver struct {
	Q Querier
	// Param is the chi URL parameter holding the storefront slug.
	Param  string
	Logger zerolog.Logger
}

// NewResolver returns a resolver reading the slug from param ("merchant" when empty).
func NewResolver(q Querier, param string, logger zerolog.Logger) *Resolver {
	if param == "" {
		param = "merchant"
	}
	return &Resolver{Q: q, Param: param, Logger: logger}
}

// BySlug resolves the merchant from the storefront slug in the route.
func (r *Resolver) BySlug(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		slug := NormalizeSlug(chi.URLParam(req, r.param()))
		if slug == "" {
			common.JSONError(w, http.StatusNotFound, "MERCHANT_NOT_FOUND", "merchant not found", nil)
			return
		}
		m, err := r.Q.GetMerchantBySlug(req.Context(), slug)
		r.serve(w, req, next, m, err)
	})
}

// ByAccount resolves the merchant from the authenticated dashboard session.
func (r *Resolver) ByAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, ok := common.MerchantID(req.Context())
		if !ok {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
			return
		}
		m, err := r.Q.GetMerchantByID(req.Context(), id)
		r.serve(w, req, next, m, err)
	})
}

func (r *Resolver) serve(w http.ResponseWriter, req *http.Request, next http.Handler, m Merchant, err error) {
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "MERCHANT_NOT_FOUND", "merchant not found", nil)
			return
		}
		r.Logger.Error().Err(err).Msg("merchant lookup failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load merchant", nil)
		return
	}
	if !m.Active {
		common.JSONError(w, http.StatusNotFound, "MERCHANT_NOT_FOUND", "merchant not found", nil)
		return
	}
	obs.TagMerchant(req.Context(), m.ID, m.Slug)
	next.ServeHTTP(w, req.WithContext(WithMerchant(req.Context(), m)))
}

func (r *Resolver) param() string {
	if p := strings.TrimSpace(r.Param); p != "" {
		return p
	}
	return "merchant"
}

// WithMerchant stores the merchant inside the context.
func WithMerchant(ctx context.Context, m Merchant) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, merchantContextKey, m)
}

// FromContext extracts the merchant resolved for the request.
func FromContext(ctx context.Context) (Merchant, bool) {
	if ctx == nil {
		return Merchant{}, false
	}
	m, ok := ctx.Value(merchantContextKey).(Merchant)
	if !ok || m.ID == "" {
		return Merchant{}, false
	}
	return m, true
}
