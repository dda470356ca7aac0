package auth

import (
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pedilo-api/internal/common"
)

// Handler exposes the dashboard login endpoint.
type Handler struct {
	Service   *Service
	Validator *validator.Validate
	Logger    zerolog.Logger
}

type loginRequest struct {
	Slug     string `json:"slug" validate:"required,max=80"`
	Password string `json:"password" validate:"required,max=200"`
}

// Login handles POST /api/v1/dashboard/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := common.DecodeJSON(r, h.Validator, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.Service.Login(r.Context(), req.Slug, req.Password)
	if err != nil {
		if !common.IsAppError(err) {
			h.Logger.Error().Err(err).Msg("dashboard login failed")
		}
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, result)
}
