package audit

import (
	"math"
	"net/http"

	"github.com/noah-isme/pedilo-api/internal/common"
)

// Handler exposes the audit trail of the signed-in merchant.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/dashboard/audit.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	merchantID, ok := common.MerchantID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	limit := common.QueryInt(r, "limit", 50, 1, 200)
	offset := common.QueryInt(r, "offset", 0, 0, math.MaxInt32)

	rows, err := h.Store.ListAuditLogs(r.Context(), merchantID, limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	if rows == nil {
		rows = []Entry{}
	}
	common.Data(w, http.StatusOK, rows)
}
