package billing

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/handler"
	"github.com/jwalitptl/caregem-api/internal/service/clinical"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

type Handler struct {
	service clinical.ClinicalServicer
}

func NewHandler(service clinical.ClinicalServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/billing/log", h.Log)
}

// Log lists approved charges of org_id (the caller's org by default) with
// service dates in [from, to).
func (h *Handler) Log(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	org, ok := handler.QueryID(c, "org_id")
	if !ok {
		return
	}
	from, ok := handler.QueryTime(c, "from")
	if !ok {
		return
	}
	to, ok := handler.QueryTime(c, "to")
	if !ok {
		return
	}
	rows, err := h.service.BillingLog(c.Request.Context(), caller, org, from, to)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rows)
}
