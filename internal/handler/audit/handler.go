package audit

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/handler"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

type Lister interface {
	ListFor(ctx context.Context, caller *model.Caller, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

type Handler struct {
	service Lister
}

func NewHandler(service Lister) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit", h.ListLogs)
}

// ListLogs filters by actor_id, target_id, action, org and an RFC3339
// from/to window, newest first.
func (h *Handler) ListLogs(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	page, ok := handler.Page(c)
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

	filter := model.AuditFilter{
		ActorID:    c.Query("actor_id"),
		ActorOrg:   org,
		TargetID:   c.Query("target_id"),
		Action:     c.Query("action"),
		From:       from,
		To:         to,
		Pagination: page,
	}
	entries, err := h.service.ListFor(c.Request.Context(), caller, filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	httputil.RespondWithSuccess(c, entries)
}
