package user

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/handler"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/service/identity"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

type Handler struct {
	service identity.IdentityServicer
}

func NewHandler(service identity.IdentityServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.POST("", h.Provision)
		users.PUT("/:kind/:id/profile", h.UpdateProfile)
		users.GET("/:kind/:id/history", h.History)
		users.POST("/:kind/:id/archive", h.Archive)
		users.POST("/:kind/:id/restore", h.Restore)
		users.DELETE("/:kind/:id", h.Purge)
	}
}

// target reads the caller and the :kind/:id path of a user route.
func target(c *gin.Context) (*model.Caller, model.UserKind, int64, bool) {
	caller, ok := handler.Caller(c)
	if !ok {
		return nil, 0, 0, false
	}
	kind, ok := handler.Kind(c, "kind")
	if !ok {
		return nil, 0, 0, false
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return nil, 0, 0, false
	}
	return caller, kind, id, true
}

func (h *Handler) Provision(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.NewUserRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	rec, err := h.service.Provision(c.Request.Context(), caller, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, rec)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	caller, kind, id, ok := target(c)
	if !ok {
		return
	}
	var update model.PHI
	if !handler.BindJSON(c, &update) {
		return
	}
	phi, err := h.service.UpdateProfile(c.Request.Context(), caller, kind, id, &update)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, phi)
}

func (h *Handler) History(c *gin.Context) {
	caller, kind, id, ok := target(c)
	if !ok {
		return
	}
	history, err := h.service.History(c.Request.Context(), caller, kind, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, history)
}

func (h *Handler) Archive(c *gin.Context) {
	caller, kind, id, ok := target(c)
	if !ok {
		return
	}
	if err := h.service.Archive(c.Request.Context(), caller, kind, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) Restore(c *gin.Context) {
	caller, kind, id, ok := target(c)
	if !ok {
		return
	}
	var req model.RestoreRequest
	if c.Request.ContentLength != 0 && !handler.BindJSON(c, &req) {
		return
	}
	if req.OrgID == 0 {
		req.OrgID = caller.OrgID
	}
	if req.OrgID == 0 {
		httputil.RespondWithError(c, errors.BadRequest("org_id is required", nil))
		return
	}
	if err := h.service.Restore(c.Request.Context(), caller, kind, id, req.OrgID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) Purge(c *gin.Context) {
	caller, kind, id, ok := target(c)
	if !ok {
		return
	}
	if err := h.service.Purge(c.Request.Context(), caller, kind, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}
