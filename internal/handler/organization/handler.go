package organization

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/handler"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/service/organization"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

type Handler struct {
	service organization.OrganizationServicer
}

func NewHandler(service organization.OrganizationServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/orgs", h.ListOrganizations)
	orgs := r.Group("/org")
	{
		orgs.POST("", h.CreateOrganization)
		orgs.GET("/:id", h.GetOrganization)
		orgs.PUT("/:id", h.UpdateOrganization)
		orgs.DELETE("/:id", h.DeleteOrganization)
		orgs.POST("/:id/members", h.AddMember)
		orgs.DELETE("/:id/members", h.RemoveMember)
	}
}

func (h *Handler) CreateOrganization(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var org model.Organization
	if !handler.BindJSON(c, &org) {
		return
	}
	if err := h.service.Create(c.Request.Context(), caller, &org); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, org)
}

func (h *Handler) GetOrganization(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	org, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, org)
}

func (h *Handler) UpdateOrganization(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	var org model.Organization
	if !handler.BindJSON(c, &org) {
		return
	}
	org.ID = id
	if err := h.service.Update(c.Request.Context(), caller, &org); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, org)
}

func (h *Handler) DeleteOrganization(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), caller, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) ListOrganizations(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	orgs, err := h.service.List(c.Request.Context(), caller)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, orgs)
}

func (h *Handler) membership(c *gin.Context) (*model.Caller, model.Membership, bool) {
	var m model.Membership
	caller, ok := handler.Caller(c)
	if !ok {
		return nil, m, false
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return nil, m, false
	}
	if !handler.BindJSON(c, &m) {
		return nil, m, false
	}
	m.OrgID = id
	return caller, m, true
}

func (h *Handler) AddMember(c *gin.Context) {
	caller, m, ok := h.membership(c)
	if !ok {
		return
	}
	if err := h.service.AddMember(c.Request.Context(), caller, m); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, m)
}

func (h *Handler) RemoveMember(c *gin.Context) {
	caller, m, ok := h.membership(c)
	if !ok {
		return
	}
	if err := h.service.RemoveMember(c.Request.Context(), caller, m); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}
