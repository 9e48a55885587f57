package network

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/handler"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/service/network"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

type Handler struct {
	service network.NetworkServicer
}

func NewHandler(service network.NetworkServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	nw := r.Group("/network")
	{
		nw.GET("/provider/:id", h.carerEdges(model.KindProvider))
		nw.GET("/caregiver/:id", h.carerEdges(model.KindCaregiver))
		nw.PUT("/provider/:id", h.replace(model.KindProvider))
		nw.PUT("/caregiver/:id", h.replace(model.KindCaregiver))
		nw.POST("/edge", h.AddEdge)
		nw.DELETE("/edge", h.RemoveEdge)
		nw.PUT("/edge/alert_receiver", h.SetEdgeAlertReceiver)
		nw.GET("/common/:a/:b", h.CoPatients)
	}
	r.PUT("/provider/:id/alert_receiver", h.SetProviderAlertReceiver)
}

func (h *Handler) carerEdges(kind model.UserKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := handler.Caller(c)
		if !ok {
			return
		}
		id, ok := handler.ID(c, "id")
		if !ok {
			return
		}
		edges, err := h.service.EdgesOfCarer(c.Request.Context(), caller, kind, id)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, edges)
	}
}

// replace sets the carer's patients within one org to exactly the listed
// users.
func (h *Handler) replace(kind model.UserKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := handler.Caller(c)
		if !ok {
			return
		}
		id, ok := handler.ID(c, "id")
		if !ok {
			return
		}
		var req model.ReplaceNetworkRequest
		if !handler.BindJSON(c, &req) {
			return
		}
		desired := make([]int64, 0, len(req.Users))
		for _, u := range req.Users {
			desired = append(desired, u.ID)
		}
		diff, err := h.service.ReplaceCarerNetwork(c.Request.Context(), caller, kind, id, req.OrgID, desired)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, diff)
	}
}

func (h *Handler) AddEdge(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.EdgeRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if err := h.service.AddEdge(c.Request.Context(), caller, req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, req)
}

func (h *Handler) RemoveEdge(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.EdgeRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if err := h.service.RemoveEdge(c.Request.Context(), caller, req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) CoPatients(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	a, ok := handler.ID(c, "a")
	if !ok {
		return
	}
	b, ok := handler.ID(c, "b")
	if !ok {
		return
	}
	ids, err := h.service.CoPatients(c.Request.Context(), caller, a, b)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ids)
}

func (h *Handler) SetProviderAlertReceiver(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	var req model.AlertReceiverRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if err := h.service.SetProviderAlertReceiver(c.Request.Context(), caller, id, *req.Status == 1); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"provider_id": id, "alert_receiver": *req.Status})
}

func (h *Handler) SetEdgeAlertReceiver(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.EdgeAlertReceiverRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if err := h.service.SetEdgeAlertReceiver(c.Request.Context(), caller, req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, req)
}
