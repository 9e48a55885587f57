package device

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/handler"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/service/device"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

type Handler struct {
	service device.DeviceServicer
}

func NewHandler(service device.DeviceServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	devices := r.Group("/device")
	{
		devices.POST("/pair/:patient_id", h.Pair)
		devices.POST("/unpair/:patient_id", h.Unpair)
		devices.GET("/:imei/user", h.PairedUser)
	}
}

func (h *Handler) Pair(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	patientID, ok := handler.ID(c, "patient_id")
	if !ok {
		return
	}
	var req model.PairRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	pairing, err := h.service.Pair(c.Request.Context(), caller, patientID, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, pairing)
}

func (h *Handler) Unpair(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	patientID, ok := handler.ID(c, "patient_id")
	if !ok {
		return
	}
	var req model.UnpairRequest
	if c.Request.ContentLength != 0 && !handler.BindJSON(c, &req) {
		return
	}
	if err := h.service.Unpair(c.Request.Context(), caller, patientID, req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) PairedUser(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	user, err := h.service.PairedUser(c.Request.Context(), caller, c.Param("imei"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, user)
}
