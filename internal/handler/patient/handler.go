package patient

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/handler"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/service/call"
	"github.com/jwalitptl/caregem-api/internal/service/clinical"
	"github.com/jwalitptl/caregem-api/internal/service/device"
	"github.com/jwalitptl/caregem-api/internal/service/network"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

// Handler serves the per-patient clinical routes. Every route is gated by
// the access policy inside the services.
type Handler struct {
	clinical clinical.ClinicalServicer
	network  network.NetworkServicer
	devices  device.DeviceServicer
	calls    call.CallServicer
}

func NewHandler(clinical clinical.ClinicalServicer, network network.NetworkServicer, devices device.DeviceServicer, calls call.CallServicer) *Handler {
	return &Handler{
		clinical: clinical,
		network:  network,
		devices:  devices,
		calls:    calls,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patient/:id")
	{
		patients.GET("/lab_data", h.LabData)
		patients.GET("/symptoms", h.Symptoms)
		patients.GET("/diagnosis", h.Diagnoses)
		patients.POST("/diagnosis", h.AddDiagnosis)
		patients.GET("/network", h.Network)
		patients.GET("/devices", h.Devices)
		patients.GET("/calls", h.ListCalls)
		patients.POST("/calls", h.StartCall)
	}
	r.PUT("/calls/:call_id", h.UpdateCall)
}

func (h *Handler) LabData(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	rows, err := h.clinical.LabData(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rows)
}

func (h *Handler) Symptoms(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	rows, err := h.clinical.Symptoms(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rows)
}

func (h *Handler) Diagnoses(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	rows, err := h.clinical.Diagnoses(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rows)
}

func (h *Handler) AddDiagnosis(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	var req model.DiagnosisRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	rows, err := h.clinical.AddDiagnosis(c.Request.Context(), caller, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, rows)
}

func (h *Handler) Network(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	edges, err := h.network.EdgesOfPatient(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, edges)
}

func (h *Handler) Devices(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	rows, err := h.devices.History(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rows)
}

func (h *Handler) ListCalls(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	calls, err := h.calls.List(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, calls)
}

func (h *Handler) StartCall(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	var req model.StartCallRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	rec, err := h.calls.Start(c.Request.Context(), caller, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, rec)
}

func (h *Handler) UpdateCall(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "call_id")
	if !ok {
		return
	}
	var req model.UpdateCallRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	rec, err := h.calls.Update(c.Request.Context(), caller, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rec)
}
