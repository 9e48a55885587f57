package chat

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/handler"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/service/chat"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

type Handler struct {
	service chat.ChatServicer
}

func NewHandler(service chat.ChatServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	channels := r.Group("/chat/:id")
	{
		channels.POST("/messages", h.Send)
		channels.GET("/messages", h.List)
	}
}

func (h *Handler) Send(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	var req model.SendMessageRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	msg, err := h.service.Send(c.Request.Context(), caller, id, req.Content)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, msg)
}

func (h *Handler) List(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ID(c, "id")
	if !ok {
		return
	}
	page, ok := handler.Page(c)
	if !ok {
		return
	}
	msgs, err := h.service.List(c.Request.Context(), caller, id, page)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, msgs)
}
