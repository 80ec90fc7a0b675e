package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/models"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/service"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/web"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(s *service.Service) *Handler {
	return &Handler{
		Service: s,
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	resp := models.NewMessage(models.MsgHealthCheck).With("payload", h.Service.Health())
	c.JSON(http.StatusOK, resp)
}

// PairedDevices lists the host's paired devices without starting an
// inquiry.
func (h *Handler) PairedDevices(c *gin.Context) {
	peers, err := h.Service.PairedDevices(c.Request.Context())
	switch {
	case errors.Is(err, transport.ErrUnsupported):
		c.JSON(http.StatusNotImplemented, models.Error(err))
	case err != nil:
		c.JSON(http.StatusBadGateway, models.Error(err))
	default:
		c.JSON(http.StatusOK, models.NewMessage(models.MsgPaired).With("payload", peers))
	}
}

func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.Index())
}

func (h *Handler) LibJS(c *gin.Context) {
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", web.LibJS())
}
